// Package postgres provides PostgreSQL storage for presence sessions and
// the account directory lookups behind liveness views.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/activitydesk/presence/pkg/presence"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"tab_id", "user_id", "role", "created_at", "last_activity_at",
}

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations, raised by the loser of a concurrent insert for the same tab.
const uniqueViolation = "23505"

// Store implements presence.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new PostgreSQL session store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert creates or refreshes the record for rec.TabID. It updates first and
// inserts only when no row matched, so two concurrent creators can both reach
// the insert; the loser's unique violation maps to presence.ErrTabExists for
// the tracker to resolve by re-read.
func (s *Store) Upsert(ctx context.Context, rec *presence.SessionRecord) (*presence.SessionRecord, error) {
	updated, err := s.refresh(ctx, rec)
	if err != nil {
		return nil, err
	}
	if updated != nil {
		return updated, nil
	}

	inserted, err := s.insert(ctx, rec)
	if isUniqueViolation(err) {
		return nil, presence.ErrTabExists
	}
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// refresh updates the existing row for rec.TabID, keeping the stored role
// when the new one is empty. Returns nil, nil when no row matched.
func (s *Store) refresh(ctx context.Context, rec *presence.SessionRecord) (*presence.SessionRecord, error) {
	query := `
		UPDATE sessions
		SET user_id = $2,
		    role = COALESCE(NULLIF($3, ''), role),
		    last_activity_at = NOW()
		WHERE tab_id = $1
		RETURNING tab_id, user_id, role, created_at, last_activity_at
	`
	row := s.db.QueryRowContext(ctx, query, rec.TabID, rec.UserID, rec.Role)
	out, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("refreshing session: %w", err)
	}
	return out, nil
}

func (s *Store) insert(ctx context.Context, rec *presence.SessionRecord) (*presence.SessionRecord, error) {
	query := `
		INSERT INTO sessions (tab_id, user_id, role, created_at, last_activity_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING tab_id, user_id, role, created_at, last_activity_at
	`
	row := s.db.QueryRowContext(ctx, query, rec.TabID, rec.UserID, rec.Role)
	out, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return out, nil
}

// GetByTab retrieves the record for tabID. Returns nil, nil if not found.
func (s *Store) GetByTab(ctx context.Context, tabID string) (*presence.SessionRecord, error) {
	query := `
		SELECT tab_id, user_id, role, created_at, last_activity_at
		FROM sessions
		WHERE tab_id = $1
	`
	row := s.db.QueryRowContext(ctx, query, tabID)
	out, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return out, nil
}

// Touch bumps LastActivityAt for tabID. Returns false if no row matched.
func (s *Store) Touch(ctx context.Context, tabID string) (bool, error) {
	query := `UPDATE sessions SET last_activity_at = NOW() WHERE tab_id = $1`
	res, err := s.db.ExecContext(ctx, query, tabID)
	if err != nil {
		return false, fmt.Errorf("touching session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading touch result: %w", err)
	}
	return n > 0, nil
}

// Delete removes the record for tabID. Returns false if it was already gone.
func (s *Store) Delete(ctx context.Context, tabID string) (bool, error) {
	query := `DELETE FROM sessions WHERE tab_id = $1`
	res, err := s.db.ExecContext(ctx, query, tabID)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading delete result: %w", err)
	}
	return n > 0, nil
}

// ListActive returns userID's records with last_activity_at >= since,
// newest first.
func (s *Store) ListActive(ctx context.Context, userID string, since time.Time) ([]*presence.SessionRecord, error) {
	return s.listSince(ctx, userID, since)
}

// ListAllActive returns every record with last_activity_at >= since,
// newest first.
func (s *Store) ListAllActive(ctx context.Context, since time.Time) ([]*presence.SessionRecord, error) {
	return s.listSince(ctx, "", since)
}

func (s *Store) listSince(ctx context.Context, userID string, since time.Time) ([]*presence.SessionRecord, error) {
	qb := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.GtOrEq{"last_activity_at": since}).
		OrderBy("last_activity_at DESC")
	if userID != "" {
		qb = qb.Where(sq.Eq{"user_id": userID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*presence.SessionRecord
	for rows.Next() {
		rec, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// DeleteOlderThan removes records with last_activity_at < cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := psq.Delete("sessions").
		Where(sq.Lt{"last_activity_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building sweep query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting stale sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading sweep result: %w", err)
	}
	return n, nil
}

// scanSession scans a single row into a SessionRecord. Returns nil, nil for
// sql.ErrNoRows.
func scanSession(row *sql.Row) (*presence.SessionRecord, error) {
	var rec presence.SessionRecord
	err := row.Scan(&rec.TabID, &rec.UserID, &rec.Role, &rec.CreatedAt, &rec.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Store interface specifies nil,nil for not-found
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// scanSessionRow scans a row from sql.Rows into a SessionRecord.
func scanSessionRow(rows *sql.Rows) (*presence.SessionRecord, error) {
	var rec presence.SessionRecord
	err := rows.Scan(&rec.TabID, &rec.UserID, &rec.Role, &rec.CreatedAt, &rec.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("scanning session row: %w", err)
	}
	return &rec, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Directory implements presence.AccountDirectory using PostgreSQL.
type Directory struct {
	db *sql.DB
}

// NewDirectory creates a new PostgreSQL account directory.
func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Lookup returns the account for userID. Returns nil, nil if not found.
func (d *Directory) Lookup(ctx context.Context, userID string) (*presence.Account, error) {
	query := `
		SELECT id, username, COALESCE(member_code, ''), status, last_login_at
		FROM accounts
		WHERE id = $1
	`
	var acct presence.Account
	var lastLogin sql.NullTime
	err := d.db.QueryRowContext(ctx, query, userID).
		Scan(&acct.ID, &acct.Username, &acct.MemberCode, &acct.Status, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // AccountDirectory specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		acct.LastLoginAt = &t
	}
	return &acct, nil
}

// Verify interface compliance.
var (
	_ presence.Store            = (*Store)(nil)
	_ presence.AccountDirectory = (*Directory)(nil)
)
