package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engagement-scraper/internal/utils"
	"engagement-scraper/pkg/types"
)

// CookieStatus tells callers whether a usable session token is stored.
type CookieStatus struct {
	HasCookies bool       `json:"hasCookies"`
	OwnerLabel string     `json:"cookieName,omitempty"`
	LastUsedAt *time.Time `json:"lastUpdated,omitempty"`
	Message    string     `json:"message"`
}

// GetActiveSession returns the most recently updated active token.
func (db *DB) GetActiveSession(ctx context.Context) (*types.Session, error) {
	query := db.rebind(`
		SELECT id, owner_label, token, is_active, last_used_at
		FROM sessions
		WHERE is_active = ?
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`)

	s := &types.Session{}
	var lastUsed sql.NullTime
	err := db.conn.QueryRowContext(ctx, query, true).Scan(&s.ID, &s.OwnerLabel, &s.Token, &s.IsActive, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no active session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	if lastUsed.Valid {
		s.LastUsedAt = lastUsed.Time
	}
	return s, nil
}

// SaveSession stores token for owner, replacing any previous token of that
// owner, and makes it the active one.
func (db *DB) SaveSession(ctx context.Context, owner, token string) (int64, error) {
	now := db.timestamp()
	query := db.rebind(`
		INSERT INTO sessions (owner_label, token, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_label) DO UPDATE SET
			token = EXCLUDED.token,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
		RETURNING id`)

	var id int64
	if err := db.conn.QueryRowContext(ctx, query, owner, token, true, now, now).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to save session: %w", err)
	}
	db.logger.Infof("Saved session token for %s", owner)
	return id, nil
}

// TouchSession stamps a session as just used.
func (db *DB) TouchSession(ctx context.Context, id int64) error {
	now := db.timestamp()
	res, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE sessions SET last_used_at = ?, updated_at = ? WHERE id = ?`), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return expectRow(res, id)
}

// DeactivateSession retires a token the site rejected.
func (db *DB) DeactivateSession(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, db.rebind(`UPDATE sessions SET is_active = ?, updated_at = ? WHERE id = ?`), false, db.timestamp(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate session: %w", err)
	}
	if err := expectRow(res, id); err != nil {
		return err
	}
	db.logger.Warnf("Deactivated session %d", id)
	return nil
}

func (db *DB) CookieStatus(ctx context.Context) (CookieStatus, error) {
	s, err := db.GetActiveSession(ctx)
	if errors.Is(err, ErrNotFound) {
		return CookieStatus{
			Message: "No LinkedIn cookies found in database. Please save an li_at session token first.",
		}, nil
	}
	if err != nil {
		return CookieStatus{}, err
	}

	status := CookieStatus{HasCookies: true, OwnerLabel: s.OwnerLabel}
	if s.LastUsedAt.IsZero() {
		status.Message = fmt.Sprintf("Using cookies from %s (never used)", s.OwnerLabel)
		return status, nil
	}
	lastUsed := s.LastUsedAt
	status.LastUsedAt = &lastUsed
	status.Message = fmt.Sprintf("Using cookies from %s (last used %d hours ago)",
		s.OwnerLabel, utils.HoursSince(lastUsed, db.now()))
	return status, nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return nil
}
