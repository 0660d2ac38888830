package repository

import (
	"context"
	"database/sql"
	"time"
)

// TokenRepo persists/validates refresh tokens (single 'token_hash' column).
// Timestamps are written as UTC text so expiry comparisons happen in SQL
// identically on both engines.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO TokensRefresco (id_usuario, token_hash, expira_en) VALUES (?,?,?)",
		userID, tokenHash, exp.UTC().Format(sqlTimestamp))
	return err
}

// ValidateRefresh returns userID if a non-revoked, non-expired token
// exists, and sql.ErrNoRows otherwise.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	var userID uint64
	err := r.DB.QueryRowContext(ctx,
		`SELECT id_usuario FROM TokensRefresco
		 WHERE token_hash = ? AND revocado_en IS NULL AND expira_en > ? LIMIT 1`,
		tokenHash, nowText()).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// ConsumeRefresh revokes a live token and returns its owner.  The check and
// the revoke are one conditional UPDATE, so of two refreshes racing with
// the same token only one gets a row; the other sees sql.ErrNoRows.
func (r *TokenRepo) ConsumeRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	now := nowText()
	res, err := r.DB.ExecContext(ctx,
		`UPDATE TokensRefresco SET revocado_en = ?
		 WHERE token_hash = ? AND revocado_en IS NULL AND expira_en > ?`,
		now, tokenHash, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, sql.ErrNoRows
	}
	var userID uint64
	err = r.DB.QueryRowContext(ctx,
		`SELECT id_usuario FROM TokensRefresco WHERE token_hash = ? LIMIT 1`, tokenHash).Scan(&userID)
	return userID, err
}

// RevokeByHash marks a token as revoked.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE TokensRefresco SET revocado_en = ? WHERE token_hash = ? AND revocado_en IS NULL",
		nowText(), tokenHash)
	return err
}

// RevokeAllForUser revokes all user's active tokens.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE TokensRefresco SET revocado_en = ? WHERE id_usuario = ? AND revocado_en IS NULL",
		nowText(), userID)
	return err
}

func nowText() string { return time.Now().UTC().Format(sqlTimestamp) }
