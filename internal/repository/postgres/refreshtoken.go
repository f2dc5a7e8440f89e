package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: Save refresh token
INSERT INTO refresh_tokens (id, user_id, family_id, token, created_at, expires_at, is_valid)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, user_id, family_id, token, created_at, expires_at, is_valid`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken,
		token.ID, token.UserID, token.FamilyID, token.Token, token.CreatedAt, token.ExpiresAt, token.IsValid)
	saved, err := pgx.CollectOneRow(rows, rowToToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getToken = `-- name: Get token by the opaque value itself
SELECT id, user_id, family_id, token, created_at, expires_at, is_valid
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It should return the record even if it is invalid or expired already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenValue string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenValue)
	token, err := pgx.CollectOneRow(rows, rowToToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const invalidateToken = `-- name: Invalidate single token
UPDATE refresh_tokens
SET is_valid = false
WHERE token = $1
`

// Invalidate single record
// Idempotent: invalidating an already invalid record is fine
func (r *RefreshTokenRepo) Invalidate(ctx context.Context, tokenValue string) error {
	tag, err := r.DB.Exec(ctx, invalidateToken, tokenValue)

	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return nil
	}
}

const invalidateFamily = `-- name: Burn the whole family
UPDATE refresh_tokens
SET is_valid = false
WHERE family_id = $1
`

// InvalidateFamily flips every record of the family
// Single statement, so the burn is visible atomically to concurrent readers
func (r *RefreshTokenRepo) InvalidateFamily(ctx context.Context, familyID string) error {
	_, err := r.DB.Exec(ctx, invalidateFamily, familyID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const invalidateValidToken = `-- name: Invalidate token if it is still valid
UPDATE refresh_tokens
SET is_valid = false
WHERE token = $1 AND is_valid
`

// Rotate invalidates the old record and saves the next one in one transaction.
// The CAS update is the commit point: out of two concurrent rotations of the
// same token exactly one sees the valid row, the other gets ErrRefreshTokenIsUsed.
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldTokenValue string, next models.RefreshToken) (models.RefreshToken, error) {
	var saved models.RefreshToken

	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return saved, fmt.Errorf("db tx error: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	inTx := RefreshTokenRepo{DB: tx}

	tag, err := tx.Exec(ctx, invalidateValidToken, oldTokenValue)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the record is missing or someone rotated it already
		_, err := inTx.Get(ctx, oldTokenValue)
		if err != nil {
			return saved, err
		}
		return saved, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenIsUsed)
	}

	saved, err = inTx.Save(ctx, next)
	if err != nil {
		return saved, err
	}

	if err := tx.Commit(ctx); err != nil {
		return saved, fmt.Errorf("db tx error: %w", err)
	}

	return saved, nil
}

func rowToToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.IsValid)
	return t, err
}
