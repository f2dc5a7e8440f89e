package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pkalinin/tokengate/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, user models.User) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// RefreshToken repository interface
// Records are audit data: implementations must never delete them, only flip IsValid
type RefreshTokenRepo interface {
	// Save new token record
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Get record by the opaque token value
	// Must return the record even if it is invalid or expired
	// If there is no such record must return apperrors.ErrRefreshTokenNotFound
	Get(ctx context.Context, tokenValue string) (models.RefreshToken, error)

	// Invalidate flips a single record to IsValid=false
	// Invalidating an already invalid record is not an error
	// If there is no such record must return apperrors.ErrRefreshTokenNotFound
	Invalidate(ctx context.Context, tokenValue string) error

	// InvalidateFamily flips every record of the family as one atomic update
	// A concurrent reader must never observe a partially burned family
	InvalidateFamily(ctx context.Context, familyID string) error

	// Rotate atomically invalidates the old record and saves the next one.
	// The invalidation is a compare-and-swap on IsValid: if the old record is
	// already invalid Rotate must return apperrors.ErrRefreshTokenIsUsed without
	// saving anything. Two concurrent Rotate calls with the same old token can
	// never both succeed.
	// If the old record is missing must return apperrors.ErrRefreshTokenNotFound
	Rotate(ctx context.Context, oldTokenValue string, next models.RefreshToken) (models.RefreshToken, error)
}
