package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/logger"
	"github.com/pkalinin/tokengate/internal/metrics"
	"github.com/pkalinin/tokengate/internal/models"
	"github.com/pkalinin/tokengate/internal/repository"
)

// Coordinator runs the refresh/rotate/fraud-check protocol.
//
// Every rejection comes back as the bare apperrors.ErrRefreshFailed: the
// caller never learns whether the token was unknown, expired or reused.
// The real reason goes to the log and the metrics only.
type Coordinator struct {
	issuer      *Issuer
	userRepo    repository.UserRepo
	refreshRepo repository.RefreshTokenRepo
	logger      logger.Logger
}

func NewCoordinator(issuer *Issuer, userRepo repository.UserRepo, refreshRepo repository.RefreshTokenRepo, l logger.Logger) (*Coordinator, error) {
	if issuer == nil || userRepo == nil || refreshRepo == nil {
		return nil, errors.New("issuer and repos must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Coordinator{
		issuer:      issuer,
		userRepo:    userRepo,
		refreshRepo: refreshRepo,
		logger:      l,
	}, nil
}

// Refresh validates the presented pair and rotates the refresh token.
// Checks run in order, the first failing one decides the outcome.
func (c *Coordinator) Refresh(ctx context.Context, accessValue string, refreshValue string) (models.TokenPair, error) {
	var pair models.TokenPair

	// 1. Lookup. Unknown token: fail without touching anything
	record, err := c.refreshRepo.Get(ctx, refreshValue)
	if err != nil {
		return pair, c.reject("unknown_token", err)
	}

	// 2. Binding check. The access token may be expired here (it usually is),
	// but it must parse and it must name the same user and family as the
	// stored record. A mismatch is ambiguous tampering, not proven reuse:
	// only the presented record is invalidated.
	claims, err := DecodeClaims(accessValue)
	if err != nil || !boundToRecord(claims, record) {
		if invErr := c.refreshRepo.Invalidate(ctx, record.Token); invErr != nil {
			c.logger.Error("failed to invalidate refresh token", "error", invErr)
		}
		return pair, c.reject("binding_mismatch", err)
	}

	// 3. Reuse check. An invalid record presented again means the token was
	// rotated or revoked before: theft signal, the whole family is burned.
	if !record.IsValid {
		c.burnFamily(ctx, record.FamilyID)
		return pair, c.reject("reuse", nil)
	}

	// 4. Expiry check
	if record.ExpiresAt.Before(time.Now()) {
		if invErr := c.refreshRepo.Invalidate(ctx, record.Token); invErr != nil {
			c.logger.Error("failed to invalidate refresh token", "error", invErr)
		}
		return pair, c.reject("expired", nil)
	}

	// 5. Rotate. The store CAS inside Rotate is the commit point: a raced
	// concurrent refresh of the same token comes back ErrRefreshTokenIsUsed
	// and is handled exactly like reuse.
	next, err := c.issuer.NewRefreshToken(record.UserID, record.FamilyID)
	if err != nil {
		return pair, c.reject("internal", err)
	}

	saved, err := c.refreshRepo.Rotate(ctx, record.Token, next)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenIsUsed):
		c.burnFamily(ctx, record.FamilyID)
		return pair, c.reject("reuse", err)
	case err != nil:
		return pair, c.reject("internal", err)
	}

	user, err := c.userRepo.GetUserByID(ctx, record.UserID)
	if err != nil {
		return pair, c.reject("internal", err)
	}

	access, err := c.issuer.IssueAccessToken(ctx, user, record.FamilyID)
	if err != nil {
		return pair, c.reject("internal", err)
	}

	metrics.RefreshRotations.Inc()

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: saved.Token, ExpiresAt: saved.ExpiresAt},
	}, nil
}

// Revoke is the explicit logout path: same lookup and binding check as
// Refresh, then the whole family is burned. Unknown token or binding
// mismatch is a silent no-op, the session can't refresh either way.
func (c *Coordinator) Revoke(ctx context.Context, accessValue string, refreshValue string) error {
	record, err := c.refreshRepo.Get(ctx, refreshValue)
	if err != nil {
		return nil
	}

	claims, err := DecodeClaims(accessValue)
	if err != nil || !boundToRecord(claims, record) {
		return nil
	}

	if err := c.refreshRepo.InvalidateFamily(ctx, record.FamilyID); err != nil {
		return fmt.Errorf("error while revoking token family. Err: %w", err)
	}

	metrics.FamiliesBurned.Inc()
	return nil
}

func (c *Coordinator) burnFamily(ctx context.Context, familyID string) {
	if err := c.refreshRepo.InvalidateFamily(ctx, familyID); err != nil {
		c.logger.Error("failed to burn token family", "family_id", familyID, "error", err)
		return
	}
	metrics.FamiliesBurned.Inc()
}

func (c *Coordinator) reject(reason string, err error) error {
	c.logger.Warn("refresh rejected", "reason", reason, "error", err)
	metrics.RefreshRejections.WithLabelValues(reason).Inc()
	return apperrors.ErrRefreshFailed
}

// boundToRecord reports whether the decoded access token names the same
// user and family as the stored refresh record
func boundToRecord(claims *AccessTokenClaims, record models.RefreshToken) bool {
	userID, err := claims.UserID()
	if err != nil {
		return false
	}
	return userID == record.UserID && claims.FamilyID == record.FamilyID
}
