package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/models"
	"github.com/pkalinin/tokengate/internal/repository"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 24 * time.Hour
)

// RoleProvider resolves the ordered role list of a user.
// The issuer always takes the first role.
type RoleProvider interface {
	RolesOf(ctx context.Context, user models.User) ([]string, error)
}

// SingleRoleProvider returns the one role recorded at registration time.
// With a single role per user the "first role" ordering question never comes up.
type SingleRoleProvider struct{}

func (SingleRoleProvider) RolesOf(_ context.Context, user models.User) ([]string, error) {
	if user.Role == "" {
		return nil, nil
	}
	return []string{user.Role}, nil
}

// NewFamilyID mints the id of a new token family, one per continuous login
// session. Rotation keeps the family id, only login starts a new one.
func NewFamilyID() string {
	return uuid.NewString()
}

type IssuerConfig struct {
	// Access token codec settings, see CodecConfig
	SecretKey string
	Alg       string
	Issuer    string
	Audience  string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Role lookup, SingleRoleProvider if not set
	Roles RoleProvider
}

// Issuer mints access tokens and refresh token records
type Issuer struct {
	codec      Codec
	roles      RoleProvider
	accessTTL  time.Duration
	refreshTTL time.Duration

	refreshRepo repository.RefreshTokenRepo
}

func NewIssuer(cfg IssuerConfig, refreshRepo repository.RefreshTokenRepo) (*Issuer, error) {
	codec, err := NewCodec(CodecConfig{
		SecretKey: cfg.SecretKey,
		Alg:       cfg.Alg,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
	})
	if err != nil {
		return nil, err
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	roles := cfg.Roles
	if roles == nil {
		roles = SingleRoleProvider{}
	}

	return &Issuer{
		codec:       codec,
		roles:       roles,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		refreshRepo: refreshRepo,
	}, nil
}

// IssueAccessToken signs an access token bound to the family.
// The first resolved role goes to the claim set
func (i *Issuer) IssueAccessToken(ctx context.Context, user models.User, familyID string) (models.IssuedToken, error) {
	roles, err := i.roles.RolesOf(ctx, user)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while resolving roles. Err: %w", err)
	}
	if len(roles) == 0 {
		return models.IssuedToken{}, fmt.Errorf("user %s: %w", user.ID, apperrors.ErrNoRoleAssigned)
	}

	value, expiresAt, err := i.codec.Encode(user.ID, familyID, roles[0], user.Name, i.accessTTL)
	if err != nil {
		return models.IssuedToken{}, err
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

// NewRefreshToken builds an unsaved record with a fresh unguessable value.
// The rotation path saves it through RefreshTokenRepo.Rotate, everyone else
// wants IssueRefreshToken.
func (i *Issuer) NewRefreshToken(userID uuid.UUID, familyID string) (models.RefreshToken, error) {
	// Generate random refresh token 16 bytes length
	b := make([]byte, 16)
	_, err := rand.Read(b)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}

	now := time.Now().Truncate(time.Second)

	return models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		FamilyID:  familyID,
		Token:     hex.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(i.refreshTTL),
		IsValid:   true,
	}, nil
}

// IssueRefreshToken generates and persists a new refresh token record
func (i *Issuer) IssueRefreshToken(ctx context.Context, userID uuid.UUID, familyID string) (models.RefreshToken, error) {
	token, err := i.NewRefreshToken(userID, familyID)
	if err != nil {
		return token, err
	}

	saved, err := i.refreshRepo.Save(ctx, token)
	if err != nil {
		return saved, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return saved, nil
}

// IssuePair mints the access and refresh tokens for one family
func (i *Issuer) IssuePair(ctx context.Context, user models.User, familyID string) (models.TokenPair, error) {
	var pair models.TokenPair

	access, err := i.IssueAccessToken(ctx, user, familyID)
	if err != nil {
		return pair, err
	}

	refresh, err := i.IssueRefreshToken(ctx, user.ID, familyID)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh.Token, ExpiresAt: refresh.ExpiresAt},
	}, nil
}
