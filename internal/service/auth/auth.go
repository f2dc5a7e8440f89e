package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/pkalinin/tokengate/internal/apperrors"
	"github.com/pkalinin/tokengate/internal/logger"
	"github.com/pkalinin/tokengate/internal/metrics"
	"github.com/pkalinin/tokengate/internal/models"
	"github.com/pkalinin/tokengate/internal/repository"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type Config struct {
	// Hasher to use during user registration or login
	// DefaultHasher if not set
	Hasher PasswordHasher
}

// AuthService ties issuance, refresh coordination and revocation together
// behind the operations the handlers need
type AuthService struct {
	hasher      PasswordHasher
	issuer      *Issuer
	coordinator *Coordinator
	userRepo    repository.UserRepo
	logger      logger.Logger
}

func NewService(cfg Config, issuer *Issuer, coordinator *Coordinator, userRepo repository.UserRepo, l logger.Logger) (*AuthService, error) {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}
	if issuer == nil || coordinator == nil || userRepo == nil {
		return nil, errors.New("issuer, coordinator and user repo must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &AuthService{
		hasher:      hasher,
		issuer:      issuer,
		coordinator: coordinator,
		userRepo:    userRepo,
		logger:      l,
	}, nil
}

// Register creates the user record. It does not log the user in:
// the client is expected to call Login next.
func (s *AuthService) Register(ctx context.Context, username string, password string, name string, role string) (models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	user, err := s.userRepo.CreateUser(ctx, models.User{
		Username:       username,
		Name:           name,
		Role:           role,
		HashedPassword: hash,
	})
	if err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Login verifies the credentials and starts a new token family.
// Unknown user and wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, username string, password string) (models.TokenPair, error) {
	var pair models.TokenPair

	user, err := s.userRepo.GetUserByUsername(ctx, username)
	if err != nil {
		// Equalize timing with the wrong-password branch
		_ = s.hasher.Compare(dummyHash, password)
		return pair, apperrors.ErrInvalidCredentials
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return pair, apperrors.ErrInvalidCredentials
	}

	pair, err = s.issuer.IssuePair(ctx, user, NewFamilyID())
	if err != nil {
		return pair, fmt.Errorf("token could not be generated, sorry. %w", err)
	}

	metrics.Logins.Inc()
	return pair, nil
}

// Refresh rotates the presented pair, see Coordinator.Refresh
func (s *AuthService) Refresh(ctx context.Context, accessValue string, refreshValue string) (models.TokenPair, error) {
	return s.coordinator.Refresh(ctx, accessValue, refreshValue)
}

// Revoke burns the whole token family, see Coordinator.Revoke
func (s *AuthService) Revoke(ctx context.Context, accessValue string, refreshValue string) error {
	return s.coordinator.Revoke(ctx, accessValue, refreshValue)
}

// Authenticate verifies the bearer token and returns the principal.
// This is the gate every protected endpoint goes through.
func (s *AuthService) Authenticate(ctx context.Context, bearerToken string) (models.Principal, error) {
	claims, err := s.issuer.codec.Verify(bearerToken)
	if err != nil {
		return models.Principal{}, err
	}

	userID, err := claims.UserID()
	if err != nil {
		return models.Principal{}, err
	}

	return models.Principal{
		UserID:   userID,
		Name:     claims.Name,
		Role:     claims.Role,
		FamilyID: claims.FamilyID,
	}, nil
}

// Throwaway bcrypt hash of an empty password, compared against when the
// user is unknown so both login failures cost the same
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
