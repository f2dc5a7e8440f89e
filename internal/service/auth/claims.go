package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/pkalinin/tokengate/internal/apperrors"
)

const (
	defaultSigningMethod = "HS256"
	defaultIssuer        = "https://tokengate.local"
	defaultAudience      = "https://tokengate.local"
)

// AccessTokenClaims is the full typed claim set of an access token.
// Decoded once at the boundary, no string-keyed claim lookups anywhere else.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	FamilyID string `json:"fid"`
	Role     string `json:"role"`
	Name     string `json:"name"`
}

// UserID parses the subject claim
func (c *AccessTokenClaims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad subject claim: %w", apperrors.ErrMalformedToken)
	}
	return id, nil
}

type CodecConfig struct {
	// Secret key to sign access tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Issuer and audience claims
	// If not set than defaults are used
	Issuer   string
	Audience string
}

// Codec encodes and decodes signed access token payloads.
// Pure value type, safe to share between goroutines.
type Codec struct {
	key      string
	alg      jwt.SigningMethod
	issuer   string
	audience string
}

func NewCodec(cfg CodecConfig) (Codec, error) {
	if cfg.SecretKey == "" {
		return Codec{}, fmt.Errorf("secret key must not be empty: %w", apperrors.ErrSigningFailed)
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = defaultAudience
	}

	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return Codec{}, fmt.Errorf("unknown signing method %q: %w", cfg.Alg, apperrors.ErrSigningFailed)
	}

	return Codec{
		key:      cfg.SecretKey,
		alg:      alg,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Encode signs the deterministic claim set for the user
func (c Codec) Encode(userID uuid.UUID, familyID string, role string, name string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	token := jwt.NewWithClaims(
		c.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   userID.String(),
				Issuer:    c.issuer,
				Audience:  jwt.ClaimStrings{c.audience},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			FamilyID: familyID,
			Role:     role,
			Name:     name,
		},
	)

	signed, err := token.SignedString([]byte(c.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing access token: %w", errors.Join(err, apperrors.ErrSigningFailed))
	}

	return signed, expiresAt, nil
}

// Verify parses the token and checks signature, expiry, issuer and audience.
// This is the trusted path used to authenticate requests.
func (c Codec) Verify(tokenValue string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		tokenValue,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(c.key), nil },
		jwt.WithValidMethods([]string{c.alg.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}

	return claims, nil
}

// DecodeClaims parses the claim set without verifying signature or expiry.
// Decoding does not imply trust: the refresh path uses it to read the binding
// of an access token that is expected to have just expired.
func DecodeClaims(tokenValue string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}

	parser := jwt.NewParser()
	_, _, err := parser.ParseUnverified(tokenValue, claims)
	if err != nil {
		return nil, fmt.Errorf("error while decoding token: %w", apperrors.ErrMalformedToken)
	}

	return claims, nil
}
