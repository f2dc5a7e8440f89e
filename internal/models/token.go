package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is a single record in a token family.
// Records are never deleted, only flipped to IsValid=false, so the whole
// rotation chain stays available for fraud lookups.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	FamilyID  string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsValid   bool
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by Issuer, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
