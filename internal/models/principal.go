package models

import (
	"github.com/google/uuid"
)

// Principal is the identity extracted from a verified access token.
// It's what protected endpoints see, no database lookup behind it.
type Principal struct {
	UserID   uuid.UUID
	Name     string
	Role     string
	FamilyID string
}
