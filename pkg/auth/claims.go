package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OwnerPayload is the principal data placed in an owner access token.
type OwnerPayload struct {
	CafeID uuid.UUID
	Email  string
	JTI    string
}

// OwnerClaims is the typed JWT presented by cafe owners. The identity
// provider issues it; the subject is the owner principal id, which is also
// the cafe id.
type OwnerClaims struct {
	CafeID uuid.UUID `json:"cafe_id"`
	Email  string    `json:"email,omitempty"`
	jwt.RegisteredClaims
}
