package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/tablesync-backend/pkg/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintOwnerToken issues a signed owner token. Production tokens come from the
// identity provider; this is used by local tooling and tests.
func MintOwnerToken(cfg config.JWTConfig, now time.Time, payload OwnerPayload) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("jwt issuer is required")
	}
	if payload.CafeID == uuid.Nil {
		return "", fmt.Errorf("cafe id is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := OwnerClaims{
		CafeID: payload.CafeID,
		Email:  payload.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.CafeID.String(),
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiration())),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseOwnerToken validates the JWT string and returns typed claims.
func ParseOwnerToken(cfg config.JWTConfig, tokenString string) (*OwnerClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	claims := &OwnerClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}

	if claims.CafeID == uuid.Nil {
		subject, err := uuid.Parse(claims.Subject)
		if err != nil {
			return nil, errors.New("token has no cafe principal")
		}
		claims.CafeID = subject
	}
	return claims, nil
}
