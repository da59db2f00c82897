// Package auth issues and checks the HS256 tokens used towards the central
// system and on the diagnostics API.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token scopes.
const (
	ScopeCentralSystem = "ocpp"
	ScopeOperator      = "operator"
)

// Claims represents the JWT payload.
type Claims struct {
	ChargePointID string `json:"charge_point_id"`
	Scope         string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

// NewTokenService returns configured token service.
func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	if expiresIn <= 0 {
		expiresIn = time.Hour
	}
	return &TokenService{secret: []byte(secret), expiresIn: expiresIn}
}

// GenerateToken issues a JWT for the charge point.
func (t *TokenService) GenerateToken(chargePointID, scope string) (string, error) {
	if chargePointID == "" {
		return "", errors.New("token: charge point id is required")
	}

	now := time.Now().UTC()
	claims := Claims{
		ChargePointID: chargePointID,
		Scope:         scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   chargePointID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken verifies and decodes JWT.
func (t *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("token: unexpected signing method")
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("token: invalid claims")
}
