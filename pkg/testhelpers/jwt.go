// Package testhelpers provides utilities for testing ekaya-calls components.
package testhelpers

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestJWTSecret is the HMAC secret handlers under test are configured with.
const TestJWTSecret = "test-secret"

// GenerateTestJWT creates an HS256 token for the given owner, signed with TestJWTSecret.
func GenerateTestJWT(ownerID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   ownerID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(TestJWTSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(ownerID string) string {
	return "Bearer " + GenerateTestJWT(ownerID)
}
