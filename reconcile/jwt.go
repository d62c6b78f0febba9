// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorAuthenticator extracts the operator identity from HTTP requests.
// Implementations should validate auth (e.g., JWT) and provide the operator id.
type OperatorAuthenticator interface {
	GetOperatorID(r *http.Request) (string, error)
}

const OperatorRole = "operator"

// JWTAuth handles JWT authentication for the operator endpoints
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// OperatorClaims represents JWT claims for reconciliation operators
type OperatorClaims struct {
	Role string `json:"role"` // Must be "operator"
	jwt.RegisteredClaims
}

// GenerateToken generates a JWT token for an operator
func (j *JWTAuth) GenerateToken(operatorID string, expiration time.Duration) (string, error) {
	claims := &OperatorClaims{
		Role: OperatorRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "guildsync",
			Subject:   operatorID, // Operator ID goes in standard 'sub' claim
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*OperatorClaims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, fmt.Errorf("missing sub (operator ID) in token")
		}
		if claims.Role != OperatorRole {
			return nil, fmt.Errorf("role %q is not allowed to reconcile", claims.Role)
		}
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// GetOperatorID extracts the operator ID from the HTTP request (implements
// OperatorAuthenticator)
func (j *JWTAuth) GetOperatorID(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header required")
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader {
		return "", fmt.Errorf("bearer token required")
	}

	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	return claims.Subject, nil
}
