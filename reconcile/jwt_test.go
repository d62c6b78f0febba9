// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTGenerateAndValidate(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("ops-admin", time.Minute)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "ops-admin", claims.Subject)
	require.Equal(t, OperatorRole, claims.Role)
	require.Equal(t, "guildsync", claims.Issuer)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("ops-admin", time.Minute)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("ops-admin", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTRejectsNonOperatorRole(t *testing.T) {
	secret := []byte("test-secret")
	claims := &OperatorClaims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not allowed")
}

func TestGetOperatorID(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("ops-admin", time.Minute)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, "/admin/check-sync", nil)
	_, err = auth.GetOperatorID(req)
	require.Error(t, err)

	req.Header.Set("Authorization", token)
	_, err = auth.GetOperatorID(req)
	require.Error(t, err)

	req.Header.Set("Authorization", "Bearer "+token)
	operatorID, err := auth.GetOperatorID(req)
	require.NoError(t, err)
	require.Equal(t, "ops-admin", operatorID)
}
