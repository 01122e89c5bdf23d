package services

import (
	"testing"
	"time"

	"playlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_TokenRoundTrip(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	token, err := auth.GenerateToken("lobby", domain.RoleHost)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "lobby", claims.Room)
	assert.Equal(t, domain.RoleHost, claims.Role)
	assert.NotEmpty(t, claims.ID)

	other, err := auth.GenerateToken("lobby", domain.RoleHost)
	require.NoError(t, err)
	otherClaims, err := auth.ValidateToken(other)
	require.NoError(t, err)
	assert.NotEqual(t, claims.ID, otherClaims.ID)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	_, err := auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewAuthService("other-secret", time.Hour).GenerateToken("lobby", domain.RoleClient)
	require.NoError(t, err)
	_, err = auth.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthService("secret", -time.Minute).GenerateToken("lobby", domain.RoleClient)
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_Authorize(t *testing.T) {
	auth := NewAuthService("secret", time.Hour)

	tests := []struct {
		name    string
		claims  *Claims
		room    string
		role    domain.RelayRole
		wantErr bool
	}{
		{"matching room and role", &Claims{Room: "lobby", Role: domain.RoleClient}, "lobby", domain.RoleClient, false},
		{"any room", &Claims{Role: domain.RoleHost}, "anywhere", domain.RoleHost, false},
		{"wrong room", &Claims{Room: "lobby", Role: domain.RoleClient}, "other", domain.RoleClient, true},
		{"wrong role", &Claims{Room: "lobby", Role: domain.RoleClient}, "lobby", domain.RoleHost, true},
		{"no claims", nil, "lobby", domain.RoleClient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.Authorize(tt.claims, tt.room, tt.role)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
