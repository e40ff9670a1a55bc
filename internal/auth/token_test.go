package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	tm := NewTokenManager("secret", 60)

	token, expiresAt, err := tm.GenerateToken("platform", ScopeWebhook)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "platform", claims.Subject)
	assert.Equal(t, ScopeWebhook, claims.Scope)
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, _, err := NewTokenManager("secret-a", 60).GenerateToken("ops", ScopeAdmin)
	require.NoError(t, err)

	_, err = NewTokenManager("secret-b", 60).ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenGarbage(t *testing.T) {
	tm := NewTokenManager("secret", 60)

	_, err := tm.ParseToken("not.a.token")
	assert.Error(t, err)
}

func TestTokenTTLDefaultsWhenInvalid(t *testing.T) {
	tm := NewTokenManager("secret", 0)

	_, expiresAt, err := tm.GenerateToken("ops", ScopeAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)
}
