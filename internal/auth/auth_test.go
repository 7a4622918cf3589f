package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcore-platform/message-delivery-service/internal/domain/model"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, secret string, payload jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.MapClaims{
		"acc":    "bob",
		"gsps":   "gs1",
		"scopes": "message_authoritative other_scope",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})

	s, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", s.AccountID)
	assert.Equal(t, "gs1", s.GamespaceID)
	assert.True(t, s.Authoritative())
}

func TestParseWithoutAuthoritativeScope(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.MapClaims{"acc": "bob", "gsps": "gs1"})

	s, err := v.Parse(token)
	require.NoError(t, err)
	assert.False(t, s.Authoritative())
}

func TestParseRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, "some-other-secret", jwt.MapClaims{"acc": "bob", "gsps": "gs1"})

	_, err := v.Parse(token)
	assert.Equal(t, model.KindUnauthorized, model.KindOf(err))
}

func TestParseRejectsIncompleteClaims(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.MapClaims{"acc": "bob"})

	_, err := v.Parse(token)
	assert.Equal(t, model.KindUnauthorized, model.KindOf(err))
}

func TestParseRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.MapClaims{
		"acc": "bob", "gsps": "gs1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := v.Parse(token)
	assert.Equal(t, model.KindUnauthorized, model.KindOf(err))
}

func TestFromRequestBearerHeader(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"acc": "bob", "gsps": "gs1"})

	r := httptest.NewRequest("GET", "/messages", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	s, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", s.AccountID)
}

func TestFromRequestQueryParameter(t *testing.T) {
	v := NewVerifier(testSecret)
	token := signToken(t, testSecret, jwt.MapClaims{"acc": "bob", "gsps": "gs1"})

	r := httptest.NewRequest("GET", "/conversation?access_token="+token, nil)

	s, err := v.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", s.AccountID)
}

func TestFromRequestMissingToken(t *testing.T) {
	v := NewVerifier(testSecret)

	r := httptest.NewRequest("GET", "/messages", nil)

	_, err := v.FromRequest(r)
	assert.Equal(t, model.KindUnauthorized, model.KindOf(err))
}
