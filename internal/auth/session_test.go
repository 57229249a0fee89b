package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kajabook/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newVerifier() *SessionVerifier {
	return NewSessionVerifier(config.SessionConfig{Secret: "test-secret", CookieName: "kaja_session", TTL: time.Hour})
}

func TestSessionVerifier(t *testing.T) {
	v := newVerifier()

	t.Run("RoundTrip", func(t *testing.T) {
		token, err := v.IssueToken(Principal{ID: "stu-1", Name: "Jisoo"})
		require.NoError(t, err)

		p, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, Principal{ID: "stu-1", Name: "Jisoo"}, p)
	})

	t.Run("DefaultName", func(t *testing.T) {
		token, err := v.IssueToken(Principal{ID: "stu-2"})
		require.NoError(t, err)

		p, err := v.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, "Member", p.Name)
	})

	t.Run("Expired", func(t *testing.T) {
		token, err := v.IssueToken(Principal{ID: "stu-3"})
		require.NoError(t, err)

		later := newVerifier()
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err = later.Verify(token)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewSessionVerifier(config.SessionConfig{Secret: "other", TTL: time.Hour})
		token, err := other.IssueToken(Principal{ID: "stu-4"})
		require.NoError(t, err)

		_, err = v.Verify(token)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("RejectsOtherAlgorithms", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "stu-5"})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.Verify(raw)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("Disabled", func(t *testing.T) {
		disabled := NewSessionVerifier(config.SessionConfig{})
		assert.False(t, disabled.Enabled())
		_, err := disabled.IssueToken(Principal{ID: "x"})
		assert.Error(t, err)
		_, err = disabled.Verify("anything")
		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestFromRequest(t *testing.T) {
	v := newVerifier()
	token, err := v.IssueToken(Principal{ID: "stu-1", Name: "Jisoo"})
	require.NoError(t, err)

	cookieReq := httptest.NewRequest(http.MethodGet, "/", nil)
	cookieReq.AddCookie(&http.Cookie{Name: "kaja_session", Value: token})
	p, err := v.FromRequest(cookieReq)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", p.ID)

	bearerReq := httptest.NewRequest(http.MethodGet, "/", nil)
	bearerReq.Header.Set("Authorization", "Bearer "+token)
	p, err = v.FromRequest(bearerReq)
	require.NoError(t, err)
	assert.Equal(t, "stu-1", p.ID)

	_, err = v.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoSession)

	var nilVerifier *SessionVerifier
	_, err = nilVerifier.FromRequest(cookieReq)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFrom(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{ID: "stu-1", Name: "Jisoo"})
	p, ok := PrincipalFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, "stu-1", p.ID)
}
