package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-secret"

func newManager(t *testing.T, now time.Time) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(testSecret, "recruit", "dashboard", time.Hour)
	require.NoError(t, err)
	m.nowFunc = func() time.Time { return now }
	return m
}

func TestJWTRoundTrip(t *testing.T) {
	now := time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC)
	m := newManager(t, now)

	token, expires, err := m.IssueToken(Principal{Subject: "coord-7", Email: "c7@site.org"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), expires)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "coord-7", claims.Subject)
	assert.Equal(t, RoleCoordinator, claims.Role, "role defaults to coordinator")
	assert.Equal(t, "c7@site.org", claims.Principal().Email)
}

func TestJWTRejections(t *testing.T) {
	now := time.Date(2030, 6, 3, 9, 0, 0, 0, time.UTC)
	m := newManager(t, now)
	token, _, err := m.IssueToken(Principal{Subject: "coord-7", Role: RoleAdmin})
	require.NoError(t, err)

	other, err := NewJWTManager("another-secret-entirely", "recruit", "dashboard", time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.IssueToken(Principal{Subject: "coord-7"})
	require.NoError(t, err)

	wrongAudience, err := NewJWTManager(testSecret, "recruit", "other-app", time.Hour)
	require.NoError(t, err)
	audToken, _, err := wrongAudience.IssueToken(Principal{Subject: "coord-7"})
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, tok := range map[string]string{
		"malformed":      "not-a-token",
		"foreign secret": foreign,
		"audience":       audToken,
		"tampered":       tampered,
	} {
		_, err := m.ValidateToken(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}

	m.nowFunc = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Contains(t, err.Error(), "expired")
}

func TestJWTManagerGuards(t *testing.T) {
	_, err := NewJWTManager("short", "recruit", "dashboard", time.Hour)
	assert.Error(t, err)

	m := newManager(t, time.Now())
	_, _, err = m.IssueToken(Principal{})
	assert.Error(t, err)
}

func newProvider(t *testing.T, userinfo string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "good-code", r.Form.Get("code"))
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userinfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOIDCExchange(t *testing.T) {
	srv := newProvider(t, `{"sub":"okta|42","email":"ada@site.org","name":"Ada","roles":["staff","admin"]}`)
	a, err := NewOIDCAuthenticator(srv.URL+"/", "client", "secret", "http://localhost/auth/callback")
	require.NoError(t, err)

	loginURL, err := url.Parse(a.AuthCodeURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loginURL.Path)
	assert.Equal(t, "state-1", loginURL.Query().Get("state"))
	assert.Equal(t, "client", loginURL.Query().Get("client_id"))

	p, err := a.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Principal{Subject: "okta|42", Email: "ada@site.org", Name: "Ada", Role: RoleAdmin}, p)
}

func TestOIDCExchangeFailures(t *testing.T) {
	srv := newProvider(t, `{"email":"nobody@site.org"}`)
	a, err := NewOIDCAuthenticator(srv.URL, "client", "secret", "")
	require.NoError(t, err)

	_, err = a.Exchange(context.Background(), "")
	assert.Error(t, err)

	_, err = a.Exchange(context.Background(), "good-code")
	assert.ErrorContains(t, err, "subject")

	_, err = NewOIDCAuthenticator("", "client", "secret", "")
	assert.Error(t, err)
}
