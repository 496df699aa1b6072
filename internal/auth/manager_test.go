package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/nhle/mailsync/internal/logger"
)

type memSecrets map[string]string

func (s memSecrets) Get(key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

func (s memSecrets) Set(key, value string) error {
	s[key] = value
	return nil
}

type memCache struct {
	token     string
	expiresAt int64
	saved     bool
}

func (c *memCache) Load() (string, int64, bool, error) {
	if c.token == "" {
		return "", 0, false, nil
	}
	return c.token, c.expiresAt, true, nil
}

func (c *memCache) Save(token string, expiresAt int64) error {
	c.token = token
	c.expiresAt = expiresAt
	c.saved = true
	return nil
}

func newTestManager(tokenURL string, secrets memSecrets, cache *memCache) *Manager {
	return &Manager{
		clientID:       "client-id",
		clientSecret:   "client-secret",
		redirectURI:    "http://127.0.0.1:0/callback",
		userEmail:      "a@b.com",
		authURL:        "http://127.0.0.1:1/auth",
		tokenURL:       tokenURL,
		scope:          defaultScope,
		secrets:        secrets,
		cache:          cache,
		log:            logger.Nop(),
		now:            time.Now,
		openURL:        func(string) error { return nil },
		consentTimeout: 100 * time.Millisecond,
	}
}

func TestAccessTokenCachedUnexpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("network call made despite a valid cached token")
	}))
	defer srv.Close()

	cache := &memCache{token: "cached", expiresAt: time.Now().Unix() + 600}
	m := newTestManager(srv.URL, memSecrets{}, cache)

	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "cached" {
		t.Errorf("token = %q, want the cached one", token)
	}
}

func TestAccessTokenRefreshesExpiredCache(t *testing.T) {
	var gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token request: %v", err)
		}
		gotRefresh = r.FormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated"}`)
	}))
	defer srv.Close()

	secrets := memSecrets{"refresh-token:a@b.com": "old-refresh"}
	cache := &memCache{token: "stale", expiresAt: time.Now().Unix() - 10}
	m := newTestManager(srv.URL, secrets, cache)

	token, err := m.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want fresh", token)
	}
	if gotRefresh != "old-refresh" {
		t.Errorf("refresh token sent = %q, want old-refresh", gotRefresh)
	}
	if !cache.saved || cache.token != "fresh" {
		t.Errorf("cache = %+v, want the fresh token persisted", cache)
	}
	if cache.expiresAt <= time.Now().Unix() {
		t.Errorf("persisted expiry %d is not in the future", cache.expiresAt)
	}
	if secrets["refresh-token:a@b.com"] != "rotated" {
		t.Errorf("rotated refresh token not persisted: %q", secrets["refresh-token:a@b.com"])
	}
}

func TestAccessTokenRefreshFailureFallsBackToConsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	secrets := memSecrets{"refresh-token:a@b.com": "revoked"}
	m := newTestManager(srv.URL, secrets, &memCache{})

	// Consent cannot complete in a test; the short timeout turns it into
	// an AuthError, which proves the precedence fell through to it.
	_, err := m.AccessToken(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("got %v, want an auth error from the consent timeout", err)
	}
}

func TestPersistUsesFallbackExpiry(t *testing.T) {
	cache := &memCache{}
	m := newTestManager("http://127.0.0.1:1/token", memSecrets{}, cache)

	fixed := time.Unix(1_000_000, 0)
	m.now = func() time.Time { return fixed }

	m.persist(&oauth2.Token{AccessToken: "x"}, "")
	want := fixed.Unix() + fallbackExpirySec
	if cache.expiresAt != want {
		t.Errorf("expiry = %d, want fallback %d", cache.expiresAt, want)
	}
}
