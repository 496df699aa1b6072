package auth

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
)

// fallbackExpirySec is used when the provider omits expires_in; slightly
// under the usual hour so a stale token is never handed out.
const fallbackExpirySec = 3500

const defaultScope = "https://mail.google.com/"

// Manager resolves a valid bearer token, walking the strict precedence
// cached token, refresh exchange, interactive consent.
type Manager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	userEmail    string
	authURL      string
	tokenURL     string
	scope        string

	secrets SecretStore
	cache   TokenCache
	log     *zap.SugaredLogger

	// replaced in tests
	now            func() time.Time
	openURL        func(string) error
	consentTimeout time.Duration
}

// NewManager builds a Manager from the application config, loading the
// optional client secret from the credential store (falling back to the
// OAUTH_CLIENT_SECRET environment variable).
func NewManager(
	cfg *model.AppConfig,
	secrets SecretStore,
	cache TokenCache,
	log *zap.SugaredLogger,
) (*Manager, error) {
	secret, ok, err := secrets.Get(credential.ClientSecretKey(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("loading client secret: %w", err)
	}
	if !ok {
		secret = os.Getenv("OAUTH_CLIENT_SECRET")
	}

	return &Manager{
		clientID:       cfg.ClientID,
		clientSecret:   secret,
		redirectURI:    cfg.RedirectURI,
		userEmail:      cfg.UserEmail,
		authURL:        cfg.AuthURL,
		tokenURL:       cfg.TokenURL,
		scope:          defaultScope,
		secrets:        secrets,
		cache:          cache,
		log:            log,
		now:            time.Now,
		openURL:        openBrowser,
		consentTimeout: 120 * time.Second,
	}, nil
}

func (m *Manager) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.clientID,
		ClientSecret: m.clientSecret,
		RedirectURL:  m.redirectURI,
		Scopes:       []string{m.scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  m.authURL,
			TokenURL: m.tokenURL,
		},
	}
}

// AccessToken returns a valid bearer token.
//
// Precedence is strict: a cached, unexpired token is returned without any
// network call; otherwise a stored refresh token is exchanged; otherwise
// (or when the exchange fails) the interactive consent flow runs.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	now := m.now().Unix()

	if token, expiresAt, ok, err := m.cache.Load(); err != nil {
		m.log.Warnw("token cache unreadable", "error", err)
	} else if ok && now < expiresAt {
		return token, nil
	}

	refreshToken, haveRefresh, err := m.secrets.Get(credential.RefreshTokenKey(m.userEmail))
	if err != nil {
		m.log.Warnw("credential store unreadable", "error", err)
		haveRefresh = false
	}

	if haveRefresh {
		token, err := m.refresh(ctx, refreshToken)
		if err == nil {
			return token, nil
		}
		m.log.Warnw("refresh exchange failed, falling back to interactive consent",
			"error", err)
	}

	return m.consent(ctx)
}

// refresh exchanges a refresh token for a new access token and persists
// the result.
func (m *Manager) refresh(ctx context.Context, refreshToken string) (string, error) {
	src := m.oauthConfig().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("refresh exchange: %v", err)}
	}

	m.persist(token, refreshToken)
	return token.AccessToken, nil
}

// persist writes the access token and expiry to the token cache and, when
// the provider rotated it, the refresh token to the credential store.
// Both writes are best effort.
func (m *Manager) persist(token *oauth2.Token, previousRefresh string) {
	expiresAt := token.Expiry.Unix()
	if token.Expiry.IsZero() {
		expiresAt = m.now().Unix() + fallbackExpirySec
	}
	if err := m.cache.Save(token.AccessToken, expiresAt); err != nil {
		m.log.Warnw("persisting access token failed", "error", err)
	}

	if token.RefreshToken != "" && token.RefreshToken != previousRefresh {
		key := credential.RefreshTokenKey(m.userEmail)
		if err := m.secrets.Set(key, token.RefreshToken); err != nil {
			m.log.Warnw("persisting refresh token failed", "error", err)
		}
	}
}
