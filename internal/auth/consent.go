package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// consent runs the interactive authorization-code flow with PKCE: bind the
// loopback callback listener, open the provider's consent page in the
// user's browser, wait for the redirect carrying the code, and exchange it.
//
// The listener is bound before the browser opens so the callback can never
// race the server startup.
func (m *Manager) consent(ctx context.Context) (string, error) {
	bindAddr, err := callbackBindAddr(m.redirectURI)
	if err != nil {
		return "", &AuthError{Message: err.Error()}
	}

	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf(
			"binding consent callback listener on %s: %v", bindAddr, err)}
	}
	defer ln.Close()

	cfg := m.oauthConfig()
	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	m.log.Infow("waiting for authorization in browser", "url", authURL)
	if err := m.openURL(authURL); err != nil {
		m.log.Warnw("could not open browser, open the URL manually",
			"url", authURL, "error", err)
	}

	code, err := waitForCode(ctx, ln, state, m.consentTimeout)
	if err != nil {
		return "", err
	}

	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", &AuthError{Message: fmt.Sprintf("code exchange: %v", err)}
	}

	m.persist(token, "")
	return token.AccessToken, nil
}

// callbackBindAddr derives the exact host:port to bind from the redirect
// URI, normalizing loopback host names to the IPv4 loopback address.
func callbackBindAddr(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect_uri %q: %v", redirectURI, err)
	}

	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("redirect_uri %q missing host", redirectURI)
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		default:
			return "", fmt.Errorf("redirect_uri %q missing port", redirectURI)
		}
	}

	return net.JoinHostPort(host, port), nil
}

// waitForCode serves the callback listener until a request carrying an
// authorization code (with a matching state) arrives, the timeout elapses,
// or ctx is cancelled. Requests without a code get a diagnostic page and
// the wait continues.
func waitForCode(
	ctx context.Context,
	ln net.Listener,
	state string,
	timeout time.Duration,
) (string, error) {
	codeCh := make(chan string, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			code := q.Get("code")

			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			switch {
			case code == "":
				fmt.Fprintln(w, "No authorization code found in redirect. You can close this tab.")
			case q.Get("state") != state:
				fmt.Fprintln(w, "State mismatch in redirect. You can close this tab.")
			default:
				fmt.Fprintln(w, "Authorization received. You can close this tab.")
				select {
				case codeCh <- code:
				default:
				}
			}
		}),
	}

	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	select {
	case code := <-codeCh:
		return code, nil
	case <-time.After(timeout):
		return "", &AuthError{Message: fmt.Sprintf(
			"no authorization code received within %s", timeout)}
	case <-ctx.Done():
		return "", &AuthError{Message: fmt.Sprintf("consent flow cancelled: %v", ctx.Err())}
	}
}

// openBrowser opens the URL in the default browser, best effort.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("no browser launcher for %s", runtime.GOOS)
	}
	return cmd.Start()
}
