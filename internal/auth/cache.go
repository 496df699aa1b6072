package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/mailsync/internal/model"
)

// tokensFile is the on-disk shape of the cached access token. The refresh
// token never appears here; it lives in the credential store.
type tokensFile struct {
	AccessToken    string `json:"access_token,omitempty"`
	ExpiresAtEpoch int64  `json:"expires_at_epoch,omitempty"`
}

// FileTokenCache stores the access token and expiry as JSON in the
// application state directory.
type FileTokenCache struct {
	Path string
}

// DefaultTokenCache returns a FileTokenCache at
// ~/.config/mailsync/tokens.json.
func DefaultTokenCache() (*FileTokenCache, error) {
	dir, err := model.ConfigDir()
	if err != nil {
		return nil, err
	}
	return &FileTokenCache{Path: filepath.Join(dir, "tokens.json")}, nil
}

// Load reads the cached token; ok is false when the file does not exist or
// holds no token.
func (c *FileTokenCache) Load() (string, int64, bool, error) {
	data, err := os.ReadFile(c.Path)
	if os.IsNotExist(err) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("reading token cache %s: %w", c.Path, err)
	}

	var tf tokensFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return "", 0, false, fmt.Errorf("parsing token cache %s: %w", c.Path, err)
	}
	if tf.AccessToken == "" {
		return "", 0, false, nil
	}
	return tf.AccessToken, tf.ExpiresAtEpoch, true, nil
}

// Save writes the access token and absolute expiry, replacing any previous
// contents.
func (c *FileTokenCache) Save(accessToken string, expiresAt int64) error {
	data, err := json.MarshalIndent(tokensFile{
		AccessToken:    accessToken,
		ExpiresAtEpoch: expiresAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token cache: %w", err)
	}
	if err := os.WriteFile(c.Path, data, 0o600); err != nil {
		return fmt.Errorf("writing token cache %s: %w", c.Path, err)
	}
	return nil
}
