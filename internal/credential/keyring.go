package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailsync"

// RefreshTokenKey returns the credential-store key holding the OAuth
// refresh token for a mailbox identity.
func RefreshTokenKey(userEmail string) string {
	return "refresh-token:" + userEmail
}

// ClientSecretKey returns the credential-store key holding the OAuth
// client secret for a client id.
func ClientSecretKey(clientID string) string {
	return "client-secret:" + clientID
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes secrets in the OS keyring. The zero value is ready
// to use.
type Store struct{}

// Get retrieves a secret by key. The second return value reports whether the
// key was present; absence is not an error.
func (Store) Get(key string) (string, bool, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", false, err
	}

	item, err := ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), true, nil
}

// Set stores a secret by key.
func (Store) Set(key, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a secret by key.
func (Store) Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
