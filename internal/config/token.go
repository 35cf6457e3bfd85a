package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// secretService is the keychain service name for every opscribe secret.
const secretService = "opscribe"

const (
	apiTokenAccount   = "api_token"
	openRouterAccount = "openrouter_api_key"
)

// SecretStore reads and writes secrets in the platform store.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

type platformSecrets struct{}

func (platformSecrets) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (platformSecrets) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// NewKeychain returns the platform secret store: macOS Keychain, or a
// 0600 secrets file under the XDG data directory elsewhere.
func NewKeychain() SecretStore {
	return platformSecrets{}
}

// GetAPIToken returns the daemon's bearer token, generating and storing a
// random one on first use.
func GetAPIToken(s SecretStore) (string, error) {
	if tok, err := s.Get(secretService, apiTokenAccount); err == nil && strings.TrimSpace(tok) != "" {
		return strings.TrimSpace(tok), nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := s.Set(secretService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}
