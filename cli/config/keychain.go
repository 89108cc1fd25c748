// Package config keeps publish credentials in the system keychain so they
// never have to be written to fluxpack.yaml.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

const (
	// ServiceName is the keychain service identifier
	ServiceName = "fluxpack"
)

// Credentials are the S3 keys of one publish target
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// KeychainStore stores credentials in the system keychain
type KeychainStore struct {
	serviceName string
}

// NewKeychainStore creates a new keychain store
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{
		serviceName: ServiceName,
	}
}

// IsAvailable checks if keychain is available on this system
func (k *KeychainStore) IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		// Linux requires a secret service (like gnome-keyring)
		if err := keyring.Set(k.serviceName, "__test__", "test"); err != nil {
			return false
		}
		_ = keyring.Delete(k.serviceName, "__test__")
		return true
	default:
		return false
	}
}

// Save stores credentials in keychain
func (k *KeychainStore) Save(account string, creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if err := keyring.Set(k.serviceName, account, string(data)); err != nil {
		return fmt.Errorf("failed to save to keychain: %w", err)
	}

	return nil
}

// Load retrieves credentials from keychain. It returns nil when the account
// has no entry.
func (k *KeychainStore) Load(account string) (*Credentials, error) {
	data, err := keyring.Get(k.serviceName, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load from keychain: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(data), &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}

	return &creds, nil
}

// Delete removes credentials from keychain
func (k *KeychainStore) Delete(account string) error {
	err := keyring.Delete(k.serviceName, account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}
	return nil
}

// Account names the keychain entry of a publish target: the S3 endpoint
// without scheme, then the bucket
func Account(pc *config.PublishConfig) string {
	endpoint := pc.S3Endpoint
	for _, scheme := range []string{"https://", "http://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	return endpoint + "/" + pc.Bucket
}

// CredentialManager fills publish credentials from the keychain when the
// configuration asks for it
type CredentialManager struct {
	keychain *KeychainStore
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager() *CredentialManager {
	return &CredentialManager{
		keychain: NewKeychainStore(),
	}
}

// Resolve sets the S3 keys of pc from the keychain when its credential store
// is keychain. Keys already present in pc, e.g. from FLUXPACK_PUBLISH_*
// variables, take precedence.
func (m *CredentialManager) Resolve(pc *config.PublishConfig) error {
	if pc.CredentialStore != "keychain" || pc.Provider != "s3" {
		return nil
	}
	if pc.S3AccessKey != "" && pc.S3SecretKey != "" {
		return nil
	}

	account := Account(pc)
	creds, err := m.keychain.Load(account)
	if err != nil {
		return err
	}
	if creds == nil {
		return fmt.Errorf("no credentials in keychain for %s, run fluxpack publish login", account)
	}

	if pc.S3AccessKey == "" {
		pc.S3AccessKey = creds.AccessKey
	}
	if pc.S3SecretKey == "" {
		pc.S3SecretKey = creds.SecretKey
	}
	return nil
}

// SaveCredentials stores the keys of a publish target in the keychain
func (m *CredentialManager) SaveCredentials(pc *config.PublishConfig, creds *Credentials) error {
	if creds.AccessKey == "" || creds.SecretKey == "" {
		return fmt.Errorf("access key and secret key are required")
	}
	if !m.keychain.IsAvailable() {
		return fmt.Errorf("keychain is not available on this system")
	}
	return m.keychain.Save(Account(pc), creds)
}

// DeleteCredentials removes the keys of a publish target from the keychain
func (m *CredentialManager) DeleteCredentials(pc *config.PublishConfig) error {
	return m.keychain.Delete(Account(pc))
}
