package storage

import (
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

// NewProvider creates the storage provider named by the publish
// configuration. S3 credentials are taken from cfg as given; callers resolve
// keychain-held secrets before calling.
func NewProvider(cfg *config.PublishConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "local":
		provider, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		return provider, nil

	case "s3":
		endpoint, useSSL := s3Endpoint(cfg.S3Endpoint, cfg.S3UseSSL)
		provider, err := NewS3Storage(endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, useSSL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return provider, nil

	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// s3Endpoint strips a URL scheme from endpoint, which then decides SSL.
// Without an endpoint AWS S3 is used.
func s3Endpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case endpoint == "":
		return "s3.amazonaws.com", true
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return endpoint, useSSL
	}
}
