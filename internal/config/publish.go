package config

import "fmt"

// PublishConfig contains settings for uploading an emitted output root
type PublishConfig struct {
	Provider        string  `mapstructure:"provider" json:"provider" yaml:"provider"` // local or s3
	LocalPath       string  `mapstructure:"local_path" json:"local_path" yaml:"local_path"`
	Bucket          string  `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	Prefix          string  `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	S3Endpoint      string  `mapstructure:"s3_endpoint" json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey     string  `mapstructure:"s3_access_key" json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey     string  `mapstructure:"s3_secret_key" json:"s3_secret_key" yaml:"s3_secret_key"`
	S3Region        string  `mapstructure:"s3_region" json:"s3_region" yaml:"s3_region"`
	S3UseSSL        bool    `mapstructure:"s3_use_ssl" json:"s3_use_ssl" yaml:"s3_use_ssl"`
	RateLimit       float64 `mapstructure:"rate_limit" json:"rate_limit" yaml:"rate_limit"`                   // uploads per second, 0 disables limiting
	CredentialStore string  `mapstructure:"credential_store" json:"credential_store" yaml:"credential_store"` // config or keychain
}

// Validate validates publish configuration. It is only called by the
// publish command, so a build never fails on publish settings.
func (pc *PublishConfig) Validate() error {
	if pc.Provider != "local" && pc.Provider != "s3" {
		return fmt.Errorf("provider must be either 'local' or 's3'")
	}

	if pc.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}

	if pc.Provider == "local" && pc.LocalPath == "" {
		return fmt.Errorf("local_path is required when using local storage")
	}

	if pc.Provider == "s3" && pc.S3Endpoint == "" {
		return fmt.Errorf("s3_endpoint is required when using S3 storage")
	}

	if pc.CredentialStore != "config" && pc.CredentialStore != "keychain" {
		return fmt.Errorf("credential_store must be either 'config' or 'keychain'")
	}

	if pc.Provider == "s3" && pc.CredentialStore == "config" && (pc.S3AccessKey == "" || pc.S3SecretKey == "") {
		return fmt.Errorf("s3_access_key and s3_secret_key are required when credential_store is 'config'")
	}

	if pc.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	return nil
}
