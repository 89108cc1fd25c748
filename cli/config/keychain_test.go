package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/fluxbase-eu/fluxpack/internal/config"
)

func s3Target() *config.PublishConfig {
	return &config.PublishConfig{
		Provider:        "s3",
		Bucket:          "site",
		S3Endpoint:      "https://minio.example.com/",
		CredentialStore: "keychain",
	}
}

func TestAccount(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     string
	}{
		{name: "https endpoint", endpoint: "https://minio.example.com/", want: "minio.example.com/site"},
		{name: "http endpoint", endpoint: "http://localhost:9000", want: "localhost:9000/site"},
		{name: "bare endpoint", endpoint: "s3.eu-central-1.amazonaws.com", want: "s3.eu-central-1.amazonaws.com/site"},
		{name: "no endpoint", endpoint: "", want: "s3.amazonaws.com/site"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Account(&config.PublishConfig{Bucket: "site", S3Endpoint: tt.endpoint}))
		})
	}
}

func TestKeychainStore_RoundTrip(t *testing.T) {
	keyring.MockInit()
	store := NewKeychainStore()

	creds, err := store.Load("missing")
	require.NoError(t, err)
	assert.Nil(t, creds)

	require.NoError(t, store.Save("acct", &Credentials{AccessKey: "AK", SecretKey: "SK"}))
	creds, err = store.Load("acct")
	require.NoError(t, err)
	assert.Equal(t, &Credentials{AccessKey: "AK", SecretKey: "SK"}, creds)

	require.NoError(t, store.Delete("acct"))
	require.NoError(t, store.Delete("acct"), "deleting twice is not an error")
	creds, err = store.Load("acct")
	require.NoError(t, err)
	assert.Nil(t, creds)
}

func TestCredentialManager_Resolve(t *testing.T) {
	keyring.MockInit()
	manager := NewCredentialManager()

	t.Run("missing keychain entry", func(t *testing.T) {
		err := manager.Resolve(s3Target())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minio.example.com/site")
	})

	require.NoError(t, manager.SaveCredentials(s3Target(), &Credentials{AccessKey: "AK", SecretKey: "SK"}))

	t.Run("fills keys from keychain", func(t *testing.T) {
		pc := s3Target()
		require.NoError(t, manager.Resolve(pc))
		assert.Equal(t, "AK", pc.S3AccessKey)
		assert.Equal(t, "SK", pc.S3SecretKey)
	})

	t.Run("configured keys win", func(t *testing.T) {
		pc := s3Target()
		pc.S3AccessKey = "ENV"
		require.NoError(t, manager.Resolve(pc))
		assert.Equal(t, "ENV", pc.S3AccessKey)
		assert.Equal(t, "SK", pc.S3SecretKey)
	})

	t.Run("config store is left alone", func(t *testing.T) {
		pc := s3Target()
		pc.CredentialStore = "config"
		require.NoError(t, manager.Resolve(pc))
		assert.Empty(t, pc.S3AccessKey)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, manager.DeleteCredentials(s3Target()))
		assert.Error(t, manager.Resolve(s3Target()))
	})
}

func TestCredentialManager_SaveRequiresKeys(t *testing.T) {
	keyring.MockInit()
	err := NewCredentialManager().SaveCredentials(s3Target(), &Credentials{AccessKey: "AK"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required")
}
