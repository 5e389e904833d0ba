package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256*1024, cfg.Transfer.ChunkSize)
	assert.True(t, cfg.Transfer.DisableOnReject)
	assert.Zero(t, cfg.Transfer.AckTimeout)
}

func TestValidate(t *testing.T) {
	tcs := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{"buffer thresholds", func(c *Config) { c.WebRTC.BufferedAmountLowThreshold = c.WebRTC.MaxBufferedAmount }, ErrInvalidBufferConfig},
		{"chunk bigger than buffer", func(c *Config) { c.Transfer.ChunkSize = int(c.WebRTC.MaxBufferedAmount) + 1 }, ErrInvalidChunkSize},
		{"blank root", func(c *Config) { c.Store.Root = "  " }, ErrInvalidStoreRoot},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tc.err)
		})
	}
}

func TestValidateRejectsTaggedFields(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Transfer.ChunkSize = 0
	require.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Log.Level = "loud"
	require.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Transfer.AckTimeout = -time.Second
	require.Error(t, cfg.Validate())
}

func TestValidateSignalling(t *testing.T) {
	cfg := NewDefaultConfig()
	require.ErrorIs(t, cfg.ValidateSignalling(), ErrInvalidFirebaseConfig)

	cfg.Firebase.CredentialsPath = "creds.json"
	require.ErrorIs(t, cfg.ValidateSignalling(), ErrInvalidFirebaseProjectID)

	cfg.Firebase.ProjectID = "project"
	require.ErrorIs(t, cfg.ValidateSignalling(), ErrInvalidFirebaseDatabaseURL)

	cfg.Firebase.DatabaseURL = "https://example.firebaseio.com"
	require.NoError(t, cfg.ValidateSignalling())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mediaup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transfer:
  chunk_size: 1024
  ack_timeout: 5s
store:
  root: /srv/media
`), 0o600))

	t.Setenv("MEDIAUP_STORE_MAX_UPLOAD_SIZE", "4096")

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MEDIAUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Transfer.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Transfer.AckTimeout)
	assert.Equal(t, "/srv/media", cfg.Store.Root)
	assert.Equal(t, int64(4096), cfg.Store.MaxUploadSize)
	assert.True(t, cfg.Transfer.DisableOnReject)
	assert.Equal(t, "info", cfg.Log.Level)
}
