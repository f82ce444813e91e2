// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8484", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "fs", cfg.ObjStore.Type)
	assert.Equal(t, 25*time.Second, cfg.Sync.OrchestratorBudget)
	assert.Equal(t, 50*time.Second, cfg.Sync.ParseMergeBudget)
	assert.Equal(t, 120*time.Second, cfg.Sync.LockTTL)
	assert.Equal(t, 8, cfg.Sync.StepMaxRetries)
	assert.Equal(t, int64(2*1024*1024), cfg.Sync.MaxFetchBytes)
	assert.Equal(t, 50, cfg.Sync.MaxTotalChunks)
	assert.Equal(t, 22, cfg.Pricing.VATPercent)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
ftp:
  host: ftp.supplier.example
  user: feeds
  password: hunter2
sftp:
  host: sftp.marketplace.example
  user: drev
  password: secret
  base_dir: /incoming
sync:
  include_eu: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ftp.supplier.example", cfg.FTP.Host)
	assert.Equal(t, 21, cfg.FTP.Port, "defaults applied over minimal file")
	assert.True(t, cfg.Sync.IncludeEU)
	assert.True(t, cfg.SFTP.Complete())
	// Unspecified budgets keep defaults.
	assert.Equal(t, 50*time.Second, cfg.Sync.ParseMergeBudget)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus_key: 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ftp:\n  host: from-file\n"), 0o644))

	t.Setenv("FTP_HOST", "from-env")
	t.Setenv("FTP_PORT", "2121")
	t.Setenv("SFTP_HOST", "sftp-env")
	t.Setenv("CATSYNC_AUTH_TOKEN", "tok-123")
	t.Setenv("CATSYNC_MAIL_TO", "ops@example.com, buyer@example.com")
	t.Setenv("CATSYNC_INCLUDE_EU", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.FTP.Host, "env beats file")
	assert.Equal(t, 2121, cfg.FTP.Port)
	assert.Equal(t, "sftp-env", cfg.SFTP.Host)
	assert.Equal(t, "tok-123", cfg.Server.AuthToken)
	assert.Equal(t, []string{"ops@example.com", "buyer@example.com"}, cfg.Mail.To)
	assert.True(t, cfg.Sync.IncludeEU)
}

func TestSFTPConfig_MissingKeys(t *testing.T) {
	cfg := SFTPConfig{Host: "h", User: "u"}
	assert.False(t, cfg.Complete())
	assert.Equal(t, []string{"SFTP_PASSWORD", "SFTP_BASE_DIR"}, cfg.MissingKeys())

	full := SFTPConfig{Host: "h", User: "u", Password: "p", BaseDir: "/d"}
	assert.True(t, full.Complete())
	assert.Empty(t, full.MissingKeys())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, true},
		{"bad store type", func(c *Config) { c.Store.Type = "postgres" }, true},
		{"s3 without bucket", func(c *Config) { c.ObjStore.Type = "s3" }, true},
		{"s3 with bucket", func(c *Config) {
			c.ObjStore.Type = "s3"
			c.ObjStore.Bucket = "exports"
		}, false},
		{"zero retries", func(c *Config) { c.Sync.StepMaxRetries = 0 }, true},
		{"fee below one", func(c *Config) { c.Pricing.FeeMkt = map[string]float64{"amazon": 0.9} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_SFTPIncompleteIsNotFatal(t *testing.T) {
	// A node must boot without SFTP credentials; the upload step reports
	// missing_env at run time instead.
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.SFTP.Complete())
}
