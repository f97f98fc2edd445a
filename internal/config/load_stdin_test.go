package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSingleStdinFileSource(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		password string
		wantErr  bool
	}{
		{name: "no stdin source", dsn: "/run/secrets/dsn", password: "/run/secrets/password"},
		{name: "dsn from stdin", dsn: "@-", password: "/run/secrets/password"},
		{name: "password from stdin", password: "@-"},
		{name: "both from stdin", dsn: "@-", password: " @- ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("database.dsn_file", tt.dsn)
			v.Set("database.password_file", tt.password)

			err := validateSingleStdinFileSource(v)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), "database.dsn_file")
			assert.Contains(t, err.Error(), "database.password_file")
		})
	}
}

func TestReadSecretFile_TrimsTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte("s3cret\n"), 0o600))

	got, err := readSecretFile(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = readSecretFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
