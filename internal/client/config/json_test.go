package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseJson(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	path := filepath.Join(dir, "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server_endpoint_addr": "deck.example:443",
		"access_token": "tok",
		"request_timeout": "3s"
	}`), 0o600))

	t.Run("overlays present keys", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", path}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, "deck.example:443", cfg.ServerEndpointAddr)
		assert.Equal(t, "tok", cfg.AccessToken)
		assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
		assert.Equal(t, "duodeck.db", cfg.KeystorePath, "absent keys keep defaults")
	})

	t.Run("no config flag", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{ServerEndpointAddr: "x:1"}
		parseJson(cfg)
		assert.Equal(t, "x:1", cfg.ServerEndpointAddr)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
