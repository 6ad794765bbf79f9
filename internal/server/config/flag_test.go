package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-m", ":9100", "-d", "db", "-s", "secret",
			"-t", "24", "-l", "5", "-burst", "10",
			"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
			"-log-level", "debug", "-log-format", "text", "-mint", "device-1",
		}, expected: &Config{
			EndpointAddrGRPC:      "127.0.0.1:9090",
			MetricsAddr:           ":9100",
			DatabaseDSN:           "db",
			SecretKey:             "secret",
			TokenValidityDuration: 24 * time.Hour,
			RateLimit:             5,
			RateBurst:             10,
			S3RootUser:            "user",
			S3RootPassword:        "password",
			S3Bucket:              "bucket",
			S3Region:              "us-west-1",
			S3BaseEndpoint:        "http://endpoint",
			LogLevel:              "debug",
			LogFormat:             "text",
			Mint:                  "device-1",
		}},
		{name: "unknown flags are ignored", args: []string{"cmd", "-x", "1", "-a", ":1"},
			expected: &Config{EndpointAddrGRPC: ":1"}},
		{name: "bad number panics", args: []string{"cmd", "-t", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
