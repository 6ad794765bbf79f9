package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/flagx"
	"github.com/dmitrijs2005/duodeck/internal/timex"
)

// JsonConfig is the on-disk form of Config.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	AccessToken        string         `json:"access_token"`
	DatabaseDSN        string         `json:"database_dsn"`
	KeystorePath       string         `json:"keystore_path"`
	RequestTimeout     timex.Duration `json:"request_timeout"`
	LogLevel           string         `json:"log_level"`
	LogFormat          string         `json:"log_format"`
}

// parseJson overlays cfg with the file named by -c or -config. Keys absent
// from the file keep their current values. An unreadable or invalid file
// panics.
func parseJson(cfg *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{
		ServerEndpointAddr: cfg.ServerEndpointAddr,
		AccessToken:        cfg.AccessToken,
		DatabaseDSN:        cfg.DatabaseDSN,
		KeystorePath:       cfg.KeystorePath,
		RequestTimeout:     timex.Duration{Duration: cfg.RequestTimeout},
		LogLevel:           cfg.LogLevel,
		LogFormat:          cfg.LogFormat,
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	cfg.ServerEndpointAddr = c.ServerEndpointAddr
	cfg.AccessToken = c.AccessToken
	cfg.DatabaseDSN = c.DatabaseDSN
	cfg.KeystorePath = c.KeystorePath
	cfg.RequestTimeout = time.Duration(c.RequestTimeout.Duration)
	cfg.LogLevel = c.LogLevel
	cfg.LogFormat = c.LogFormat
}
