package config

import "time"

// Config holds runtime settings for the DuoDeck client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the document store gRPC endpoint.
//   - AccessToken: device token minted by the server operator.
//   - DatabaseDSN: when set, talk to PostgreSQL directly instead of the server.
//   - KeystorePath: SQLite file holding the device keys and cached identity.
//   - RequestTimeout: bound on each interactive command.
//   - LogLevel / LogFormat: slog level name and "json" or "text".
type Config struct {
	ServerEndpointAddr string
	AccessToken        string
	DatabaseDSN        string
	KeystorePath       string
	RequestTimeout     time.Duration
	LogLevel           string
	LogFormat          string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.KeystorePath = "duodeck.db"
	c.RequestTimeout = 10 * time.Second
	c.LogLevel = "warn"
	c.LogFormat = "text"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
