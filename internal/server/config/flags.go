package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/duodeck/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string     gRPC bind address (e.g., ":50051")
//	-m string     metrics and health bind address
//	-d string     PostgreSQL DSN
//	-s string     JWT HMAC secret key
//	-t int        device token validity, hours
//	-l float      per-device rate limit, calls per second
//	-burst int    per-device burst
//	-u string     S3 root user
//	-p string     S3 root password
//	-b string     S3 bucket name
//	-g string     S3 region
//	-e string     S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-log-level    debug, info, warn or error
//	-log-format   json or text
//	-mint string  print a device token and exit
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:],
		"a", "m", "d", "s", "t", "l", "burst", "u", "p", "b", "g", "e",
		"log-level", "log-format", "mint",
	)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address and port for metrics and health checks")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	tokenValidity := fs.Int("t", int(config.TokenValidityDuration.Hours()), "device token validity (in hours)")

	fs.Float64Var(&config.RateLimit, "l", config.RateLimit, "per-device calls per second, 0 disables")
	fs.IntVar(&config.RateBurst, "burst", config.RateBurst, "per-device burst")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket, empty disables voice storage")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.LogLevel, "log-level", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "log-format", config.LogFormat, "log format (json or text)")
	fs.StringVar(&config.Mint, "mint", config.Mint, "print a token for this device id and exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.TokenValidityDuration = time.Duration(*tokenValidity) * time.Hour
}
