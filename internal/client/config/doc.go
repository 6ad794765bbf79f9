// Package config loads runtime configuration for the DuoDeck client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the document store server
//	-t string   device access token
//	-d string   PostgreSQL DSN for direct mode
//	-k string   keystore file
//	-r int      request timeout (seconds)
//	-log-level  debug, info, warn or error
//	-log-format json or text
//
// # JSON schema
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "access_token": "eyJ...",
//	  "keystore_path": "duodeck.db",
//	  "request_timeout": "10s"
//	}
package config
