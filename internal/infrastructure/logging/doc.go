// Package logging provides structured logging for the campus auth service.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same default fields (service, version) and level filtering.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8080)
//
// # Security
//
// Never log passwords, password hashes, refresh tokens or signing secrets.
// Log user ids and session ids instead.
package logging
