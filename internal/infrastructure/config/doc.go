// Package config handles loading and validating campus auth configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with CAMPUSAUTH_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Signing secrets should be set via environment variables, never committed
//   - Access and refresh secrets must be distinct and at least 32 characters
//   - Argon2id parameters below 64 MiB / 3 iterations / 4 lanes are rejected
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
