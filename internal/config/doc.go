// Package config loads, normalizes, and validates lineup configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LINEUP_PROVIDER_API_KEY. String-typed behavior fields (duplicate-handling
// modes, keyword behaviors, reconciliation fix actions) are converted into
// the closed types from internal/policy during validation, so downstream code
// never compares raw configuration strings.
package config
