// Package config loads, normalizes, and validates palmscroll configuration.
//
// Values come from repository defaults, then an optional TOML file, then
// PALMSCROLL_* environment variables. Paths are expanded (including tilde
// shortcuts) before the Config is returned.
package config
