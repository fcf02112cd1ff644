// Package config loads, defaults, and validates the TOML
// configuration shared by the capstan daemon and CLI.
package config
