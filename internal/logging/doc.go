// Package logging constructs the daemon's slog loggers and provides
// the attribute helpers used across capstan packages.
package logging
