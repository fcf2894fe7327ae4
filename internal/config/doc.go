// Package config loads, normalizes, and validates conform configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the CLI needs: the target transcode profile, per-codec encoder settings,
// loudness targets, cache and backup behavior.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical codec names, and clear validation errors.
package config
