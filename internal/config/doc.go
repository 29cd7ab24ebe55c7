// Package config loads, normalizes, and validates uwrangler configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// UW_SOURCE_DIR and UW_FFMPEG. The Config type centralizes every knob the
// daemon and CLI need: watched source directory, cache root and capacity
// bounds, target geometries, scheduler timing, and stream server binds.
//
// Always obtain settings through this package so downstream code receives
// sanitized absolute paths and a validated geometry set.
package config
