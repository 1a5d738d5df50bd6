// Package config provides configuration loading and validation for the
// transcription relay service. It handles YAML-based configuration with
// per-section validation and environment-variable credential fallback.
package config
