// Package config loads, normalizes, and validates whispertune configuration data.
//
// It supplies the defaults of the Whisper-base fine-tuning experiment, expands
// user paths (including tilde shortcuts), reads TOML files, loads an optional
// .env file, and honours environment fallbacks such as HF_TOKEN. The Config
// type centralizes every knob the CLI needs so dataset, feature, training and
// hub settings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
