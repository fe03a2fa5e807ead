// Package config loads and validates engine configuration from TOML. It
// owns defaults, normalization of user-supplied paths, and creation of the
// directories the durable state store and log files live in.
package config
