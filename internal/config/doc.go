// Package config holds the settings of a ringkv process and loads them from
// flags, RINGKV_* environment variables, .env files and an optional YAML
// config file.
package config
