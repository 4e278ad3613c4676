// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > YAML config >
// Environment variables > Defaults. It also reads and writes generation config
// files in the snake_case JSON schema of the published artifacts, so configs
// shipped with the publication load unchanged.
package config
