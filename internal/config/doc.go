// Package config defines the application configuration structure and
// loading. Configuration comes from an optional YAML file and environment
// variables with the DOCVET_ prefix, with environment taking precedence.
package config
