// Package config loads runtime settings from YAML files and the
// environment. Applications embedding the asynchttp runtime use Load to
// populate their settings struct before calling GlobalInitialize.
package config
