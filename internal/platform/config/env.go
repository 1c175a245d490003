// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every env tag so structs declare short names
// (`env:"HTTP_ADDR"` reads ROLLCALL_HTTP_ADDR).
const Prefix = "ROLLCALL_"

// ParseEnv loads configuration from ROLLCALL_-prefixed environment variables.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: Prefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
