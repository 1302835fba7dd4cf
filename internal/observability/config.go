package observability

import (
	"strings"

	"github.com/smallbiznis/cashback/internal/config"
)

// Config is the observability slice of the application config with the
// service identity resolved.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	config.ObservabilityConfig
}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "cashback"
	}
	return Config{
		ServiceName:         name,
		Environment:         cfg.Environment,
		Version:             cfg.AppVersion,
		ObservabilityConfig: cfg.Observability,
	}
}

// Debug turns on stack traces in request logs and error logs.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case config.EnvDevelopment, "local", "test":
		return true
	}
	return false
}
