package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "ONITU_CONFIG"
	EnvLogLevel = "ONITU_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables. These
// are resolved by ReadEnvOverrides and made available to callers.
type EnvOverrides struct {
	ConfigPath string // ONITU_CONFIG: override config file path
	LogLevel   string // ONITU_LOG_LEVEL: override logging.log_level
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; callers apply the relevant
// fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
