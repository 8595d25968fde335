// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for onitu.
package config

// Config is the top-level configuration structure: one [services.<name>]
// table per driver instance plus the ordered [[rules]] routing table.
// Logging is a flat global section shared by every service.
type Config struct {
	Services map[string]Service `toml:"services"`
	Rules    []RoutingRule      `toml:"rules"`
	Logging  LoggingConfig      `toml:"logging"`
	Fabric   FabricConfig       `toml:"fabric"`
}

// Service is one driver instance: which driver implementation backs it,
// which folders it participates in, and driver-specific options
// (root for localfs; access_key/access_secret/root/changes_timer for
// objectstore).
type Service struct {
	Driver  string            `toml:"driver"`
	Folders []string          `toml:"folders"`
	Options map[string]string `toml:"options"`
}

// RoutingRule is one ordered glob-match rule: "sync" lists the services a
// matching path must be replicated to ("owners" in internal/store
// terminology); "mode" is carried for forward compatibility with
// per-rule conflict policy but only "mirror" is currently implemented.
type RoutingRule struct {
	Match string   `toml:"match"`
	Sync  []string `toml:"sync"`
	Mode  string   `toml:"mode"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// FabricConfig controls the transfer fabric's listen address and worker
// pool size.
type FabricConfig struct {
	ListenAddr  string `toml:"listen_addr"`
	MaxInFlight int    `toml:"max_in_flight"`
}
