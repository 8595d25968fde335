package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// knownDrivers are the adapter implementations registered under
// internal/driver; Validate rejects a service naming anything else.
var knownDrivers = map[string]bool{
	"localfs":     true,
	"objectstore": true,
}

// Validate checks all configuration values and returns every error found
// (errors.Join), so a user sees the complete set of problems in one pass
// rather than fixing them one at a time.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServices(cfg.Services)...)
	errs = append(errs, validateRules(cfg.Rules, cfg.Services)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateFabric(&cfg.Fabric)...)

	return errors.Join(errs...)
}

func validateServices(services map[string]Service) []error {
	var errs []error

	for name, svc := range services {
		if svc.Driver == "" {
			errs = append(errs, fmt.Errorf("services.%s: driver is required", name))
			continue
		}

		if !knownDrivers[svc.Driver] {
			errs = append(errs, fmt.Errorf("services.%s: unknown driver %q", name, svc.Driver))
		}

		if len(svc.Folders) == 0 {
			errs = append(errs, fmt.Errorf("services.%s: at least one folder is required", name))
		}

		for _, f := range svc.Folders {
			if !filepath.IsAbs(f) {
				errs = append(errs, fmt.Errorf("services.%s: folder %q must be absolute", name, f))
			}
		}

		if svc.Driver == "localfs" && svc.Options["root"] == "" {
			errs = append(errs, fmt.Errorf("services.%s: localfs requires options.root", name))
		}
	}

	return errs
}

func validateRules(rules []RoutingRule, services map[string]Service) []error {
	var errs []error

	for i, r := range rules {
		if r.Match == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: match is required", i))
		}

		if len(r.Sync) < 2 { //nolint:mnd // a rule syncing fewer than two services does nothing
			errs = append(errs, fmt.Errorf("rules[%d]: sync must list at least two services", i))
		}

		for _, name := range r.Sync {
			if _, ok := services[name]; !ok {
				errs = append(errs, fmt.Errorf("rules[%d]: sync references unknown service %q", i, name))
			}
		}

		if r.Mode != "" && r.Mode != "mirror" {
			errs = append(errs, fmt.Errorf("rules[%d]: unsupported mode %q (only \"mirror\" is implemented)", i, r.Mode))
		}
	}

	return errs
}

var knownLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if l.LogLevel != "" && !knownLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: invalid value %q", l.LogLevel))
	}

	if l.LogFormat != "" && l.LogFormat != "text" && l.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("logging.log_format: invalid value %q", l.LogFormat))
	}

	return errs
}

func validateFabric(f *FabricConfig) []error {
	var errs []error

	if f.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("fabric.max_in_flight: must be non-negative, got %d", f.MaxInFlight))
	}

	return errs
}
