package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServiceConfig is one entry of the "services" snapshot:
// a named driver instance with its adapter options and synced folders.
type ServiceConfig struct {
	Driver  string            `json:"driver"`
	Options map[string]string `json:"options"`
	Folders []string          `json:"folders"`
}

// PutServices persists the resolved services mapping so any process (not
// just the one that loaded the config file) can inspect it, e.g. onituctl.
func (db *DB) PutServices(ctx context.Context, services map[string]ServiceConfig) error {
	raw, err := json.Marshal(services)
	if err != nil {
		return fmt.Errorf("store: encoding services snapshot: %w", err)
	}

	return db.Put(ctx, KeyServices, raw)
}

// GetServices loads the persisted services mapping.
func (db *DB) GetServices(ctx context.Context) (map[string]ServiceConfig, error) {
	raw, ok, err := db.Get(ctx, KeyServices)
	if err != nil || !ok {
		return nil, err
	}

	var services map[string]ServiceConfig

	if err := json.Unmarshal(raw, &services); err != nil {
		return nil, fmt.Errorf("store: decoding services snapshot: %w", err)
	}

	return services, nil
}

// PutRules persists the ordered routing rule table.
func (db *DB) PutRules(ctx context.Context, rules []RoutingRule) error {
	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("store: encoding rules snapshot: %w", err)
	}

	return db.Put(ctx, KeyRules, raw)
}

// GetRules loads the persisted routing rule table.
func (db *DB) GetRules(ctx context.Context) ([]RoutingRule, error) {
	raw, ok, err := db.Get(ctx, KeyRules)
	if err != nil || !ok {
		return nil, nil
	}

	var rules []RoutingRule

	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("store: decoding rules snapshot: %w", err)
	}

	return rules, nil
}
