package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MontBlanc-69/onitu/internal/config"
)

func TestValidateRejectsRuleWithSingleSyncTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services["rep1"] = config.Service{Driver: "localfs", Folders: []string{"/"}, Options: map[string]string{"root": "/x"}}
	cfg.Rules = []config.RoutingRule{{Match: "**", Sync: []string{"rep1"}}}

	err := config.Validate(cfg)
	assert.ErrorContains(t, err, "at least two services")
}

func TestValidateRejectsUnknownSyncTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services["rep1"] = config.Service{Driver: "localfs", Folders: []string{"/"}, Options: map[string]string{"root": "/x"}}
	cfg.Rules = []config.RoutingRule{{Match: "**", Sync: []string{"rep1", "rep2"}}}

	err := config.Validate(cfg)
	assert.ErrorContains(t, err, "unknown service")
}

func TestValidateRejectsRelativeFolder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services["rep1"] = config.Service{Driver: "localfs", Folders: []string{"relative"}, Options: map[string]string{"root": "/x"}}

	err := config.Validate(cfg)
	assert.ErrorContains(t, err, "must be absolute")
}

func TestHolderUpdateIsVisibleToReaders(t *testing.T) {
	cfg1 := config.DefaultConfig()
	h := config.NewHolder(cfg1, "/etc/onitu/config.toml")

	assert.Same(t, cfg1, h.Config())

	cfg2 := config.DefaultConfig()
	h.Update(cfg2)
	assert.Same(t, cfg2, h.Config())
}
