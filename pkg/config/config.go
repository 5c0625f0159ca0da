// Package config loads and validates Argus configuration from argus.yaml
// plus environment variables. Built-in defaults are merged under any
// user-provided values.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// YAMLConfig mirrors the argus.yaml file structure.
type YAMLConfig struct {
	Pipeline   *PipelineConfig  `yaml:"pipeline"`
	MCP        *MCPConfig       `yaml:"mcp"`
	Quota      *QuotaConfig     `yaml:"quota"`
	SLO        *SLOConfig       `yaml:"slo"`
	Alerting   *AlertingConfig  `yaml:"alerting"`
	Retention  *RetentionConfig `yaml:"retention"`
	Scheduler  *SchedulerConfig `yaml:"scheduler"`
	MCPServers []McpServerYAML  `yaml:"mcp_servers"`
}

// McpServerYAML is a statically configured MCP server registered at startup.
// Servers registered through the store take precedence on name conflicts.
type McpServerYAML struct {
	Name        string         `yaml:"name"`
	Transport   string         `yaml:"transport"`
	Config      map[string]any `yaml:"config"`
	AutoConnect bool           `yaml:"auto_connect"`
	Description string         `yaml:"description"`
}

// Config is the fully resolved application configuration.
type Config struct {
	Pipeline   *PipelineConfig
	MCP        *MCPConfig
	Quota      *QuotaConfig
	SLO        *SLOConfig
	Alerting   *AlertingConfig
	Retention  *RetentionConfig
	Scheduler  *SchedulerConfig
	MCPServers []McpServerYAML
}

// Initialize loads argus.yaml from configDir (if present), merges defaults,
// and validates the result. A missing config file is not an error; the
// defaults are complete.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	cfg := &Config{
		Pipeline:  DefaultPipelineConfig(),
		MCP:       DefaultMCPConfig(),
		Quota:     DefaultQuotaConfig(),
		SLO:       DefaultSLOConfig(),
		Alerting:  DefaultAlertingConfig(),
		Retention: DefaultRetentionConfig(),
		Scheduler: DefaultSchedulerConfig(),
	}

	path := filepath.Join(configDir, "argus.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("No argus.yaml found, using built-in defaults", "path", path)
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.merge(&yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Configuration loaded", "path", path,
		"mcp_servers", len(cfg.MCPServers))
	return cfg, nil
}

// merge overlays user-provided YAML values onto the defaults.
// mergo.WithOverride makes YAML values win over defaults for set fields.
func (c *Config) merge(y *YAMLConfig) error {
	sections := []struct {
		dst, src any
	}{
		{c.Pipeline, y.Pipeline},
		{c.MCP, y.MCP},
		{c.Quota, y.Quota},
		{c.SLO, y.SLO},
		{c.Alerting, y.Alerting},
		{c.Retention, y.Retention},
		{c.Scheduler, y.Scheduler},
	}
	for _, s := range sections {
		if s.src == nil || isNilPtr(s.src) {
			continue
		}
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return err
		}
	}
	c.MCPServers = y.MCPServers
	return nil
}

func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *PipelineConfig:
		return p == nil
	case *MCPConfig:
		return p == nil
	case *QuotaConfig:
		return p == nil
	case *SLOConfig:
		return p == nil
	case *AlertingConfig:
		return p == nil
	case *RetentionConfig:
		return p == nil
	case *SchedulerConfig:
		return p == nil
	}
	return v == nil
}

// Validate checks all sections and rejects values the runtime cannot honor.
func (c *Config) Validate() error {
	validators := []func() error{
		c.Pipeline.Validate,
		c.MCP.Validate,
		c.Quota.Validate,
		c.SLO.Validate,
		c.Alerting.Validate,
		c.Retention.Validate,
		c.Scheduler.Validate,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	for _, s := range c.MCPServers {
		if s.Name == "" {
			return fmt.Errorf("%w: mcp_servers entry with empty name", ErrInvalidConfig)
		}
	}
	return nil
}
