// Package config loads agentcheck settings from built-in defaults, an
// optional YAML file in the user and project configuration directories,
// and AWE_* environment variables, applied in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ConfigFileName is the settings file name inside config directories.
	ConfigFileName = "config.yaml"
	// ConfigDir is the agentcheck configuration directory name.
	ConfigDir = ".awe-agentcheck"
)

// Workflow backend names accepted by the engine.
const (
	BackendClassic   = "classic"
	BackendLanggraph = "langgraph"
)

// Config holds process-wide settings. Sandbox placement and the
// promotion guard read their AWE_* variables directly in their packages;
// everything else funnels through here.
type Config struct {
	DatabaseURL  string `yaml:"database_url"`
	ArtifactRoot string `yaml:"artifact_root"`
	ServiceName  string `yaml:"service_name"`
	OTelEndpoint string `yaml:"otel_endpoint"`
	DryRun       bool   `yaml:"dry_run"`

	ParticipantTimeoutSeconds int `yaml:"participant_timeout_seconds"`
	CommandTimeoutSeconds     int `yaml:"command_timeout_seconds"`
	ParticipantTimeoutRetries int `yaml:"participant_timeout_retries"`
	MaxConcurrentRunningTasks int `yaml:"max_concurrent_running_tasks"`
	TaskTimeoutSeconds        int `yaml:"task_timeout_seconds"`

	WorkflowBackend string `yaml:"workflow_backend"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatabaseURL:               "sqlite:///awe_agentcheck.db",
		ArtifactRoot:              filepath.Join(ConfigDir, "artifacts"),
		ServiceName:               "awe-agentcheck",
		ParticipantTimeoutSeconds: 900,
		CommandTimeoutSeconds:     600,
		ParticipantTimeoutRetries: 1,
		MaxConcurrentRunningTasks: 2,
		TaskTimeoutSeconds:        7200,
		WorkflowBackend:           BackendLanggraph,
	}
}

// Load reads the effective configuration: defaults, then the user file
// (~/.awe-agentcheck/config.yaml), then the project file
// (./.awe-agentcheck/config.yaml), then environment variables.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv is Load with an injectable environment, mainly for tests.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()

	for _, path := range configFilePaths() {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	ApplyEnvVars(cfg, getenv)
	cfg.Normalize()
	return cfg, nil
}

// configFilePaths lists candidate config files, least specific first.
func configFilePaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ConfigDir, ConfigFileName))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ConfigDir, ConfigFileName))
	}
	return paths
}

// applyFile overlays one YAML file onto cfg. A missing file is fine; a
// malformed one is an error so typos do not silently fall back.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Normalize trims strings, clamps numeric settings to their minimums,
// and resolves the workflow backend, falling back to the default for
// unknown names.
func (c *Config) Normalize() {
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	if c.DatabaseURL == "" {
		c.DatabaseURL = Default().DatabaseURL
	}
	c.ArtifactRoot = strings.TrimSpace(c.ArtifactRoot)
	if c.ArtifactRoot == "" {
		c.ArtifactRoot = Default().ArtifactRoot
	}
	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		c.ServiceName = Default().ServiceName
	}
	c.OTelEndpoint = strings.TrimSpace(c.OTelEndpoint)

	c.ParticipantTimeoutSeconds = max(1, c.ParticipantTimeoutSeconds)
	c.CommandTimeoutSeconds = max(1, c.CommandTimeoutSeconds)
	c.ParticipantTimeoutRetries = max(0, c.ParticipantTimeoutRetries)
	c.MaxConcurrentRunningTasks = max(1, c.MaxConcurrentRunningTasks)
	c.TaskTimeoutSeconds = max(1, c.TaskTimeoutSeconds)

	switch strings.ToLower(strings.TrimSpace(c.WorkflowBackend)) {
	case BackendClassic:
		c.WorkflowBackend = BackendClassic
	case BackendLanggraph:
		c.WorkflowBackend = BackendLanggraph
	default:
		c.WorkflowBackend = BackendLanggraph
	}
}
