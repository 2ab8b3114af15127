package config

import (
	"os"
	"strconv"
	"strings"
)

// EnvVarMapping defines the mapping between environment variables and
// config fields.
var EnvVarMapping = map[string]string{
	"AWE_DATABASE_URL":                 "database_url",
	"AWE_ARTIFACT_ROOT":                "artifact_root",
	"AWE_SERVICE_NAME":                 "service_name",
	"AWE_OTEL_EXPORTER_OTLP_ENDPOINT":  "otel_endpoint",
	"AWE_DRY_RUN":                      "dry_run",
	"AWE_PARTICIPANT_TIMEOUT_SECONDS":  "participant_timeout_seconds",
	"AWE_COMMAND_TIMEOUT_SECONDS":      "command_timeout_seconds",
	"AWE_PARTICIPANT_TIMEOUT_RETRIES":  "participant_timeout_retries",
	"AWE_MAX_CONCURRENT_RUNNING_TASKS": "max_concurrent_running_tasks",
	"AWE_TASK_TIMEOUT_SECONDS":         "task_timeout_seconds",
	"AWE_WORKFLOW_BACKEND":             "workflow_backend",
}

// PassthroughEnvVars are read directly by the packages that own them:
// provider commands and adapters by the runner, sandbox placement by the
// sandbox package, promotion rules by the git package.
var PassthroughEnvVars = []string{
	"AWE_CLAUDE_COMMAND",
	"AWE_CODEX_COMMAND",
	"AWE_GEMINI_COMMAND",
	"AWE_PROVIDER_ADAPTERS_JSON",
	"AWE_SANDBOX_BASE",
	"AWE_SANDBOX_USE_PUBLIC_BASE",
	"AWE_PROMOTION_GUARD_ENABLED",
	"AWE_PROMOTION_REQUIRE_CLEAN",
	"AWE_PROMOTION_ALLOWED_BRANCHES",
}

// ApplyEnvVars applies environment variable overrides to a Config.
// Returns the config paths that were overridden.
func ApplyEnvVars(cfg *Config, getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}

	var overridden []string
	for envVar, configPath := range EnvVarMapping {
		value := getenv(envVar)
		if value == "" {
			continue
		}
		if applyEnvVar(cfg, configPath, value) {
			overridden = append(overridden, configPath)
		}
	}
	return overridden
}

// applyEnvVar applies a single environment variable to the config.
// Returns true if the value was applied.
func applyEnvVar(cfg *Config, path, value string) bool {
	switch path {
	case "database_url":
		cfg.DatabaseURL = value
	case "artifact_root":
		cfg.ArtifactRoot = value
	case "service_name":
		cfg.ServiceName = value
	case "otel_endpoint":
		cfg.OTelEndpoint = value
	case "dry_run":
		cfg.DryRun = parseBool(value)
	case "participant_timeout_seconds":
		return applyEnvInt(&cfg.ParticipantTimeoutSeconds, value, 1)
	case "command_timeout_seconds":
		return applyEnvInt(&cfg.CommandTimeoutSeconds, value, 1)
	case "participant_timeout_retries":
		return applyEnvInt(&cfg.ParticipantTimeoutRetries, value, 0)
	case "max_concurrent_running_tasks":
		return applyEnvInt(&cfg.MaxConcurrentRunningTasks, value, 1)
	case "task_timeout_seconds":
		return applyEnvInt(&cfg.TaskTimeoutSeconds, value, 1)
	case "workflow_backend":
		cfg.WorkflowBackend = value
	default:
		return false
	}
	return true
}

// applyEnvInt parses an integer override, clamping to minimum. Invalid
// values leave the current setting untouched.
func applyEnvInt(field *int, value string, minimum int) bool {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return false
	}
	*field = max(minimum, n)
	return true
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
