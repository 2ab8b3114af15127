package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hangw/agentcheck/internal/task"
)

// DefaultCommands maps built-in providers to their CLI invocations.
var DefaultCommands = map[string]string{
	"claude": "claude -p --dangerously-skip-permissions --effort low --model claude-opus-4-6",
	"codex":  "codex exec --skip-git-repo-check --dangerously-bypass-approvals-and-sandbox -c model_reasoning_effort=xhigh",
	"gemini": "gemini --yolo",
}

// modelFlagByProvider holds the per-provider model selector flag.
var modelFlagByProvider = map[string]string{
	"claude": "--model",
	"codex":  "-m",
	"gemini": "-m",
}

// Capabilities declares which agent toggles a provider understands.
type Capabilities struct {
	ClaudeTeamAgents bool `json:"claude_team_agents"`
	CodexMultiAgents bool `json:"codex_multi_agents"`
}

// Spec describes how to invoke one provider CLI.
type Spec struct {
	Command      string       `json:"command"`
	ModelFlag    string       `json:"model_flag"`
	Capabilities Capabilities `json:"capabilities"`
}

// builtinSpecs renders the default adapter table.
func builtinSpecs() map[string]Spec {
	specs := make(map[string]Spec, len(DefaultCommands))
	for provider, command := range DefaultCommands {
		specs[provider] = Spec{
			Command:   command,
			ModelFlag: modelFlagByProvider[provider],
			Capabilities: Capabilities{
				ClaudeTeamAgents: provider == task.ProviderClaude,
				CodexMultiAgents: provider == task.ProviderCodex,
			},
		}
	}
	return specs
}

// loadSpecsFromEnv layers environment configuration over the built-in
// table: AWE_PROVIDER_ADAPTERS_JSON contributes whole provider specs,
// then AWE_<PROVIDER>_COMMAND overrides individual commands.
func loadSpecsFromEnv(getenv func(string) string) (map[string]Spec, error) {
	specs := builtinSpecs()

	if raw := strings.TrimSpace(getenv("AWE_PROVIDER_ADAPTERS_JSON")); raw != "" {
		parsed, err := parseAdapterSpecs(raw)
		if err != nil {
			return nil, err
		}
		for provider, spec := range parsed {
			base := specs[provider]
			if spec.Command != "" {
				base.Command = spec.Command
			}
			if spec.ModelFlag != "" {
				base.ModelFlag = spec.ModelFlag
			}
			base.Capabilities = spec.Capabilities
			specs[provider] = base
		}
	}

	for provider := range specs {
		key := "AWE_" + strings.ToUpper(provider) + "_COMMAND"
		if cmd := strings.TrimSpace(getenv(key)); cmd != "" {
			spec := specs[provider]
			spec.Command = cmd
			specs[provider] = spec
		}
	}
	return specs, nil
}

// parseAdapterSpecs decodes the AWE_PROVIDER_ADAPTERS_JSON payload.
// Values are either a bare command string or a full spec object:
// {"<provider>": "cmd ..."} or {"<provider>": {"command": "...",
// "model_flag": "-m", "capabilities": {"claude_team_agents": false}}}.
func parseAdapterSpecs(raw string) (map[string]Spec, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("AWE_PROVIDER_ADAPTERS_JSON is not valid JSON")
	}
	specs := make(map[string]Spec)
	var parseErr error
	gjson.Parse(raw).ForEach(func(key, value gjson.Result) bool {
		provider := strings.ToLower(strings.TrimSpace(key.String()))
		if provider == "" || strings.Contains(provider, "#") {
			parseErr = fmt.Errorf("AWE_PROVIDER_ADAPTERS_JSON has invalid provider name %q", key.String())
			return false
		}
		if value.Type == gjson.String {
			specs[provider] = Spec{Command: strings.TrimSpace(value.String())}
			return true
		}
		specs[provider] = Spec{
			Command:   strings.TrimSpace(value.Get("command").String()),
			ModelFlag: strings.TrimSpace(value.Get("model_flag").String()),
			Capabilities: Capabilities{
				ClaudeTeamAgents: value.Get("capabilities.claude_team_agents").Bool(),
				CodexMultiAgents: value.Get("capabilities.codex_multi_agents").Bool(),
			},
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return specs, nil
}

// RegisterAdapterProviders registers every non-builtin provider named by
// the adapter env configuration so `provider#alias` ids parse.
func RegisterAdapterProviders(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	raw := strings.TrimSpace(getenv("AWE_PROVIDER_ADAPTERS_JSON"))
	if raw == "" {
		return nil
	}
	specs, err := parseAdapterSpecs(raw)
	if err != nil {
		return err
	}
	for provider := range specs {
		if err := task.RegisterProvider(provider); err != nil {
			return err
		}
	}
	return nil
}
