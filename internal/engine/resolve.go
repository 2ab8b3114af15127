package engine

import (
	"sort"
	"strings"

	"github.com/hangw/agentcheck/internal/task"
)

// NormalizeProviderModels lowercases provider keys and drops blank
// entries. The result always maps usable keys to usable values.
func NormalizeProviderModels(value map[string]string) map[string]string {
	return normalizeProviderKeyed(value)
}

// NormalizeProviderModelParams lowercases provider keys and drops blank
// entries.
func NormalizeProviderModelParams(value map[string]string) map[string]string {
	return normalizeProviderKeyed(value)
}

func normalizeProviderKeyed(value map[string]string) map[string]string {
	out := map[string]string{}
	for key, raw := range value {
		provider := strings.ToLower(strings.TrimSpace(key))
		entry := strings.TrimSpace(raw)
		if provider == "" || entry == "" {
			continue
		}
		out[provider] = entry
	}
	return out
}

// NormalizeParticipantModels keeps exact-case participant keys and adds
// lowercase aliases so lookups succeed for either spelling. An explicit
// lowercase entry wins over an alias derived from a cased one.
func NormalizeParticipantModels(value map[string]string) map[string]string {
	return normalizeParticipantKeyed(value)
}

// NormalizeParticipantModelParams keeps exact-case participant keys and
// adds lowercase aliases.
func NormalizeParticipantModelParams(value map[string]string) map[string]string {
	return normalizeParticipantKeyed(value)
}

func normalizeParticipantKeyed(value map[string]string) map[string]string {
	out := map[string]string{}
	for key, raw := range value {
		participant := strings.TrimSpace(key)
		entry := strings.TrimSpace(raw)
		if participant == "" || entry == "" {
			continue
		}
		out[participant] = entry
	}
	for _, participant := range sortedKeys(out) {
		lowered := strings.ToLower(participant)
		if _, ok := out[lowered]; !ok {
			out[lowered] = out[participant]
		}
	}
	return out
}

// NormalizeParticipantAgentOverrides trims participant keys and mirrors
// each entry under its lowercase spelling.
func NormalizeParticipantAgentOverrides(value map[string]bool) map[string]bool {
	cleaned := map[string]bool{}
	for key, enabled := range value {
		participant := strings.TrimSpace(key)
		if participant == "" {
			continue
		}
		cleaned[participant] = enabled
	}
	out := map[string]bool{}
	keys := make([]string, 0, len(cleaned))
	for key := range cleaned {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out[key] = cleaned[key]
		out[strings.ToLower(key)] = cleaned[key]
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResolveModel picks the model binding for a participant: exact id,
// then lowercased id, then provider fallback. Empty means unbound.
func ResolveModel(p task.Participant, providerModels, participantModels map[string]string) string {
	id := strings.TrimSpace(p.ID)
	if id != "" {
		if model := strings.TrimSpace(participantModels[id]); model != "" {
			return model
		}
		if model := strings.TrimSpace(participantModels[strings.ToLower(id)]); model != "" {
			return model
		}
	}
	return strings.TrimSpace(providerModels[p.Provider])
}

// ResolveModelParams picks free-form model parameters for a participant
// with the same precedence as ResolveModel.
func ResolveModelParams(p task.Participant, providerModelParams, participantModelParams map[string]string) string {
	id := strings.TrimSpace(p.ID)
	if id != "" {
		if params := strings.TrimSpace(participantModelParams[id]); params != "" {
			return params
		}
		if params := strings.TrimSpace(participantModelParams[strings.ToLower(id)]); params != "" {
			return params
		}
	}
	return strings.TrimSpace(providerModelParams[p.Provider])
}

// ResolveAgentToggle applies per-participant overrides (exact id first,
// then lowercased) on top of the task-wide toggle.
func ResolveAgentToggle(p task.Participant, globalEnabled bool, overrides map[string]bool) bool {
	id := strings.TrimSpace(p.ID)
	if id != "" {
		if enabled, ok := overrides[id]; ok {
			return enabled
		}
		if enabled, ok := overrides[strings.ToLower(id)]; ok {
			return enabled
		}
	}
	return globalEnabled
}
