package task

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Builtin providers always accepted in participant ids.
const (
	ProviderClaude = "claude"
	ProviderCodex  = "codex"
	ProviderGemini = "gemini"
)

var builtinProviders = map[string]bool{
	ProviderClaude: true,
	ProviderCodex:  true,
	ProviderGemini: true,
}

var (
	extraProvidersMu sync.RWMutex
	extraProviders   = map[string]bool{}
)

// SetExtraProviders replaces the set of additional providers accepted
// beyond the builtins. Names are lowercased; blanks and names containing
// '#' are dropped. Builtins cannot be removed.
func SetExtraProviders(providers []string) {
	cleaned := map[string]bool{}
	for _, raw := range providers {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || strings.Contains(name, "#") {
			continue
		}
		if builtinProviders[name] {
			continue
		}
		cleaned[name] = true
	}
	extraProvidersMu.Lock()
	extraProviders = cleaned
	extraProvidersMu.Unlock()
}

// RegisterProvider adds a single extra provider.
func RegisterProvider(provider string) error {
	name := strings.ToLower(strings.TrimSpace(provider))
	if name == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if strings.Contains(name, "#") {
		return fmt.Errorf("provider cannot contain #")
	}
	if builtinProviders[name] {
		return nil
	}
	extraProvidersMu.Lock()
	extraProviders[name] = true
	extraProvidersMu.Unlock()
	return nil
}

// SupportedProviders returns the sorted union of builtin and extra providers.
func SupportedProviders() []string {
	extraProvidersMu.RLock()
	out := make([]string, 0, len(builtinProviders)+len(extraProviders))
	for name := range builtinProviders {
		out = append(out, name)
	}
	for name := range extraProviders {
		out = append(out, name)
	}
	extraProvidersMu.RUnlock()
	sort.Strings(out)
	return out
}

// IsSupportedProvider reports whether the provider name is accepted.
func IsSupportedProvider(provider string) bool {
	name := strings.ToLower(strings.TrimSpace(provider))
	if builtinProviders[name] {
		return true
	}
	extraProvidersMu.RLock()
	ok := extraProviders[name]
	extraProvidersMu.RUnlock()
	return ok
}

// Participant is an external CLI identity playing the author or reviewer
// role in a task.
type Participant struct {
	ID       string `json:"participant_id"`
	Provider string `json:"provider"`
	Alias    string `json:"alias"`
}

// String returns the canonical provider#alias id.
func (p Participant) String() string {
	return p.ID
}

// ParseParticipant parses a "provider#alias" id. The provider part is
// lowercased and must be a supported provider; the alias keeps its case
// and must be non-empty.
func ParseParticipant(value string) (Participant, error) {
	raw := strings.TrimSpace(value)
	if !strings.Contains(raw, "#") {
		return Participant{}, fmt.Errorf("participant id must be in provider#alias format")
	}
	provider, alias, _ := strings.Cut(raw, "#")
	provider = strings.ToLower(strings.TrimSpace(provider))
	alias = strings.TrimSpace(alias)
	if !IsSupportedProvider(provider) {
		return Participant{}, fmt.Errorf("unsupported provider: %s", provider)
	}
	if alias == "" {
		return Participant{}, fmt.Errorf("participant alias cannot be empty")
	}
	return Participant{ID: raw, Provider: provider, Alias: alias}, nil
}
