package git

import (
	"os"
	"slices"
	"strings"
)

// Environment variables controlling the promotion guard.
const (
	EnvGuardEnabled    = "AWE_PROMOTION_GUARD_ENABLED"
	EnvRequireClean    = "AWE_PROMOTION_REQUIRE_CLEAN"
	EnvAllowedBranches = "AWE_PROMOTION_ALLOWED_BRANCHES"
)

// GuardConfig controls the promotion guard for cross-repo merges.
type GuardConfig struct {
	Enabled         bool     `json:"enabled"`
	RequireClean    bool     `json:"require_clean"`
	AllowedBranches []string `json:"allowed_branches"`
}

// LoadGuardConfig reads the guard configuration from the process
// environment. The guard defaults to enabled with no branch or
// cleanliness restrictions.
func LoadGuardConfig() GuardConfig {
	return LoadGuardConfigFromEnv(os.Getenv)
}

// LoadGuardConfigFromEnv is LoadGuardConfig with an injectable
// environment, mainly for tests.
func LoadGuardConfigFromEnv(getenv func(string) string) GuardConfig {
	cfg := GuardConfig{
		Enabled:      envFlag(getenv(EnvGuardEnabled), true),
		RequireClean: envFlag(getenv(EnvRequireClean), false),
	}
	for _, seg := range strings.Split(getenv(EnvAllowedBranches), ",") {
		if seg = strings.TrimSpace(seg); seg != "" {
			cfg.AllowedBranches = append(cfg.AllowedBranches, seg)
		}
	}
	return cfg
}

func envFlag(raw string, fallback bool) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Guard is the promotion guard decision for a merge target, combining
// the configuration with the observed repository state.
type Guard struct {
	GuardConfig
	State
}

// EvaluatePromotionGuard decides whether an automatic merge may write
// into targetPath. Non-git targets pass through so plain directories
// keep working. Denials cover branches outside the allow list and, when
// required, dirty worktrees; unknown cleanliness never denies.
func (in *Inspector) EvaluatePromotionGuard(targetPath string, cfg GuardConfig) Guard {
	g := Guard{GuardConfig: cfg, State: in.ReadState(targetPath)}
	switch {
	case !cfg.Enabled:
		g.GuardAllowed, g.GuardReason = true, ReasonDisabled
	case !g.IsGitRepo:
		g.GuardAllowed, g.GuardReason = true, ReasonNonGitRepo
	case len(cfg.AllowedBranches) > 0 && g.Branch != "" && !slices.Contains(cfg.AllowedBranches, g.Branch):
		g.GuardAllowed, g.GuardReason = false, reasonBranchPrefix+g.Branch
	case cfg.RequireClean && g.WorktreeClean != nil && !*g.WorktreeClean:
		g.GuardAllowed, g.GuardReason = false, ReasonDirty
	default:
		g.GuardAllowed, g.GuardReason = true, ReasonOK
	}
	return g
}
