package policy

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// TierPolicy lists the merge requirements for one risk tier.
type TierPolicy struct {
	RequiredChecks []string `json:"requiredChecks"`
}

// Contract is the risk policy contract: per-tier merge requirements plus
// the tier classification rules, loaded from the project or built in.
type Contract struct {
	Version       string                `json:"version"`
	RiskTierRules map[string][]string   `json:"riskTierRules"`
	MergePolicy   map[string]TierPolicy `json:"mergePolicy"`
	SourcePath    string                `json:"source_path"`
}

// RequiredChecksForTier returns the normalized check list for a tier.
func (c *Contract) RequiredChecksForTier(tier string) []string {
	policy, ok := c.MergePolicy[strings.ToLower(strings.TrimSpace(tier))]
	if !ok {
		return nil
	}
	return NormalizeRequiredChecks(policy.RequiredChecks)
}

// DefaultContract is the built-in contract used when the project ships
// none of the candidate files.
func DefaultContract() Contract {
	return Contract{
		Version: "1",
		RiskTierRules: map[string][]string{
			"high": {"ops/**", "deploy/**"},
			"low":  {"**"},
		},
		MergePolicy: map[string]TierPolicy{
			"high": {RequiredChecks: []string{
				"risk-policy-gate", "harness-smoke", "head-sha-gate", "evidence-manifest",
			}},
			"low": {RequiredChecks: []string{
				"risk-policy-gate", "head-sha-gate",
			}},
		},
		SourcePath: "builtin",
	}
}

// ContractFileCandidates returns the project files probed for a contract,
// in priority order.
func ContractFileCandidates(projectRoot string) []string {
	return []string{
		filepath.Join(projectRoot, "ops", "risk_policy_contract.json"),
		filepath.Join(projectRoot, ".agents", "risk_policy_contract.json"),
	}
}

// NormalizeRequiredChecks drops empties and case-insensitive duplicates
// while keeping first spellings and order.
func NormalizeRequiredChecks(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, raw := range values {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// LoadContract reads the first parseable candidate file under
// projectRoot, falling back to the built-in contract. Unreadable or
// malformed candidates are skipped, never fatal.
func LoadContract(projectRoot string) Contract {
	contract := DefaultContract()
	for _, candidate := range ContractFileCandidates(projectRoot) {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		raw, err := os.ReadFile(candidate)
		if err != nil {
			continue
		}
		parsed := gjson.ParseBytes(raw)
		if !gjson.ValidBytes(raw) || !parsed.IsObject() {
			continue
		}

		loaded := Contract{
			Version:       contract.Version,
			RiskTierRules: contract.RiskTierRules,
			MergePolicy:   contract.MergePolicy,
			SourcePath:    candidate,
		}
		if v := strings.TrimSpace(parsed.Get("version").String()); v != "" {
			loaded.Version = v
		}
		if rules := parsed.Get("riskTierRules"); rules.IsObject() {
			loaded.RiskTierRules = parseTierRules(rules)
		}
		if mergePolicy := parsed.Get("mergePolicy"); mergePolicy.IsObject() {
			loaded.MergePolicy = parseMergePolicy(mergePolicy)
		}
		return loaded
	}
	return contract
}

func parseTierRules(rules gjson.Result) map[string][]string {
	out := make(map[string][]string)
	rules.ForEach(func(key, value gjson.Result) bool {
		tier := strings.ToLower(strings.TrimSpace(key.String()))
		if tier == "" {
			return true
		}
		var patterns []string
		for _, entry := range value.Array() {
			if text := strings.TrimSpace(entry.String()); text != "" {
				patterns = append(patterns, text)
			}
		}
		out[tier] = patterns
		return true
	})
	return out
}

func parseMergePolicy(mergePolicy gjson.Result) map[string]TierPolicy {
	out := make(map[string]TierPolicy)
	mergePolicy.ForEach(func(key, value gjson.Result) bool {
		tier := strings.ToLower(strings.TrimSpace(key.String()))
		if tier == "" {
			return true
		}
		var checks []string
		for _, entry := range value.Get("requiredChecks").Array() {
			checks = append(checks, entry.String())
		}
		out[tier] = TierPolicy{RequiredChecks: NormalizeRequiredChecks(checks)}
		return true
	})
	return out
}
