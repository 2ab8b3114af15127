// Package policy holds the orchestration policy surface: the task policy
// template catalog and the risk policy contract with its merge-check
// requirements per risk tier.
package policy

import "github.com/hangw/agentcheck/internal/task"

// DefaultTemplate is the template applied when nothing else is requested.
const DefaultTemplate = "balanced-default"

// Defaults are the task payload values a template pre-fills.
type Defaults struct {
	SandboxMode  bool            `json:"sandbox_mode"`
	SelfLoopMode int             `json:"self_loop_mode"`
	AutoMerge    bool            `json:"auto_merge"`
	MaxRounds    int             `json:"max_rounds"`
	DebateMode   bool            `json:"debate_mode"`
	PlainMode    bool            `json:"plain_mode"`
	StreamMode   bool            `json:"stream_mode"`
	RepairMode   task.RepairMode `json:"repair_mode"`
}

// Template is one entry of the policy template catalog.
type Template struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Defaults    Defaults `json:"defaults"`
}

var catalog = []Template{
	{
		ID:          "balanced-default",
		Label:       "Balanced Default",
		Description: "General-purpose profile for most repositories.",
		Defaults: Defaults{
			SandboxMode:  true,
			SelfLoopMode: 0,
			AutoMerge:    true,
			MaxRounds:    1,
			DebateMode:   true,
			PlainMode:    true,
			StreamMode:   true,
			RepairMode:   task.RepairBalanced,
		},
	},
	{
		ID:          "safe-review",
		Label:       "Safe Review",
		Description: "Conservative profile for high-risk or large repositories.",
		Defaults: Defaults{
			SandboxMode:  true,
			SelfLoopMode: 0,
			AutoMerge:    false,
			MaxRounds:    2,
			DebateMode:   true,
			PlainMode:    true,
			StreamMode:   true,
			RepairMode:   task.RepairMinimal,
		},
	},
	{
		ID:          "rapid-fix",
		Label:       "Rapid Fix",
		Description: "Fast patch profile for small/low-risk repositories.",
		Defaults: Defaults{
			SandboxMode:  true,
			SelfLoopMode: 1,
			AutoMerge:    true,
			MaxRounds:    1,
			DebateMode:   true,
			PlainMode:    true,
			StreamMode:   true,
			RepairMode:   task.RepairMinimal,
		},
	},
	{
		ID:          "deep-evolve",
		Label:       "Deep Evolve",
		Description: "Multi-round structural evolution with stronger scrutiny.",
		Defaults: Defaults{
			SandboxMode:  true,
			SelfLoopMode: 1,
			AutoMerge:    false,
			MaxRounds:    3,
			DebateMode:   true,
			PlainMode:    true,
			StreamMode:   true,
			RepairMode:   task.RepairStructural,
		},
	},
}

// Catalog returns the templates in presentation order.
func Catalog() []Template {
	out := make([]Template, len(catalog))
	copy(out, catalog)
	return out
}

// TemplateByID returns the catalog entry for id, or nil when unknown.
func TemplateByID(id string) *Template {
	for i := range catalog {
		if catalog[i].ID == id {
			tpl := catalog[i]
			return &tpl
		}
	}
	return nil
}

// TemplateIDs returns the catalog ids in presentation order.
func TemplateIDs() []string {
	out := make([]string, len(catalog))
	for i := range catalog {
		out[i] = catalog[i].ID
	}
	return out
}

// RecommendTemplate picks a template for a repository profile. Every
// profile currently maps to the default.
func RecommendTemplate() string {
	return DefaultTemplate
}
