package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hangw/agentcheck/internal/gate"
	"github.com/hangw/agentcheck/internal/task"
	"github.com/hangw/agentcheck/internal/util"
)

// LoadPromptTemplate reads a template by name from dir, memoizing the
// contents in cache. Names must be plain file names; empty names and
// anything that could escape the template directory are rejected.
func LoadPromptTemplate(name, dir string, cache map[string]string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("template name cannot be empty")
	}
	cleaned := filepath.ToSlash(trimmed)
	if strings.Contains(cleaned, "..") || strings.ContainsAny(cleaned, `/\`) {
		return "", fmt.Errorf("template name %q escapes the template directory", name)
	}
	if cached, ok := cache[trimmed]; ok {
		return cached, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, trimmed))
	if err != nil {
		return "", fmt.Errorf("load template %s: %w", trimmed, err)
	}
	cache[trimmed] = string(data)
	return cache[trimmed], nil
}

// RenderPromptTemplate loads a template and substitutes $field references
// from fields. Unknown fields render as the empty string.
func RenderPromptTemplate(name, dir string, cache map[string]string, fields map[string]string) (string, error) {
	tmpl, err := LoadPromptTemplate(name, dir, cache)
	if err != nil {
		return "", err
	}
	return expandFields(tmpl, fields), nil
}

func expandFields(tmpl string, fields map[string]string) string {
	return os.Expand(tmpl, func(key string) string { return fields[key] })
}

// InjectPromptExtras appends optional environment context and a strategy
// hint to a base prompt, separated by blank lines.
func InjectPromptExtras(base, environmentContext, strategyHint string) string {
	parts := []string{base}
	if ctx := strings.TrimSpace(environmentContext); ctx != "" {
		parts = append(parts, ctx)
	}
	if hint := strings.TrimSpace(strategyHint); hint != "" {
		parts = append(parts, "Strategy shift hint: "+hint)
	}
	return strings.Join(parts, "\n\n")
}

// Built-in prompt templates. A configured template directory overrides
// them file-by-file under the same names.
const (
	authorTemplateName   = "author.txt"
	reviewerTemplateName = "reviewer.txt"
	debateTemplateName   = "debate_review.txt"
	replyTemplateName    = "debate_reply.txt"
	revisionTemplateName = "proposal_revision.txt"
)

const authorTemplate = `You are the author agent for task $task_id.
Title: $title
Description: $description
Round $round of $max_rounds. Repair mode: $repair_mode.
$language_line
Work inside the current directory. Propose the change for this round and
apply it to the working tree.
$evolution_line
Finish your reply with two directive lines:
VERDICT: NO_BLOCKER
NEXT_ACTION: pass`

const reviewerTemplate = `You are a reviewer agent for task $task_id.
Title: $title
Round $round of $max_rounds.
$language_line
Review the author proposal below and inspect the working tree. Cite
evidence paths for every finding.

--- proposal ---
$proposal
--- end proposal ---

Finish your reply with two directive lines:
VERDICT: NO_BLOCKER|BLOCKER|UNKNOWN
NEXT_ACTION: retry|pass|stop`

const debateTemplate = `You are a reviewer in a debate for task $task_id, round $round.
$language_line
Challenge the weakest part of the proposal below. Be specific; cite paths.

--- proposal ---
$proposal
--- end proposal ---`

const replyTemplate = `You are the author in a debate for task $task_id, round $round.
$language_line
Reviewers raised the critiques below. Defend or amend your proposal.

--- critiques ---
$critiques
--- end critiques ---`

const revisionTemplate = `You are the author agent for task $task_id, round $round.
$language_line
Reviewers deadlocked on your proposal: $blocker_count blocker and
$unknown_count unknown verdicts. Revise the proposal to resolve the
disagreement. Keep what reviewers accepted; change what they disputed.

--- previous proposal ---
$proposal
--- end previous proposal ---`

var builtinTemplates = map[string]string{
	authorTemplateName:   authorTemplate,
	reviewerTemplateName: reviewerTemplate,
	debateTemplateName:   debateTemplate,
	replyTemplateName:    replyTemplate,
	revisionTemplateName: revisionTemplate,
}

// template returns the template body for name, preferring a file in the
// configured template directory over the built-in text.
func (e *Engine) template(name string) string {
	if e.templateDir != "" {
		e.cacheMu.Lock()
		body, err := LoadPromptTemplate(name, e.templateDir, e.templates)
		e.cacheMu.Unlock()
		if err == nil {
			return body
		}
	}
	return builtinTemplates[name]
}

func languageLine(language string) string {
	if task.NormalizeLanguage(language) == "zh" {
		return "Respond in Chinese (中文)."
	}
	return "Respond in English."
}

func evolutionLine(level int) string {
	switch task.ClampEvolutionLevel(level) {
	case 1:
		return "Evolution level 1: prefer minimal, targeted edits."
	case 2:
		return "Evolution level 2: moderate refactors are allowed when they reduce defect risk."
	case 3:
		return "Evolution level 3: structural rework is allowed when it clearly improves the design."
	default:
		return ""
	}
}

func plainModeLine(plain bool) string {
	if plain {
		return "Reply in plain text without markdown formatting."
	}
	return ""
}

func (e *Engine) baseFields(cfg RunConfig, round int) map[string]string {
	return map[string]string{
		"task_id":       cfg.TaskID,
		"title":         cfg.Title,
		"description":   cfg.Description,
		"round":         strconv.Itoa(round),
		"max_rounds":    strconv.Itoa(cfg.MaxRounds),
		"repair_mode":   string(cfg.RepairMode),
		"language_line": joinLines(languageLine(cfg.ConversationLanguage), plainModeLine(cfg.PlainMode)),
	}
}

func (e *Engine) authorPrompt(cfg RunConfig, round int, strategyHint string) string {
	fields := e.baseFields(cfg, round)
	fields["evolution_line"] = evolutionLine(cfg.EvolutionLevel)
	base := expandFields(e.template(authorTemplateName), fields)
	return InjectPromptExtras(base, environmentContext(cfg), strategyHint)
}

func (e *Engine) reviewerPrompt(cfg RunConfig, round int, proposal string) string {
	fields := e.baseFields(cfg, round)
	fields["proposal"] = util.ClipText(proposal, util.DefaultClipChars)
	return expandFields(e.template(reviewerTemplateName), fields)
}

func (e *Engine) debateReviewPrompt(cfg RunConfig, round int, proposal string) string {
	fields := e.baseFields(cfg, round)
	fields["proposal"] = util.ClipText(proposal, util.DefaultClipChars)
	return expandFields(e.template(debateTemplateName), fields)
}

func (e *Engine) debateReplyPrompt(cfg RunConfig, round int, critiques []string) string {
	fields := e.baseFields(cfg, round)
	fields["critiques"] = util.ClipText(strings.Join(critiques, "\n\n"), util.DefaultClipChars)
	return expandFields(e.template(replyTemplateName), fields)
}

func (e *Engine) revisionPrompt(cfg RunConfig, round int, proposal string, blockers, unknowns int) string {
	fields := e.baseFields(cfg, round)
	fields["proposal"] = util.ClipText(proposal, util.DefaultClipChars)
	fields["blocker_count"] = strconv.Itoa(blockers)
	fields["unknown_count"] = strconv.Itoa(unknowns)
	return expandFields(e.template(revisionTemplateName), fields)
}

// environmentContext summarizes the execution surroundings appended to
// author prompts.
func environmentContext(cfg RunConfig) string {
	lines := []string{"Environment:", "- workspace: " + cfg.Cwd}
	if cfg.TestCommand != "" {
		lines = append(lines, "- test command: "+cfg.TestCommand)
	}
	if cfg.LintCommand != "" {
		lines = append(lines, "- lint command: "+cfg.LintCommand)
	}
	if cfg.SandboxUsed {
		lines = append(lines, "- sandboxed: changes stay in this workspace until merged")
	}
	if cfg.EvolveUntil != "" {
		lines = append(lines, "- evolve until: "+cfg.EvolveUntil)
	}
	return strings.Join(lines, "\n")
}

// strategyHintForReason turns the previous round's gate reason into the
// hint injected into the next author prompt.
func strategyHintForReason(reason string) string {
	switch reason {
	case gate.ReasonTestsFailed:
		return "tests failed last round; reproduce the failures and fix root causes before editing further"
	case gate.ReasonLintFailed:
		return "lint failed last round; run the linter locally and clear every finding"
	case gate.ReasonReviewBlocker:
		return "a reviewer raised a blocker; address its evidence directly instead of rewriting unrelated code"
	case gate.ReasonReviewUnknown:
		return "a reviewer could not reach a verdict; make the change smaller and cite evidence for each edit"
	case gate.ReasonReviewMissing:
		return "no reviewer verdicts arrived; keep the change minimal and self-explanatory"
	default:
		return "change your approach from the previous round"
	}
}

func joinLines(lines ...string) string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
