package runner

import (
	"os/exec"
	"strings"
)

// splitCommand tokenizes a command template with shell-like quoting.
// Quoted runs stay one token with their quotes retained, matching how the
// stored command templates were written. Unbalanced quotes fall back to
// whitespace splitting.
func splitCommand(command string) []string {
	text := strings.TrimSpace(command)
	if text == "" {
		return nil
	}

	var (
		tokens  []string
		current strings.Builder
		quote   rune
	)
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case quote != 0:
			current.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			current.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return strings.Fields(text)
	}
	flush()
	return tokens
}

// splitExtraArgs tokenizes free-form model_params.
func splitExtraArgs(value string) []string {
	var out []string
	for _, tok := range splitCommand(value) {
		if strings.TrimSpace(tok) != "" {
			out = append(out, tok)
		}
	}
	return out
}

func hasModelFlag(argv []string) bool {
	for _, token := range argv {
		text := strings.TrimSpace(token)
		if text == "--model" || text == "-m" {
			return true
		}
		if strings.HasPrefix(text, "--model=") {
			return true
		}
	}
	return false
}

func hasAgentsFlag(argv []string) bool {
	for _, token := range argv {
		text := strings.TrimSpace(token)
		if text == "--agents" || strings.HasPrefix(text, "--agents=") {
			return true
		}
	}
	return false
}

func hasPromptFlag(argv []string) bool {
	for _, token := range argv {
		text := strings.TrimSpace(token)
		if text == "-p" || text == "--prompt" {
			return true
		}
		if strings.HasPrefix(text, "--prompt=") {
			return true
		}
	}
	return false
}

// hasCodexMultiAgentFlag detects an explicit multi-agent switch, either a
// dedicated flag or an `--enable multi_agent` pair.
func hasCodexMultiAgentFlag(argv []string) bool {
	for i, token := range argv {
		text := strings.TrimSpace(token)
		if text == "--multi-agent" || text == "--enable-multi-agent" {
			return true
		}
		if text == "--enable" && i+1 < len(argv) && strings.TrimSpace(argv[i+1]) == "multi_agent" {
			return true
		}
	}
	return false
}

// hasCodexMultiAgentConfigToken detects a `-c`-style config assignment
// enabling multi-agent, e.g. "features.multi_agent=true".
func hasCodexMultiAgentConfigToken(token string) bool {
	text := strings.TrimSpace(token)
	key, value, ok := strings.Cut(text, "=")
	if !ok {
		return false
	}
	if !strings.HasSuffix(strings.TrimSpace(key), "multi_agent") {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func hasCodexMultiAgentConfig(argv []string) bool {
	for _, token := range argv {
		if hasCodexMultiAgentConfigToken(token) {
			return true
		}
	}
	return false
}

// normalizeGeminiApprovalFlags drops -y/--yolo when --approval-mode is
// also present. The gemini CLI treats the two as mutually exclusive.
func normalizeGeminiApprovalFlags(argv []string) []string {
	hasYolo := false
	hasApprovalMode := false
	for _, token := range argv {
		text := strings.TrimSpace(token)
		if text == "-y" || text == "--yolo" {
			hasYolo = true
		} else if text == "--approval-mode" || strings.HasPrefix(text, "--approval-mode=") {
			hasApprovalMode = true
		}
	}
	if !hasYolo || !hasApprovalMode {
		return argv
	}

	out := make([]string, 0, len(argv))
	for _, token := range argv {
		text := strings.TrimSpace(token)
		if text == "-y" || text == "--yolo" {
			continue
		}
		out = append(out, token)
	}
	return out
}

// buildArgv renders the final command line for one invocation.
func buildArgv(spec Spec, provider, model, modelParams string, claudeTeamAgents, codexMultiAgents bool) []string {
	argv := splitCommand(spec.Command)

	modelText := strings.TrimSpace(model)
	if modelText != "" && !hasModelFlag(argv) {
		flag := strings.TrimSpace(spec.ModelFlag)
		if flag == "" {
			flag = modelFlagByProvider[strings.ToLower(strings.TrimSpace(provider))]
		}
		if flag != "" {
			argv = append(argv, flag, modelText)
		}
	}

	argv = append(argv, splitExtraArgs(modelParams)...)

	providerText := strings.ToLower(strings.TrimSpace(provider))
	if providerText == "gemini" {
		argv = normalizeGeminiApprovalFlags(argv)
	}
	if providerText == "claude" && spec.Capabilities.ClaudeTeamAgents {
		if claudeTeamAgents && !hasAgentsFlag(argv) {
			argv = append(argv, "--agents", "{}")
		}
	}
	if providerText == "codex" && spec.Capabilities.CodexMultiAgents {
		if codexMultiAgents && !hasCodexMultiAgentFlag(argv) && !hasCodexMultiAgentConfig(argv) {
			argv = append(argv, "-c", "features.multi_agent=true")
		}
	}
	return argv
}

// prepareRuntimeInvocation finalizes argv and stdin for one attempt.
// Gemini runs far more reliably non-interactively, so the prompt moves to
// --prompt with empty stdin unless a prompt flag is already present.
func prepareRuntimeInvocation(argv []string, provider, prompt string) ([]string, string) {
	if strings.ToLower(strings.TrimSpace(provider)) != "gemini" {
		return argv, prompt
	}
	if hasPromptFlag(argv) {
		return argv, prompt
	}
	out := make([]string, 0, len(argv)+2)
	out = append(out, argv...)
	out = append(out, "--prompt", prompt)
	return out, ""
}

// resolveExecutable replaces the first argv token with its PATH-resolved
// absolute location when discoverable.
func resolveExecutable(argv []string) []string {
	if len(argv) == 0 {
		return argv
	}
	first := strings.TrimSpace(argv[0])
	if first == "" {
		return argv
	}
	resolved, err := exec.LookPath(first)
	if err != nil || resolved == "" {
		return argv
	}
	patched := make([]string, len(argv))
	copy(patched, argv)
	patched[0] = resolved
	return patched
}

func formatCommand(argv []string) string {
	return strings.Join(argv, " ")
}

// normalizeOutputForProvider applies provider-specific cleanup. Only the
// codex CLI needs it.
func normalizeOutputForProvider(provider, output string) string {
	if strings.ToLower(strings.TrimSpace(provider)) != "codex" {
		return output
	}
	return normalizeCodexExecOutput(output)
}

// normalizeCodexExecOutput strips codex exec chrome: everything from the
// "OpenAI Codex v..." banner on, the echoed preamble up to the last bare
// "codex" marker line, and "tokens used:" footers.
func normalizeCodexExecOutput(output string) string {
	lines := strings.Split(output, "\n")

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "OpenAI Codex v") {
			lines = lines[:i]
			break
		}
	}

	marker := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "codex" {
			marker = i
		}
	}
	if marker >= 0 {
		lines = lines[marker+1:]
	}

	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "tokens used:") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
