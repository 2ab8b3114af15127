package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hangw/agentcheck/internal/task"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provider.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return path
}

func newTestRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r, err := NewRunnerWithEnv(func(string) string { return "" }, opts...)
	if err != nil {
		t.Fatalf("NewRunnerWithEnv failed: %v", err)
	}
	return r
}

func claudeParticipant() task.Participant {
	return task.Participant{ID: "claude#author-A", Provider: "claude", Alias: "author-A"}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		output string
		want   task.Verdict
	}{
		{"VERDICT: NO_BLOCKER", task.VerdictNoBlocker},
		{"  verdict : blocker  ", task.VerdictBlocker},
		{"preamble\nVERDICT: UNKNOWN\ntrailer", task.VerdictUnknown},
		{"the VERDICT: BLOCKER appears mid-line", task.VerdictUnknown},
		{"no directive at all", task.VerdictUnknown},
		{"", task.VerdictUnknown},
	}
	for _, tt := range tests {
		if got := ParseVerdict(tt.output); got != tt.want {
			t.Errorf("ParseVerdict(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
}

func TestParseNextAction(t *testing.T) {
	got, ok := ParseNextAction("VERDICT: BLOCKER\nNEXT_ACTION: Retry")
	if !ok || got != task.NextActionRetry {
		t.Errorf("ParseNextAction = (%q, %v), want (retry, true)", got, ok)
	}
	if _, ok := ParseNextAction("nothing here"); ok {
		t.Error("ParseNextAction should not match absent directive")
	}
}

func TestIsProviderLimitOutput(t *testing.T) {
	for _, text := range []string{
		"You have hit your limit for today",
		"Usage limit reached",
		"rate limit exceeded",
		"RateLimitExceeded",
		"RESOURCE_EXHAUSTED",
		"model_capacity_exhausted",
		"no capacity available right now",
		"Quota exceeded for quota metric",
		"error: insufficient_quota",
	} {
		if !isProviderLimitOutput(text) {
			t.Errorf("expected %q to classify as provider limit", text)
		}
	}
	if isProviderLimitOutput("") {
		t.Error("empty output should not classify as provider limit")
	}
	if isProviderLimitOutput("all good, VERDICT: NO_BLOCKER") {
		t.Error("benign output misclassified as provider limit")
	}
}

func TestClipPromptForRetry(t *testing.T) {
	if got := clipPromptForRetry("short"); got != "short" {
		t.Errorf("short prompt changed: %q", got)
	}
	long := strings.Repeat("x", 1500)
	clipped := clipPromptForRetry(long)
	if !strings.HasPrefix(clipped, strings.Repeat("x", 1200)) {
		t.Error("clipped prompt does not keep first 1200 chars")
	}
	if !strings.HasSuffix(clipped, "[retry prompt clipped: 300 chars removed]") {
		t.Errorf("clip marker wrong: %q", clipped[len(clipped)-60:])
	}
}

func TestComputeAttemptTimeout(t *testing.T) {
	if got := computeAttemptTimeout(0.0, 2); got != 0.0 {
		t.Errorf("zero budget gave %v", got)
	}
	if got := computeAttemptTimeout(90.0, 2); got != 45.0 {
		t.Errorf("split budget = %v, want 45", got)
	}
	if got := computeAttemptTimeout(30.0, 0); got != 0.0 {
		t.Errorf("no attempts left gave %v", got)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"claude -p --model x", []string{"claude", "-p", "--model", "x"}},
		{`codex exec -c "a b"`, []string{"codex", "exec", "-c", `"a b"`}},
		{"", nil},
		{"  one  ", []string{"one"}},
		{`broken "quote`, []string{"broken", `"quote`}},
	}
	for _, tt := range tests {
		got := splitCommand(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitCommand(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitCommand(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestBuildArgvModelInjection(t *testing.T) {
	spec := Spec{Command: "gemini --yolo", ModelFlag: "-m"}
	argv := buildArgv(spec, "gemini", "gemini-3-pro-preview", "", false, false)
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "-m gemini-3-pro-preview") {
		t.Errorf("model flag not injected: %v", argv)
	}

	// Template already binds a model: nothing is added.
	spec = Spec{Command: "claude -p --model claude-opus-4-6", ModelFlag: "--model"}
	argv = buildArgv(spec, "claude", "other-model", "", false, false)
	if strings.Contains(strings.Join(argv, " "), "other-model") {
		t.Errorf("model flag double-injected: %v", argv)
	}
}

func TestBuildArgvModelParamsAppended(t *testing.T) {
	spec := Spec{Command: "codex exec", ModelFlag: "-m"}
	argv := buildArgv(spec, "codex", "", "-c reasoning=high --verbose", false, false)
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "-c reasoning=high --verbose") {
		t.Errorf("model params not appended: %v", argv)
	}
}

func TestBuildArgvGeminiApprovalFixup(t *testing.T) {
	spec := Spec{Command: "gemini --yolo", ModelFlag: "-m"}
	argv := buildArgv(spec, "gemini", "", "--approval-mode yolo", false, false)
	for _, token := range argv {
		if token == "--yolo" || token == "-y" {
			t.Errorf("--yolo kept alongside --approval-mode: %v", argv)
		}
	}

	// Without --approval-mode, --yolo stays.
	argv = buildArgv(spec, "gemini", "", "", false, false)
	if !strings.Contains(strings.Join(argv, " "), "--yolo") {
		t.Errorf("--yolo dropped without conflict: %v", argv)
	}
}

func TestBuildArgvClaudeTeamAgents(t *testing.T) {
	spec := Spec{Command: "claude -p", ModelFlag: "--model",
		Capabilities: Capabilities{ClaudeTeamAgents: true}}
	argv := buildArgv(spec, "claude", "", "", true, false)
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "--agents {}") {
		t.Errorf("--agents not appended: %v", argv)
	}

	// Already present: no duplicate.
	spec.Command = "claude -p --agents={\"a\":1}"
	argv = buildArgv(spec, "claude", "", "", true, false)
	count := 0
	for _, token := range argv {
		if token == "--agents" || strings.HasPrefix(token, "--agents=") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("agents flag duplicated: %v", argv)
	}
}

func TestBuildArgvCodexMultiAgents(t *testing.T) {
	spec := Spec{Command: "codex exec", ModelFlag: "-m",
		Capabilities: Capabilities{CodexMultiAgents: true}}
	argv := buildArgv(spec, "codex", "", "", false, true)
	joined := strings.Join(argv, " ")
	if !strings.Contains(joined, "-c features.multi_agent=true") {
		t.Errorf("multi-agent config token not appended: %v", argv)
	}

	// Config token already present: no duplicate.
	spec.Command = "codex exec -c features.multi_agent=true"
	argv = buildArgv(spec, "codex", "", "", false, true)
	count := 0
	for _, token := range argv {
		if hasCodexMultiAgentConfigToken(token) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("config token duplicated: %v", argv)
	}
}

func TestCodexMultiAgentDetectionHelpers(t *testing.T) {
	if !hasCodexMultiAgentFlag([]string{"--enable", "multi_agent"}) {
		t.Error("--enable multi_agent pair not detected")
	}
	if !hasCodexMultiAgentConfigToken("features.multi_agent=true") {
		t.Error("config token not detected")
	}
	if hasCodexMultiAgentConfigToken("features.multi_agent=false") {
		t.Error("disabled config token misdetected")
	}
	if hasCodexMultiAgentFlag([]string{"--enable", "other"}) {
		t.Error("unrelated --enable pair misdetected")
	}
}

func TestPrepareRuntimeInvocationGemini(t *testing.T) {
	argv, input := prepareRuntimeInvocation([]string{"gemini", "--yolo"}, "gemini", "review please")
	if input != "" {
		t.Errorf("gemini stdin = %q, want empty", input)
	}
	found := false
	for i, token := range argv {
		if token == "--prompt" && i+1 < len(argv) && argv[i+1] == "review please" {
			found = true
		}
	}
	if !found {
		t.Errorf("prompt not moved to argv: %v", argv)
	}

	// Prompt flag already present: stdin delivery stays.
	argv, input = prepareRuntimeInvocation([]string{"gemini", "--prompt", "x"}, "gemini", "body")
	if input != "body" || len(argv) != 3 {
		t.Errorf("prompt-flagged gemini changed: %v %q", argv, input)
	}

	// Other providers keep stdin delivery.
	argv, input = prepareRuntimeInvocation([]string{"claude", "-p"}, "claude", "body")
	if input != "body" || len(argv) != 2 {
		t.Errorf("claude invocation changed: %v %q", argv, input)
	}
}

func TestNormalizeCodexExecOutput(t *testing.T) {
	if got := normalizeOutputForProvider("codex", "ok\nOpenAI Codex v0.1\nfooter"); got != "ok" {
		t.Errorf("banner truncation gave %q", got)
	}
	if got := normalizeCodexExecOutput("intro\ncodex\nvalue\ntokens used: 1"); got != "value" {
		t.Errorf("marker/footer strip gave %q", got)
	}
	if got := normalizeOutputForProvider("claude", "OpenAI Codex v0.1\nuntouched"); !strings.Contains(got, "untouched") {
		t.Errorf("non-codex output modified: %q", got)
	}
}

func TestRunnerDryRun(t *testing.T) {
	r := newTestRunner(t, WithDryRun(true))
	result, err := r.Run(context.Background(), Request{
		Participant: claudeParticipant(),
		Prompt:      "hello",
		Cwd:         t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := "[dry-run participant=claude#author-A]\nVERDICT: NO_BLOCKER\nNEXT_ACTION: pass\nSimulated output for orchestration smoke testing."
	if result.Output != want {
		t.Errorf("dry-run output = %q", result.Output)
	}
	if result.Verdict != task.VerdictNoBlocker || result.NextAction != task.NextActionPass {
		t.Errorf("dry-run classification = %s/%s", result.Verdict, result.NextAction)
	}
	if result.Returncode != 0 || result.DurationSeconds != 0.01 {
		t.Errorf("dry-run rc/duration = %d/%v", result.Returncode, result.DurationSeconds)
	}
}

func TestRunnerCommandNotConfigured(t *testing.T) {
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": ""}))
	_, err := r.Run(context.Background(), Request{
		Participant: claudeParticipant(),
		Prompt:      "hello",
		Cwd:         t.TempDir(),
	})
	runErr, ok := AsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Class != ClassCommandNotConfigured {
		t.Errorf("class = %s", runErr.Class)
	}
	if runErr.Error() != "command_not_configured provider=claude" {
		t.Errorf("reason = %q", runErr.Error())
	}
}

func TestRunnerCommandNotFound(t *testing.T) {
	r := newTestRunner(t, WithCommandOverrides(map[string]string{
		"claude": "definitely-not-a-real-binary-awe -p",
	}), WithTimeoutRetries(0))
	_, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         "hello",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 5,
	})
	runErr, ok := AsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Class != ClassCommandNotFound {
		t.Errorf("class = %s", runErr.Class)
	}
	if !strings.HasPrefix(runErr.Error(), "command_not_found provider=claude command=") {
		t.Errorf("reason = %q", runErr.Error())
	}
}

func TestRunnerCommandFailedMergesStderr(t *testing.T) {
	script := writeScript(t, "echo partial output\necho stacktrace >&2\nexit 9\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(0))
	_, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         "hello",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 10,
	})
	runErr, ok := AsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Class != ClassCommandFailed {
		t.Errorf("class = %s", runErr.Class)
	}
	if runErr.Returncode != 9 {
		t.Errorf("returncode = %d, want 9", runErr.Returncode)
	}
	if !strings.Contains(runErr.Output, "partial output") || !strings.Contains(runErr.Output, "stacktrace") {
		t.Errorf("stderr not merged: %q", runErr.Output)
	}
	if !strings.HasPrefix(runErr.Error(), "command_failed provider=claude") {
		t.Errorf("reason = %q", runErr.Error())
	}
}

func TestRunnerProviderLimit(t *testing.T) {
	script := writeScript(t, "echo 'You have hit your limit, try later'\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(0))
	_, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         "hello",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 10,
	})
	runErr, ok := AsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Class != ClassProviderLimit {
		t.Errorf("class = %s", runErr.Class)
	}
	if !strings.HasPrefix(runErr.Error(), "provider_limit provider=claude command=") {
		t.Errorf("reason = %q", runErr.Error())
	}
}

func TestRunnerSuccessParsesDirectives(t *testing.T) {
	script := writeScript(t, "data=$(cat)\necho \"analysis of: $data\"\necho 'VERDICT: BLOCKER'\necho 'NEXT_ACTION: retry'\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(0))
	result, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         "proposal body",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 10,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Verdict != task.VerdictBlocker {
		t.Errorf("verdict = %s", result.Verdict)
	}
	if result.NextAction != task.NextActionRetry {
		t.Errorf("next action = %s", result.NextAction)
	}
	if !strings.Contains(result.Output, "analysis of: proposal body") {
		t.Errorf("prompt not delivered via stdin: %q", result.Output)
	}
	if result.Returncode != 0 {
		t.Errorf("returncode = %d", result.Returncode)
	}
	if result.DurationSeconds <= 0 {
		t.Errorf("duration = %v", result.DurationSeconds)
	}
}

func TestRunnerTimeoutAfterRetries(t *testing.T) {
	script := writeScript(t, "sleep 5\necho done\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(1))
	_, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         strings.Repeat("p", 2000),
		Cwd:            t.TempDir(),
		TimeoutSeconds: 1,
	})
	runErr, ok := AsRunError(err)
	if !ok {
		t.Fatalf("expected RunError, got %v", err)
	}
	if runErr.Class != ClassCommandTimeout {
		t.Errorf("class = %s", runErr.Class)
	}
	want := fmt.Sprintf("timeout_seconds=%d attempts=%d", 1, 2)
	if !strings.Contains(runErr.Error(), want) {
		t.Errorf("reason = %q, want suffix %q", runErr.Error(), want)
	}
}

func TestRunnerStreamsOutput(t *testing.T) {
	script := writeScript(t, "data=$(cat)\necho \"OUT:$data\"\necho 'ERR:warn' >&2\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(0))

	var mu sync.Mutex
	streams := map[string]string{}
	result, err := r.Run(context.Background(), Request{
		Participant:    claudeParticipant(),
		Prompt:         "payload",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 10,
		OnStream: func(stream, chunk string) {
			mu.Lock()
			streams[stream] += chunk
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(result.Output, "OUT:payload") {
		t.Errorf("output = %q", result.Output)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(streams["stdout"], "OUT:payload") {
		t.Errorf("stdout stream = %q", streams["stdout"])
	}
	if !strings.Contains(streams["stderr"], "ERR:warn") {
		t.Errorf("stderr stream = %q", streams["stderr"])
	}
}

func TestRunnerCanceledContextPropagates(t *testing.T) {
	script := writeScript(t, "sleep 5\n")
	r := newTestRunner(t, WithCommandOverrides(map[string]string{"claude": script}), WithTimeoutRetries(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, Request{
		Participant:    claudeParticipant(),
		Prompt:         "hello",
		Cwd:            t.TempDir(),
		TimeoutSeconds: 30,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLoadSpecsFromEnv(t *testing.T) {
	env := map[string]string{
		"AWE_PROVIDER_ADAPTERS_JSON": `{"qwen": {"command": "qwen --headless", "model_flag": "-m", "capabilities": {"claude_team_agents": false, "codex_multi_agents": false}}}`,
		"AWE_CLAUDE_COMMAND":         "claude -p --effort high",
	}
	specs, err := loadSpecsFromEnv(func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("loadSpecsFromEnv failed: %v", err)
	}
	if specs["qwen"].Command != "qwen --headless" || specs["qwen"].ModelFlag != "-m" {
		t.Errorf("qwen spec = %+v", specs["qwen"])
	}
	if specs["claude"].Command != "claude -p --effort high" {
		t.Errorf("claude override lost: %+v", specs["claude"])
	}
	if specs["codex"].Command != DefaultCommands["codex"] {
		t.Errorf("codex default lost: %+v", specs["codex"])
	}

	if _, err := loadSpecsFromEnv(func(key string) string {
		if key == "AWE_PROVIDER_ADAPTERS_JSON" {
			return "{broken"
		}
		return ""
	}); err == nil {
		t.Error("invalid adapters json accepted")
	}
}

func TestParseAdapterSpecsFlatCommandForm(t *testing.T) {
	specs, err := parseAdapterSpecs(`{"Qwen": "qwen-cli --yolo", "gemini": ""}`)
	if err != nil {
		t.Fatalf("parseAdapterSpecs failed: %v", err)
	}
	if specs["qwen"].Command != "qwen-cli --yolo" {
		t.Errorf("qwen spec = %+v", specs["qwen"])
	}
	if specs["gemini"].Command != "" {
		t.Errorf("empty command should stay empty: %+v", specs["gemini"])
	}

	if _, err := parseAdapterSpecs(`{"bad#provider": "skip"}`); err == nil {
		t.Error("provider name with # accepted")
	}
}
