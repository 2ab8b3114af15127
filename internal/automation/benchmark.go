package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/policy"
	"github.com/hangw/agentcheck/internal/service"
	"github.com/hangw/agentcheck/internal/task"
	"github.com/hangw/agentcheck/internal/util"
)

// BenchmarkTask is one corpus entry.
type BenchmarkTask struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DefaultBenchmarkTasks is the built-in corpus used when no tasks file
// is supplied.
func DefaultBenchmarkTasks() []BenchmarkTask {
	return []BenchmarkTask{
		{ID: "validation-hardening", Title: "Benchmark: input validation hardening",
			Description: "Audit service input validation and fix one concrete reliability bug with tests."},
		{ID: "task-state-transition", Title: "Benchmark: task state transition reliability",
			Description: "Inspect task start/cancel/status transitions and patch one race or stale-state issue."},
		{ID: "conversation-readability", Title: "Benchmark: conversation readability quality",
			Description: "Improve conversation clarity by reducing noisy output and preserving key evidence paths."},
		{ID: "history-traceability", Title: "Benchmark: project history traceability",
			Description: "Check project history/event lineage and fix one missing or misleading trace record path."},
		{ID: "watchdog-stability", Title: "Benchmark: watchdog stability",
			Description: "Audit watchdog timeout/stall logic and improve one reliability edge case."},
		{ID: "security-guardrails", Title: "Benchmark: security guardrails",
			Description: "Review service guardrails for risky defaults and tighten one concrete exposure vector."},
	}
}

// LoadBenchmarkTasks reads a JSON corpus; a missing or malformed file
// yields the default corpus.
func LoadBenchmarkTasks(path string) []BenchmarkTask {
	loaded := loadTaskList(path, "task")
	if len(loaded) == 0 {
		return DefaultBenchmarkTasks()
	}
	return loaded
}

// LoadRegressionTasks reads the regression corpus; missing or malformed
// files yield nothing.
func LoadRegressionTasks(path string) []BenchmarkTask {
	return loadTaskList(path, "regression")
}

func loadTaskList(path, idPrefix string) []BenchmarkTask {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var raw []BenchmarkTask
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	var out []BenchmarkTask
	for i, item := range raw {
		item.Title = strings.TrimSpace(item.Title)
		item.Description = strings.TrimSpace(item.Description)
		if item.Title == "" || item.Description == "" {
			continue
		}
		if strings.TrimSpace(item.ID) == "" {
			item.ID = fmt.Sprintf("%s-%02d", idPrefix, i+1)
		}
		out = append(out, item)
	}
	return out
}

// MergeBenchmarkTasks concatenates corpora, dropping duplicate ids
// (case-insensitive, first occurrence wins) and incomplete entries.
func MergeBenchmarkTasks(base, extras []BenchmarkTask) []BenchmarkTask {
	var merged []BenchmarkTask
	seen := map[string]bool{}
	for _, item := range append(append([]BenchmarkTask(nil), base...), extras...) {
		id := strings.TrimSpace(item.ID)
		if id == "" || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Description) == "" {
			continue
		}
		key := strings.ToLower(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, item)
	}
	return merged
}

// BenchmarkResult is one terminal task outcome under a variant.
type BenchmarkResult struct {
	Variant         string  `json:"variant"`
	TaskID          string  `json:"task_id"`
	BenchmarkID     string  `json:"benchmark_id"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// BenchmarkSummary aggregates one variant's results.
type BenchmarkSummary struct {
	Total        int `json:"total"`
	Passed       int `json:"passed"`
	FailedGate   int `json:"failed_gate"`
	FailedSystem int `json:"failed_system"`
	Canceled     int `json:"canceled"`
	TimeoutLike  int `json:"timeout_like"`

	PassRate           float64 `json:"pass_rate"`
	FailedGateRate     float64 `json:"failed_gate_rate"`
	FailedSystemRate   float64 `json:"failed_system_rate"`
	TimeoutLikeRate    float64 `json:"timeout_like_rate"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// SummarizeBenchmarkResults computes per-variant counts and rates.
func SummarizeBenchmarkResults(results []BenchmarkResult) BenchmarkSummary {
	s := BenchmarkSummary{Total: len(results)}
	var durationSum float64
	var durationCount int
	for _, row := range results {
		switch row.Status {
		case string(task.StatusPassed):
			s.Passed++
		case string(task.StatusFailedGate):
			s.FailedGate++
		case string(task.StatusFailedSystem):
			s.FailedSystem++
		case string(task.StatusCanceled):
			s.Canceled++
		}
		reason := strings.ToLower(row.Reason)
		if strings.Contains(reason, "timeout") || strings.Contains(reason, "watchdog") {
			s.TimeoutLike++
		}
		if row.DurationSeconds > 0 {
			durationSum += row.DurationSeconds
			durationCount++
		}
	}
	if s.Total > 0 {
		s.PassRate = round4(float64(s.Passed) / float64(s.Total))
		s.FailedGateRate = round4(float64(s.FailedGate) / float64(s.Total))
		s.FailedSystemRate = round4(float64(s.FailedSystem) / float64(s.Total))
		s.TimeoutLikeRate = round4(float64(s.TimeoutLike) / float64(s.Total))
	}
	if durationCount > 0 {
		s.AvgDurationSeconds = round2(durationSum / float64(durationCount))
	}
	return s
}

// BenchmarkComparison holds the B minus A deltas.
type BenchmarkComparison struct {
	PassRateDelta           float64 `json:"pass_rate_delta"`
	TimeoutLikeRateDelta    float64 `json:"timeout_like_rate_delta"`
	FailedGateRateDelta     float64 `json:"failed_gate_rate_delta"`
	FailedSystemRateDelta   float64 `json:"failed_system_rate_delta"`
	AvgDurationSecondsDelta float64 `json:"avg_duration_seconds_delta"`
}

// CompareBenchmarkSummaries computes B minus A.
func CompareBenchmarkSummaries(a, b BenchmarkSummary) BenchmarkComparison {
	return BenchmarkComparison{
		PassRateDelta:           round4(b.PassRate - a.PassRate),
		TimeoutLikeRateDelta:    round4(b.TimeoutLikeRate - a.TimeoutLikeRate),
		FailedGateRateDelta:     round4(b.FailedGateRate - a.FailedGateRate),
		FailedSystemRateDelta:   round4(b.FailedSystemRate - a.FailedSystemRate),
		AvgDurationSecondsDelta: round2(b.AvgDurationSeconds - a.AvgDurationSeconds),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// BuildBenchmarkMarkdown renders the A/B report.
func BuildBenchmarkMarkdown(variantAName, variantBName string, a, b BenchmarkSummary, cmp BenchmarkComparison, generatedAt string) string {
	var sb strings.Builder
	sb.WriteString("# Benchmark A/B Report\n\n")
	fmt.Fprintf(&sb, "Generated at: %s\n", generatedAt)
	writeVariant := func(heading, name string, s BenchmarkSummary) {
		fmt.Fprintf(&sb, "\n## %s\n", heading)
		fmt.Fprintf(&sb, "- Name: %s\n", name)
		fmt.Fprintf(&sb, "- Pass rate: %g\n", s.PassRate)
		fmt.Fprintf(&sb, "- Timeout-like rate: %g\n", s.TimeoutLikeRate)
		fmt.Fprintf(&sb, "- Failed-gate rate: %g\n", s.FailedGateRate)
		fmt.Fprintf(&sb, "- Failed-system rate: %g\n", s.FailedSystemRate)
		fmt.Fprintf(&sb, "- Avg duration seconds: %g\n", s.AvgDurationSeconds)
	}
	writeVariant("Variant A", variantAName, a)
	writeVariant("Variant B", variantBName, b)
	sb.WriteString("\n## Delta (B - A)\n")
	fmt.Fprintf(&sb, "- pass_rate_delta: %g\n", cmp.PassRateDelta)
	fmt.Fprintf(&sb, "- timeout_like_rate_delta: %g\n", cmp.TimeoutLikeRateDelta)
	fmt.Fprintf(&sb, "- failed_gate_rate_delta: %g\n", cmp.FailedGateRateDelta)
	fmt.Fprintf(&sb, "- failed_system_rate_delta: %g\n", cmp.FailedSystemRateDelta)
	fmt.Fprintf(&sb, "- avg_duration_seconds_delta: %g\n", cmp.AvgDurationSecondsDelta)
	return sb.String()
}

// Variant is one arm of the A/B comparison: a policy template plus raw
// task payload overrides applied on top of it.
type Variant struct {
	Name      string         `json:"name"`
	Template  string         `json:"template"`
	Overrides map[string]any `json:"overrides,omitempty"`
}

// BenchmarkConfig configures the A/B driver.
type BenchmarkConfig struct {
	WorkspacePath     string
	TasksFile         string
	RegressionFile    string
	IncludeRegression bool
	ReportDir         string

	VariantA Variant
	VariantB Variant

	Author      string
	Reviewers   []string
	TestCommand string
	LintCommand string

	PollSeconds        int
	TaskTimeoutSeconds int
}

// BenchmarkReport is the persisted A/B outcome.
type BenchmarkReport struct {
	GeneratedAt       string `json:"generated_at"`
	WorkspacePath     string `json:"workspace_path"`
	TasksFile         string `json:"tasks_file"`
	RegressionFile    string `json:"regression_file"`
	IncludeRegression bool   `json:"include_regression"`
	TasksTotal        int    `json:"tasks_total"`

	VariantA VariantReport       `json:"variant_a"`
	VariantB VariantReport       `json:"variant_b"`
	Compare  BenchmarkComparison `json:"comparison"`

	JSONPath     string `json:"-"`
	MarkdownPath string `json:"-"`
}

// VariantReport is one arm's results plus summary.
type VariantReport struct {
	Name      string            `json:"name"`
	Template  string            `json:"template"`
	Overrides map[string]any    `json:"overrides,omitempty"`
	Results   []BenchmarkResult `json:"results"`
	Summary   BenchmarkSummary  `json:"summary"`
}

// Benchmark runs the corpus under two policy variants and writes the
// comparison reports.
type Benchmark struct {
	tasks TaskController
	cfg   BenchmarkConfig
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// BenchmarkOption configures a Benchmark driver.
type BenchmarkOption func(*Benchmark)

// WithBenchmarkClock replaces the wall clock, for tests.
func WithBenchmarkClock(now func() time.Time) BenchmarkOption {
	return func(b *Benchmark) {
		b.now = now
	}
}

// NewBenchmark creates the driver with clamped intervals.
func NewBenchmark(tasks TaskController, cfg BenchmarkConfig, opts ...BenchmarkOption) *Benchmark {
	if cfg.PollSeconds < 1 {
		cfg.PollSeconds = 5
	}
	if cfg.TaskTimeoutSeconds < 60 {
		cfg.TaskTimeoutSeconds = 3600
	}
	if cfg.VariantA.Name == "" {
		cfg.VariantA.Name = "A"
	}
	if cfg.VariantB.Name == "" {
		cfg.VariantB.Name = "B"
	}
	if cfg.VariantA.Template == "" {
		cfg.VariantA.Template = policy.DefaultTemplate
	}
	if cfg.VariantB.Template == "" {
		cfg.VariantB.Template = "safe-review"
	}
	b := &Benchmark{tasks: tasks, cfg: cfg, now: time.Now}
	b.sleep = func(ctx context.Context, d time.Duration) {
		select {
		case <-ctx.Done():
		case <-time.After(d):
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run executes both variants over the corpus and writes the reports.
func (b *Benchmark) Run(ctx context.Context) (*BenchmarkReport, error) {
	corpus := LoadBenchmarkTasks(b.cfg.TasksFile)
	if b.cfg.IncludeRegression {
		corpus = MergeBenchmarkTasks(corpus, LoadRegressionTasks(b.cfg.RegressionFile))
	}
	if len(corpus) == 0 {
		return nil, awerr.ErrConfigInvalid("tasks_file", "no benchmark tasks loaded")
	}

	resultsA, err := b.runVariant(ctx, b.cfg.VariantA, corpus)
	if err != nil {
		return nil, err
	}
	resultsB, err := b.runVariant(ctx, b.cfg.VariantB, corpus)
	if err != nil {
		return nil, err
	}

	summaryA := SummarizeBenchmarkResults(resultsA)
	summaryB := SummarizeBenchmarkResults(resultsB)
	report := &BenchmarkReport{
		GeneratedAt:       b.now().Format(time.RFC3339),
		WorkspacePath:     b.cfg.WorkspacePath,
		TasksFile:         b.cfg.TasksFile,
		RegressionFile:    b.cfg.RegressionFile,
		IncludeRegression: b.cfg.IncludeRegression,
		TasksTotal:        len(corpus),
		VariantA: VariantReport{
			Name: b.cfg.VariantA.Name, Template: b.cfg.VariantA.Template,
			Overrides: b.cfg.VariantA.Overrides, Results: resultsA, Summary: summaryA,
		},
		VariantB: VariantReport{
			Name: b.cfg.VariantB.Name, Template: b.cfg.VariantB.Template,
			Overrides: b.cfg.VariantB.Overrides, Results: resultsB, Summary: summaryB,
		},
		Compare: CompareBenchmarkSummaries(summaryA, summaryB),
	}
	if err := b.writeReports(report); err != nil {
		return nil, err
	}
	return report, nil
}

// runVariant creates and drains one task per corpus entry under the
// variant's policy.
func (b *Benchmark) runVariant(ctx context.Context, variant Variant, corpus []BenchmarkTask) ([]BenchmarkResult, error) {
	var results []BenchmarkResult
	for _, entry := range corpus {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		in := b.variantInput(variant, entry)
		row, err := b.tasks.Create(ctx, in)
		if err != nil {
			return results, err
		}
		if _, err := b.tasks.StartAsync(ctx, row.TaskID); err != nil {
			return results, err
		}
		final := b.waitTerminal(ctx, row.TaskID)
		results = append(results, BenchmarkResult{
			Variant:         variant.Name,
			TaskID:          row.TaskID,
			BenchmarkID:     entry.ID,
			Title:           entry.Title,
			Status:          string(final.Status),
			Reason:          final.LastGateReason,
			DurationSeconds: round2(durationSeconds(final)),
		})
	}
	return results, nil
}

// variantInput builds the creation payload: benchmark baseline, then
// template defaults, then the variant's raw overrides.
func (b *Benchmark) variantInput(variant Variant, entry BenchmarkTask) service.CreateTaskInput {
	in := service.CreateTaskInput{
		Title:                "[" + variant.Name + "] " + entry.Title,
		Description:          entry.Description,
		AuthorParticipant:    b.cfg.Author,
		ReviewerParticipants: append([]string(nil), b.cfg.Reviewers...),
		WorkspacePath:        b.cfg.WorkspacePath,
		TestCommand:          b.cfg.TestCommand,
		LintCommand:          b.cfg.LintCommand,

		SandboxMode:    true,
		SelfLoopMode:   0,
		AutoMerge:      false,
		DebateMode:     true,
		PlainMode:      true,
		StreamMode:     true,
		MaxRounds:      1,
		RepairMode:     string(task.RepairBalanced),
		EvolutionLevel: 0,
	}
	if tpl := policy.TemplateByID(variant.Template); tpl != nil {
		in.SandboxMode = tpl.Defaults.SandboxMode
		in.SelfLoopMode = tpl.Defaults.SelfLoopMode
		in.AutoMerge = tpl.Defaults.AutoMerge
		in.MaxRounds = tpl.Defaults.MaxRounds
		in.DebateMode = tpl.Defaults.DebateMode
		in.PlainMode = tpl.Defaults.PlainMode
		in.StreamMode = tpl.Defaults.StreamMode
		in.RepairMode = string(tpl.Defaults.RepairMode)
	}
	ApplyPayloadOverrides(&in, variant.Overrides)
	return in
}

// ApplyPayloadOverrides applies a loose JSON override map onto a
// creation payload. Unknown keys are ignored; identity fields (author,
// reviewers, workspace) cannot be overridden.
func ApplyPayloadOverrides(in *service.CreateTaskInput, overrides map[string]any) {
	for key, value := range overrides {
		switch key {
		case "sandbox_mode":
			if v, ok := value.(bool); ok {
				in.SandboxMode = v
			}
		case "auto_merge":
			if v, ok := value.(bool); ok {
				in.AutoMerge = v
			}
		case "debate_mode":
			if v, ok := value.(bool); ok {
				in.DebateMode = v
			}
		case "plain_mode":
			if v, ok := value.(bool); ok {
				in.PlainMode = v
			}
		case "stream_mode":
			if v, ok := value.(bool); ok {
				in.StreamMode = v
			}
		case "max_rounds":
			if v, ok := intValue(value); ok {
				in.MaxRounds = v
			}
		case "self_loop_mode":
			if v, ok := intValue(value); ok {
				in.SelfLoopMode = v
			}
		case "evolution_level":
			if v, ok := intValue(value); ok {
				in.EvolutionLevel = v
			}
		case "repair_mode":
			if v, ok := value.(string); ok {
				in.RepairMode = v
			}
		case "evolve_until":
			if v, ok := value.(string); ok {
				in.EvolveUntil = v
			}
		}
	}
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// waitTerminal polls until the task settles; past the timeout window it
// force-fails with a benchmark_timeout reason and reports the forced row.
func (b *Benchmark) waitTerminal(ctx context.Context, taskID string) *task.Task {
	started := b.now()
	poll := time.Duration(b.cfg.PollSeconds) * time.Second
	for {
		row, err := b.tasks.GetTask(ctx, taskID)
		if err == nil {
			if ShouldRetryStartForConcurrencyLimit(string(row.Status), row.LastGateReason) {
				b.tasks.StartAsync(ctx, taskID)
			} else if task.IsSettled(row.Status) {
				return row
			}
		}
		if ctx.Err() != nil || b.now().Sub(started) >= time.Duration(b.cfg.TaskTimeoutSeconds)*time.Second {
			reason := fmt.Sprintf("benchmark_timeout: exceeded %ds", b.cfg.TaskTimeoutSeconds)
			if forced, ffErr := b.tasks.ForceFail(ctx, taskID, reason); ffErr == nil {
				return forced
			}
			return &task.Task{TaskID: taskID, Status: task.StatusFailedSystem, LastGateReason: "benchmark_timeout"}
		}
		b.sleep(ctx, poll)
	}
}

func durationSeconds(row *task.Task) float64 {
	if row == nil || row.CreatedAt.IsZero() || row.UpdatedAt.IsZero() {
		return 0
	}
	d := row.UpdatedAt.Sub(row.CreatedAt).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// writeReports persists the JSON and markdown reports under ReportDir.
func (b *Benchmark) writeReports(report *BenchmarkReport) error {
	dir := b.cfg.ReportDir
	if dir == "" {
		dir = ".agents/benchmarks"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return awerr.ErrArtifactIO("create_benchmark_report_dir", err)
	}
	stamp := b.now().Format("20060102-150405")
	jsonPath := filepath.Join(dir, "benchmark-"+stamp+".json")
	mdPath := filepath.Join(dir, "benchmark-"+stamp+".md")

	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return awerr.ErrArtifactIO("marshal_benchmark_report", err)
	}
	if err := util.AtomicWriteFile(jsonPath, payload, 0o644); err != nil {
		return awerr.ErrArtifactIO("write_benchmark_report_json", err)
	}
	md := BuildBenchmarkMarkdown(report.VariantA.Name, report.VariantB.Name,
		report.VariantA.Summary, report.VariantB.Summary, report.Compare, report.GeneratedAt)
	if err := util.AtomicWriteFile(mdPath, []byte(md), 0o644); err != nil {
		return awerr.ErrArtifactIO("write_benchmark_report_md", err)
	}
	report.JSONPath = jsonPath
	report.MarkdownPath = mdPath
	return nil
}
