package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/fusion"
	"github.com/hangw/agentcheck/internal/gate"
	"github.com/hangw/agentcheck/internal/runner"
	"github.com/hangw/agentcheck/internal/task"
)

var (
	testAuthor   = task.Participant{ID: "claude#author", Provider: "claude", Alias: "author"}
	testReviewer = task.Participant{ID: "codex#rev", Provider: "codex", Alias: "rev"}
	testSecond   = task.Participant{ID: "gemini#aux", Provider: "gemini", Alias: "aux"}
)

type fakeRunner struct {
	calls []runner.Request
	fn    func(call int, req runner.Request) (*runner.Result, error)
}

func (f *fakeRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	call := len(f.calls)
	f.calls = append(f.calls, req)
	return f.fn(call, req)
}

type fakeExecutor struct {
	calls []string
	dirs  []string
	fail  map[string]bool
	err   error
}

func (f *fakeExecutor) Run(_ context.Context, command, dir string) (*gate.CommandResult, error) {
	f.calls = append(f.calls, command)
	f.dirs = append(f.dirs, dir)
	if f.err != nil {
		return nil, f.err
	}
	res := &gate.CommandResult{Command: command, Skipped: command == ""}
	if f.fail[command] {
		res.ExitCode = 1
	}
	return res, nil
}

type fakeFusion struct {
	manifest      fusion.Manifest
	result        *fusion.Result
	err           error
	manifestRoots []string
	runTaskID     string
	runSource     string
	runTarget     string
	runBefore     fusion.Manifest
}

func (f *fakeFusion) BuildManifest(root string) (fusion.Manifest, error) {
	f.manifestRoots = append(f.manifestRoots, root)
	return f.manifest, nil
}

func (f *fakeFusion) Run(taskID, sourceRoot, targetRoot string, before fusion.Manifest) (*fusion.Result, error) {
	f.runTaskID, f.runSource, f.runTarget, f.runBefore = taskID, sourceRoot, targetRoot, before
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func reviewOK(output string) *runner.Result {
	return &runner.Result{Output: output, Verdict: task.VerdictNoBlocker, Returncode: 0, DurationSeconds: 0.5}
}

func reviewWith(verdict task.Verdict) *runner.Result {
	return &runner.Result{Output: "reviewed", Verdict: verdict, Returncode: 0, DurationSeconds: 0.5}
}

func eventSink(sink *[]events.Event) Hooks {
	return Hooks{OnEvent: func(ev events.Event) { *sink = append(*sink, ev) }}
}

func typeSequence(evs []events.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, string(ev.Type))
	}
	return out
}

func lastOfType(evs []events.Event, eventType events.EventType) (events.Event, bool) {
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Type == eventType {
			return evs[i], true
		}
	}
	return events.Event{}, false
}

func baseConfig() RunConfig {
	return RunConfig{
		TaskID:      "task-1",
		Title:       "Add retry",
		Description: "Wrap the client with bounded retries.",
		Author:      testAuthor,
		Reviewers:   []task.Participant{testReviewer},
		Cwd:         "/tmp/ws",
		TestCommand: "go test ./...",
		LintCommand: "golangci-lint run",
		MaxRounds:   1,
	}
}

func TestRunPassesFirstRound(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal text", Returncode: 0, DurationSeconds: 1.2}, nil
		}
		return reviewOK("looks good"), nil
	}}
	fx := &fakeExecutor{}
	e := New(fr, fx)

	var sink []events.Event
	cfg := baseConfig()
	cfg.ProviderModels = map[string]string{"codex": "gpt-x"}

	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed || res.GateReason != gate.ReasonPassed {
		t.Fatalf("got %s/%s, want passed/passed", res.Status, res.GateReason)
	}
	if res.RoundsCompleted != 0 {
		t.Errorf("RoundsCompleted = %d, want 0", res.RoundsCompleted)
	}

	wantTypes := []string{"discussion", "review", "gate_passed"}
	if got := typeSequence(sink); !reflect.DeepEqual(got, wantTypes) {
		t.Errorf("event sequence %v, want %v", got, wantTypes)
	}
	passed, _ := lastOfType(sink, events.EventGatePassed)
	if passed.Payload["reason"] != gate.ReasonPassed {
		t.Errorf("gate_passed reason = %v", passed.Payload["reason"])
	}
	if passed.Round == nil || *passed.Round != 1 {
		t.Errorf("gate_passed round = %v", passed.Round)
	}

	if !reflect.DeepEqual(fx.calls, []string{"go test ./...", "golangci-lint run"}) {
		t.Errorf("executor calls %v", fx.calls)
	}
	if fx.dirs[0] != "/tmp/ws" {
		t.Errorf("executor dir = %q", fx.dirs[0])
	}

	if len(fr.calls) != 2 {
		t.Fatalf("runner calls = %d", len(fr.calls))
	}
	if fr.calls[1].Model != "gpt-x" {
		t.Errorf("reviewer model = %q, want provider binding", fr.calls[1].Model)
	}
	if fr.calls[1].Cwd != "/tmp/ws" {
		t.Errorf("reviewer cwd = %q", fr.calls[1].Cwd)
	}
}

func TestRunReviewBlockerFailsGate(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal"}, nil
		}
		return reviewWith(task.VerdictBlocker), nil
	}}
	e := New(fr, &fakeExecutor{})

	var sink []events.Event
	res, err := e.Run(context.Background(), baseConfig(), eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedGate || res.GateReason != gate.ReasonReviewBlocker {
		t.Fatalf("got %s/%s, want failed_gate/review_blocker", res.Status, res.GateReason)
	}
	if res.RoundsCompleted != 1 {
		t.Errorf("RoundsCompleted = %d, want 1", res.RoundsCompleted)
	}

	review, ok := lastOfType(sink, events.EventReview)
	if !ok || review.Payload["verdict"] != "blocker" {
		t.Errorf("review event verdict = %v", review.Payload["verdict"])
	}
	failed, _ := lastOfType(sink, events.EventGateFailed)
	if failed.Payload["blocker_count"] != 1 {
		t.Errorf("blocker_count = %v", failed.Payload["blocker_count"])
	}
}

func TestRunDegradesRuntimeClassedOutput(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal"}, nil
		}
		// Provider CLI exited zero after printing its failure line.
		return &runner.Result{Output: "provider_limit provider=claude command=claude -p", Verdict: task.VerdictUnknown}, nil
	}}
	e := New(fr, &fakeExecutor{})

	var sink []events.Event
	res, err := e.Run(context.Background(), baseConfig(), eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedGate || res.GateReason != gate.ReasonReviewUnknown {
		t.Fatalf("got %s/%s, want failed_gate/review_unknown", res.Status, res.GateReason)
	}

	reviewErr, ok := lastOfType(sink, events.EventReviewError)
	if !ok {
		t.Fatal("review_error event missing")
	}
	if reviewErr.Payload["reason"] != "provider_limit" {
		t.Errorf("review_error reason = %v", reviewErr.Payload["reason"])
	}
	review, ok := lastOfType(sink, events.EventReview)
	if !ok {
		t.Fatal("synthetic review event missing")
	}
	if review.Payload["verdict"] != "unknown" {
		t.Errorf("synthetic verdict = %v", review.Payload["verdict"])
	}
	output, _ := review.Payload["output"].(string)
	if !strings.Contains(output, "[review_error]") {
		t.Errorf("synthetic output %q lacks tag", output)
	}
}

func TestRunReviewerRunErrorDegrades(t *testing.T) {
	timeoutErr := &runner.RunError{
		Class:          runner.ClassCommandTimeout,
		Provider:       "codex",
		Command:        "codex exec",
		TimeoutSeconds: 900,
		Attempts:       2,
	}
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal"}, nil
		}
		return nil, timeoutErr
	}}
	e := New(fr, &fakeExecutor{})

	var sink []events.Event
	res, err := e.Run(context.Background(), baseConfig(), eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedGate || res.GateReason != gate.ReasonReviewUnknown {
		t.Fatalf("got %s/%s, want failed_gate/review_unknown", res.Status, res.GateReason)
	}

	reviewErr, _ := lastOfType(sink, events.EventReviewError)
	if reviewErr.Payload["reason"] != "command_timeout" {
		t.Errorf("reason = %v", reviewErr.Payload["reason"])
	}
	if reviewErr.Payload["command"] != "codex exec" {
		t.Errorf("command = %v", reviewErr.Payload["command"])
	}
}

func TestRunAuthorRunErrorFailsSystem(t *testing.T) {
	limitErr := &runner.RunError{Class: runner.ClassProviderLimit, Provider: "claude", Command: "claude -p"}
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		return nil, limitErr
	}}
	e := New(fr, &fakeExecutor{})

	var sink []events.Event
	res, err := e.Run(context.Background(), baseConfig(), eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedSystem {
		t.Fatalf("status = %s, want failed_system", res.Status)
	}
	want := "workflow_error: provider_limit provider=claude command=claude -p"
	if res.GateReason != want {
		t.Errorf("gate reason %q, want %q", res.GateReason, want)
	}

	discErr, ok := lastOfType(sink, events.EventProposalDiscussionError)
	if !ok {
		t.Fatal("proposal_discussion_error event missing")
	}
	if discErr.Payload["stage"] != "discussion" || discErr.Payload["reason"] != "provider_limit" {
		t.Errorf("payload = %v", discErr.Payload)
	}
}

func TestRunAuthorPlainErrorFailsSystem(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		return nil, errors.New("socket closed")
	}}
	e := New(fr, &fakeExecutor{})

	res, err := e.Run(context.Background(), baseConfig(), Hooks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedSystem || res.GateReason != "workflow_error: socket closed" {
		t.Fatalf("got %s/%s", res.Status, res.GateReason)
	}
}

func TestRunConsensusStallParksWaitingManual(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		switch req.Participant.ID {
		case testAuthor.ID:
			return &runner.Result{Output: "proposal"}, nil
		case testReviewer.ID:
			return reviewWith(task.VerdictBlocker), nil
		default:
			return reviewWith(task.VerdictUnknown), nil
		}
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.Reviewers = []task.Participant{testReviewer, testSecond}

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusWaitingManual || res.GateReason != "proposal_consensus_stalled_in_round" {
		t.Fatalf("got %s/%s, want waiting_manual/proposal_consensus_stalled_in_round", res.Status, res.GateReason)
	}
	if res.RoundsCompleted != 0 {
		t.Errorf("RoundsCompleted = %d, want 0", res.RoundsCompleted)
	}

	// One initial pass plus two revision attempts, two reviewers each.
	if len(fr.calls) != 9 {
		t.Errorf("runner calls = %d, want 9", len(fr.calls))
	}

	stalled, ok := lastOfType(sink, events.EventProposalConsensusStalled)
	if !ok {
		t.Fatal("proposal_consensus_stalled event missing")
	}
	if stalled.Payload["stall_kind"] != "in_round" {
		t.Errorf("stall_kind = %v", stalled.Payload["stall_kind"])
	}
	if stalled.Payload["retry_limit"] != DefaultConsensusRetryLimit {
		t.Errorf("retry_limit = %v", stalled.Payload["retry_limit"])
	}
	if stalled.Payload["blocker_count"] != 1 || stalled.Payload["unknown_count"] != 1 {
		t.Errorf("verdict counts = %v", stalled.Payload)
	}

	var revisions, proposalReviews int
	for _, ev := range sink {
		if ev.Type == events.EventDiscussion && ev.Payload["stage"] == "proposal_revision" {
			revisions++
		}
		if ev.Type == events.EventProposalReview {
			proposalReviews++
		}
	}
	if revisions != 2 {
		t.Errorf("revision discussions = %d, want 2", revisions)
	}
	if proposalReviews != 4 {
		t.Errorf("proposal_review events = %d, want 4", proposalReviews)
	}
}

func TestRunRetryInjectsStrategyHint(t *testing.T) {
	reviewCalls := 0
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if req.Participant.ID == testAuthor.ID {
			return &runner.Result{Output: "proposal"}, nil
		}
		reviewCalls++
		if reviewCalls == 1 {
			return reviewWith(task.VerdictBlocker), nil
		}
		return reviewWith(task.VerdictNoBlocker), nil
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.MaxRounds = 2

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed {
		t.Fatalf("status = %s, want passed", res.Status)
	}
	if res.RoundsCompleted != 1 {
		t.Errorf("RoundsCompleted = %d, want 1", res.RoundsCompleted)
	}

	// Calls: author r1, review r1, author r2, review r2.
	if len(fr.calls) != 4 {
		t.Fatalf("runner calls = %d", len(fr.calls))
	}
	second := fr.calls[2].Prompt
	if !strings.Contains(second, "Strategy shift hint:") || !strings.Contains(second, "blocker") {
		t.Errorf("second author prompt lacks strategy hint:\n%s", second)
	}
	if strings.Contains(fr.calls[0].Prompt, "Strategy shift hint:") {
		t.Error("first author prompt should have no hint")
	}
}

func TestRunCancellationBetweenSteps(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		t.Fatal("runner should not be called after cancel")
		return nil, nil
	}}
	e := New(fr, &fakeExecutor{})

	var sink []events.Event
	hooks := eventSink(&sink)
	hooks.CancelRequested = func() bool { return true }

	res, err := e.Run(context.Background(), baseConfig(), hooks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusCanceled || res.GateReason != GateReasonCanceled {
		t.Fatalf("got %s/%s, want canceled/canceled", res.Status, res.GateReason)
	}
	if len(sink) != 0 {
		t.Errorf("events emitted after cancel: %v", typeSequence(sink))
	}
}

func TestRunContextErrorPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}
	e := New(fr, &fakeExecutor{})

	res, err := e.Run(ctx, baseConfig(), Hooks{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Fatalf("result = %+v, want nil", res)
	}
}

func TestRunFusionOnPass(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal"}, nil
		}
		return reviewOK("fine"), nil
	}}
	before := fusion.Manifest{"main.go": "abc"}
	ff := &fakeFusion{
		manifest: before,
		result: &fusion.Result{
			Mode:         fusion.ModeCrossRepo,
			ChangedFiles: []string{"main.go"},
			CopiedFiles:  []string{"main.go"},
			DeletedFiles: []string{},
			MergedAt:     "2026-08-24T00:00:00Z",
		},
	}
	e := New(fr, &fakeExecutor{}, WithFusionManager(ff))

	cfg := baseConfig()
	cfg.AutoMerge = true
	cfg.SandboxUsed = true
	cfg.SourceRoot = "/sandboxes/task-1"
	cfg.ProjectPath = "/repos/app"

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed {
		t.Fatalf("status = %s", res.Status)
	}

	if !reflect.DeepEqual(ff.manifestRoots, []string{"/sandboxes/task-1"}) {
		t.Errorf("manifest roots = %v", ff.manifestRoots)
	}
	if ff.runSource != "/sandboxes/task-1" || ff.runTarget != "/repos/app" {
		t.Errorf("fusion ran %q -> %q, want sandbox -> project default", ff.runSource, ff.runTarget)
	}
	if !reflect.DeepEqual(ff.runBefore, before) {
		t.Errorf("before manifest not threaded through")
	}

	types := typeSequence(sink)
	want := []string{"discussion", "review", "gate_passed", "auto_merge_completed"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("event sequence %v, want %v", types, want)
	}
	merged, _ := lastOfType(sink, events.EventAutoMergeCompleted)
	if merged.Payload["mode"] != fusion.ModeCrossRepo {
		t.Errorf("mode = %v", merged.Payload["mode"])
	}
}

func TestRunFusionTargetOverride(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "p"}, nil
		}
		return reviewOK("fine"), nil
	}}
	ff := &fakeFusion{manifest: fusion.Manifest{}, result: &fusion.Result{Mode: fusion.ModeNoChanges}}
	e := New(fr, &fakeExecutor{}, WithFusionManager(ff))

	cfg := baseConfig()
	cfg.AutoMerge = true
	cfg.SandboxUsed = true
	cfg.SourceRoot = "/sandboxes/task-1"
	cfg.ProjectPath = "/repos/app"
	cfg.MergeTargetPath = "/repos/other"

	if _, err := e.Run(context.Background(), cfg, Hooks{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ff.runTarget != "/repos/other" {
		t.Errorf("target = %q, want explicit merge target", ff.runTarget)
	}
}

func TestRunFusionErrorFailsSystem(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "p"}, nil
		}
		return reviewOK("fine"), nil
	}}
	ff := &fakeFusion{manifest: fusion.Manifest{}, err: errors.New("target vanished")}
	e := New(fr, &fakeExecutor{}, WithFusionManager(ff))

	cfg := baseConfig()
	cfg.AutoMerge = true
	cfg.SandboxUsed = true
	cfg.SourceRoot = "/sandboxes/task-1"
	cfg.ProjectPath = "/repos/app"

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedSystem || res.GateReason != "auto_merge_error: target vanished" {
		t.Fatalf("got %s/%s", res.Status, res.GateReason)
	}
	if _, ok := lastOfType(sink, events.EventAutoMergeCompleted); ok {
		t.Error("auto_merge_completed should not be emitted on failure")
	}
	if _, ok := lastOfType(sink, events.EventGatePassed); !ok {
		t.Error("gate_passed should still be emitted before fusion runs")
	}
}

func TestRunSelfLoopReviewsWithAuthor(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "proposal"}, nil
		}
		return reviewOK("self check fine"), nil
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.Reviewers = nil
	cfg.SelfLoopMode = 1

	res, err := e.Run(context.Background(), cfg, Hooks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed {
		t.Fatalf("status = %s", res.Status)
	}
	if len(fr.calls) != 2 {
		t.Fatalf("runner calls = %d", len(fr.calls))
	}
	if fr.calls[1].Participant.ID != testAuthor.ID {
		t.Errorf("review went to %s, want the author", fr.calls[1].Participant.ID)
	}
}

func TestRunNoReviewersNoSelfLoop(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		return &runner.Result{Output: "proposal"}, nil
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.Reviewers = nil

	res, err := e.Run(context.Background(), cfg, Hooks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedGate || res.GateReason != gate.ReasonReviewMissing {
		t.Fatalf("got %s/%s, want failed_gate/review_missing", res.Status, res.GateReason)
	}
}

func TestRunVerificationInfrastructureError(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "p"}, nil
		}
		return reviewOK("fine"), nil
	}}
	e := New(fr, &fakeExecutor{err: errors.New("exec broken")})

	res, err := e.Run(context.Background(), baseConfig(), Hooks{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedSystem {
		t.Fatalf("status = %s", res.Status)
	}
	if res.GateReason != "workflow_error: verification: exec broken" {
		t.Errorf("gate reason = %q", res.GateReason)
	}
}

func TestRunTestFailureOutranksReviews(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		if call == 0 {
			return &runner.Result{Output: "p"}, nil
		}
		return reviewOK("fine"), nil
	}}
	fx := &fakeExecutor{fail: map[string]bool{"go test ./...": true}}
	e := New(fr, fx)

	var sink []events.Event
	res, err := e.Run(context.Background(), baseConfig(), eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusFailedGate || res.GateReason != gate.ReasonTestsFailed {
		t.Fatalf("got %s/%s, want failed_gate/tests_failed", res.Status, res.GateReason)
	}
	failed, _ := lastOfType(sink, events.EventGateFailed)
	if failed.Payload["tests_ok"] != false {
		t.Errorf("tests_ok = %v", failed.Payload["tests_ok"])
	}
}

func TestRunDebateExchange(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		switch call {
		case 0:
			return &runner.Result{Output: "proposal v1"}, nil
		case 1:
			return &runner.Result{Output: "critique: edge case missing"}, nil
		case 2:
			return &runner.Result{Output: "added edge case handling"}, nil
		default:
			return reviewOK("fine"), nil
		}
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.DebateMode = true

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed {
		t.Fatalf("status = %s", res.Status)
	}

	types := typeSequence(sink)
	want := []string{"discussion", "debate_review", "debate_reply", "review", "gate_passed"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("event sequence %v, want %v", types, want)
	}

	// The final review sees the proposal amended with the debate reply.
	reviewPrompt := fr.calls[3].Prompt
	if !strings.Contains(reviewPrompt, "[debate reply]") || !strings.Contains(reviewPrompt, "added edge case handling") {
		t.Errorf("review prompt lacks debate reply:\n%s", reviewPrompt)
	}
}

func TestRunDebateReviewerErrorSkipsCritique(t *testing.T) {
	fr := &fakeRunner{fn: func(call int, req runner.Request) (*runner.Result, error) {
		switch call {
		case 0:
			return &runner.Result{Output: "proposal"}, nil
		case 1:
			return nil, &runner.RunError{Class: runner.ClassCommandNotFound, Provider: "codex", Command: "codex exec"}
		default:
			return reviewOK("fine"), nil
		}
	}}
	e := New(fr, &fakeExecutor{})

	cfg := baseConfig()
	cfg.DebateMode = true

	var sink []events.Event
	res, err := e.Run(context.Background(), cfg, eventSink(&sink))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Status != task.StatusPassed {
		t.Fatalf("status = %s", res.Status)
	}

	// No critique collected, so no debate reply turn.
	types := typeSequence(sink)
	want := []string{"discussion", "review_error", "review", "gate_passed"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("event sequence %v, want %v", types, want)
	}
	reviewErr, _ := lastOfType(sink, events.EventReviewError)
	if reviewErr.Payload["stage"] != "debate_review" {
		t.Errorf("stage = %v", reviewErr.Payload["stage"])
	}
}

func TestNormalizeBackend(t *testing.T) {
	for raw, want := range map[string]string{
		"":           BackendClassic,
		"classic":    BackendClassic,
		"LANGGRAPH":  BackendLanggraph,
		" langgraph": BackendLanggraph,
		"other":      BackendClassic,
	} {
		if got := NormalizeBackend(raw); got != want {
			t.Errorf("NormalizeBackend(%q) = %q, want %q", raw, got, want)
		}
	}
}
