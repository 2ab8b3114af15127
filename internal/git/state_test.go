package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type fakeResult struct {
	ok  bool
	out string
}

// fakeRunner scripts git responses keyed by the joined argument list.
type fakeRunner struct {
	responses map[string]fakeResult
	calls     []string
}

func (f *fakeRunner) Run(repoRoot string, args ...string) (bool, string) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	res, found := f.responses[key]
	if !found {
		return false, "unexpected git call: " + key
	}
	return res.ok, res.out
}

func setupTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	runGit := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	runGit("init")
	runGit("config", "user.email", "test@test.com")
	runGit("config", "user.name", "Test User")
	runGit("checkout", "-b", "trunk")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	runGit("add", ".")
	runGit("commit", "-m", "Initial commit")

	return dir
}

func TestCLIRunner(t *testing.T) {
	repo := setupTestRepo(t)
	r := NewCLIRunner()

	ok, out := r.Run(repo, "rev-parse", "--is-inside-work-tree")
	if !ok || out != "true" {
		t.Errorf("inside-work-tree = (%v, %q), want (true, \"true\")", ok, out)
	}

	ok, out = r.Run(t.TempDir(), "rev-parse", "--is-inside-work-tree")
	if ok {
		t.Errorf("expected failure outside a repository, got output %q", out)
	}
	if out == "" {
		t.Error("failure output should carry the git error text")
	}
}

func TestHeadSHAEmptyAndMissingRoots(t *testing.T) {
	in := NewInspector(WithRunner(&fakeRunner{}))
	if got := in.HeadSHA(""); got != "" {
		t.Errorf("HeadSHA(\"\") = %q, want empty", got)
	}
	if got := in.HeadSHA(filepath.Join(t.TempDir(), "gone")); got != "" {
		t.Errorf("HeadSHA(missing) = %q, want empty", got)
	}
}

func TestHeadSHAValidation(t *testing.T) {
	dir := t.TempDir()
	upper := strings.Repeat("AB12CD34", 5)

	tests := []struct {
		name string
		res  fakeResult
		want string
	}{
		{"lowercases valid sha", fakeResult{true, upper}, strings.ToLower(upper)},
		{"rejects symbolic output", fakeResult{true, "HEAD"}, ""},
		{"rejects short output", fakeResult{true, "ab12cd34"}, ""},
		{"rejects failed command", fakeResult{false, "fatal: ambiguous argument"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInspector(WithRunner(&fakeRunner{responses: map[string]fakeResult{
				"rev-parse HEAD": tt.res,
			}}))
			if got := in.HeadSHA(dir); got != tt.want {
				t.Errorf("HeadSHA = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeadSHARealRepository(t *testing.T) {
	repo := setupTestRepo(t)
	sha := NewInspector().HeadSHA(repo)
	if len(sha) != 40 {
		t.Fatalf("HeadSHA length = %d, want 40 (%q)", len(sha), sha)
	}
	if sha != strings.ToLower(sha) {
		t.Errorf("HeadSHA %q should be lowercase", sha)
	}
}

func TestReadStateNoTarget(t *testing.T) {
	st := NewInspector(WithRunner(&fakeRunner{})).ReadState("")
	if st.IsGitRepo || !st.GuardAllowed || st.GuardReason != ReasonNoTarget {
		t.Errorf("state = %+v, want allowed no_target", st)
	}
	if st.WorktreeClean != nil {
		t.Error("worktree cleanliness should be unknown without a target")
	}
}

func TestReadStateMissingPath(t *testing.T) {
	st := NewInspector(WithRunner(&fakeRunner{})).ReadState(filepath.Join(t.TempDir(), "gone"))
	if st.IsGitRepo || !st.GuardAllowed || st.GuardReason != ReasonMissingPath {
		t.Errorf("state = %+v, want allowed missing_path", st)
	}
}

func TestReadStateNonGitDirectory(t *testing.T) {
	dir := t.TempDir()
	in := NewInspector(WithRunner(&fakeRunner{responses: map[string]fakeResult{
		"rev-parse --is-inside-work-tree": {false, "fatal: not a git repository"},
	}}))
	st := in.ReadState(dir)
	if st.IsGitRepo || !st.GuardAllowed || st.GuardReason != ReasonNonGitRepo {
		t.Errorf("state = %+v, want allowed non_git_repo", st)
	}
}

func TestReadStateProbes(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{responses: map[string]fakeResult{
		"rev-parse --is-inside-work-tree": {true, "true"},
		"branch --show-current":           {true, "feature-x"},
		"status --porcelain":              {true, " M app.py"},
		"remote get-url origin":           {true, "git@example.com:acme/app.git"},
	}}
	st := NewInspector(WithRunner(runner)).ReadState(dir)

	if !st.IsGitRepo {
		t.Fatal("expected a git repository")
	}
	if st.Branch != "feature-x" {
		t.Errorf("branch = %q, want feature-x", st.Branch)
	}
	if st.WorktreeClean == nil || *st.WorktreeClean {
		t.Errorf("worktree_clean = %v, want false", st.WorktreeClean)
	}
	if st.RemoteOrigin != "git@example.com:acme/app.git" {
		t.Errorf("remote = %q", st.RemoteOrigin)
	}
	if st.GuardReason != ReasonUnvalidated {
		t.Errorf("guard reason = %q, want unvalidated", st.GuardReason)
	}
}

func TestReadStateDegradesFailedProbes(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{responses: map[string]fakeResult{
		"rev-parse --is-inside-work-tree": {true, "true"},
		"branch --show-current":           {true, ""},
		"status --porcelain":              {false, "fatal: index locked"},
		"remote get-url origin":           {false, "error: no such remote 'origin'"},
	}}
	st := NewInspector(WithRunner(runner)).ReadState(dir)

	if st.Branch != "" {
		t.Errorf("detached head should leave branch empty, got %q", st.Branch)
	}
	if st.WorktreeClean != nil {
		t.Errorf("failed status probe should leave cleanliness unknown, got %v", *st.WorktreeClean)
	}
	if st.RemoteOrigin != "" {
		t.Errorf("missing remote should stay empty, got %q", st.RemoteOrigin)
	}
}

func TestReadStateRealRepository(t *testing.T) {
	repo := setupTestRepo(t)
	in := NewInspector()

	st := in.ReadState(repo)
	if !st.IsGitRepo {
		t.Fatalf("state = %+v, want git repo", st)
	}
	if st.Branch != "trunk" {
		t.Errorf("branch = %q, want trunk", st.Branch)
	}
	if st.WorktreeClean == nil || !*st.WorktreeClean {
		t.Errorf("worktree_clean = %v, want true", st.WorktreeClean)
	}

	if err := os.WriteFile(filepath.Join(repo, "dirty.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	st = in.ReadState(repo)
	if st.WorktreeClean == nil || *st.WorktreeClean {
		t.Errorf("worktree_clean = %v after edit, want false", st.WorktreeClean)
	}
}
