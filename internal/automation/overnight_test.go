package automation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/lock"
)

func TestLoadTopicFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.txt")
	content := "# rotation topics\n\nImprove start reliability\n  Tighten validation messages  \n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	topics, err := LoadTopicFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Improve start reliability", "Tighten validation messages"}, topics)
}

func TestLoadTopicFileMissing(t *testing.T) {
	topics, err := LoadTopicFile(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Nil(t, topics)

	topics, err = LoadTopicFile("")
	require.NoError(t, err)
	assert.Nil(t, topics)
}

func TestOvernightRunRequiresDeadlineAndLock(t *testing.T) {
	driver := NewOvernight(newFakeController(), OvernightConfig{})
	err := driver.Run(context.Background())
	var aweErr *awerr.AweError
	require.ErrorAs(t, err, &aweErr)
	assert.Equal(t, awerr.CodeConfigInvalid, aweErr.Code)

	driver = NewOvernight(newFakeController(), OvernightConfig{Until: time.Now().Add(time.Hour)})
	err = driver.Run(context.Background())
	require.ErrorAs(t, err, &aweErr)
	assert.Equal(t, awerr.CodeConfigInvalid, aweErr.Code)
}

func TestOvernightRunRefusesHeldLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "overnight.lock")
	holder := lock.New(lockPath)
	require.NoError(t, holder.Acquire())
	defer holder.Release()

	driver := NewOvernight(newFakeController(), OvernightConfig{
		Until:    time.Now().Add(time.Hour),
		LockFile: lockPath,
	})
	err := driver.Run(context.Background())
	var aweErr *awerr.AweError
	require.ErrorAs(t, err, &aweErr)
	assert.Equal(t, awerr.CodeLockHeld, aweErr.Code)
}

func TestOvernightRunSwitchesPoolsAndLogs(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controller := newFakeController(
		fakeOutcome{"failed_system", "workflow_error: Command failed (1): claude -p"},
		fakeOutcome{"passed", "passed"},
	)
	// Stop the loop once the second iteration has settled and its
	// self-loop followup lookup runs.
	listCalls := 0
	controller.onListEvents = func() {
		listCalls++
		if listCalls >= 2 {
			cancel()
		}
	}

	driver := NewOvernight(controller, OvernightConfig{
		Until:         time.Now().Add(time.Hour),
		WorkspacePath: dir,
		SelfLoopMode:  1,
		MaxRounds:     1,
		Primary:       ParticipantPlan{Author: "claude#author", Reviewers: []string{"codex#rev1"}},
		Fallback:      ParticipantPlan{Author: "codex#author", Reviewers: []string{"gemini#rev1"}},
		PollSeconds:   1,
		IdleSeconds:   1,
		LogDir:        dir,
		LockFile:      filepath.Join(dir, "overnight.lock"),
	})

	err := driver.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, controller.created, 2)
	assert.Equal(t, "claude#author", controller.created[0].AuthorParticipant)
	assert.Equal(t, "codex#author", controller.created[1].AuthorParticipant)
	assert.True(t, strings.HasPrefix(controller.created[0].Title, "AutoEvolve: "))

	matches, globErr := filepath.Glob(filepath.Join(dir, "overnight-*.md"))
	require.NoError(t, globErr)
	require.Len(t, matches, 1)
	logData, readErr := os.ReadFile(matches[0])
	require.NoError(t, readErr)
	log := string(logData)
	assert.Contains(t, log, "| Iteration | Task ID | Status | Rounds | Reason | Participants |")
	assert.Contains(t, log, "failed_system")
	assert.Contains(t, log, "claude#author -> codex#rev1")
	assert.Contains(t, log, "codex#author -> gemini#rev1")

	// Lock released on exit.
	_, statErr := os.Stat(filepath.Join(dir, "overnight.lock"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestOvernightRunStopsAtDeadline(t *testing.T) {
	dir := t.TempDir()
	driver := NewOvernight(newFakeController(), OvernightConfig{
		Until:    time.Now().Add(-time.Minute),
		LogDir:   dir,
		LockFile: filepath.Join(dir, "overnight.lock"),
	})
	require.NoError(t, driver.Run(context.Background()))
}
