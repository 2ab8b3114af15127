package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangw/agentcheck/internal/events"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 40))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "long ti...", truncate("long title that keeps going", 10))
}

func TestSplitCommaList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCommaList("a, b ,c"))
	assert.Nil(t, splitCommaList(""))
	assert.Nil(t, splitCommaList(" , ,"))
}

func TestParseOverrides(t *testing.T) {
	overrides, err := parseOverrides(`{"max_rounds": 2, "plain_mode": true}`)
	require.NoError(t, err)
	assert.Equal(t, float64(2), overrides["max_rounds"])
	assert.Equal(t, true, overrides["plain_mode"])

	overrides, err = parseOverrides("")
	require.NoError(t, err)
	assert.Nil(t, overrides)

	_, err = parseOverrides("{not json")
	require.Error(t, err)
}

func TestFormatEventLine(t *testing.T) {
	round := 2
	evt := &events.Event{
		Seq:     7,
		Type:    events.EventGateFailed,
		Round:   &round,
		Payload: map[string]any{"reason": "review_blocker"},
	}
	line := formatEventLine(evt)
	assert.Contains(t, line, "#7")
	assert.Contains(t, line, "r2")
	assert.Contains(t, line, "gate_failed")
	assert.Contains(t, line, "reason=review_blocker")
}

func TestFormatEventLineNoRound(t *testing.T) {
	evt := &events.Event{Seq: 1, Type: events.EventHistory}
	line := formatEventLine(evt)
	assert.Contains(t, line, "#1")
	assert.Contains(t, line, "-")
	assert.Contains(t, line, "history_event")
}

func TestPublishConfigFromFlags(t *testing.T) {
	forced := "github"
	cfg := publishConfig(forced, "https://git.example.com/api/v4", "CI_TOKEN")
	assert.Equal(t, forced, cfg.Provider)
	assert.Equal(t, "https://git.example.com/api/v4", cfg.BaseURL)
	assert.Equal(t, "CI_TOKEN", cfg.TokenEnvVar)

	// Auto-detection path: no forced provider.
	assert.Empty(t, publishConfig("", "", "").Provider)
}

func TestRootCommandTree(t *testing.T) {
	expected := []string{
		"create", "start", "cancel", "force-fail", "restart", "approve",
		"status", "list", "events", "analyse", "history", "pr-summary",
		"stats", "analytics", "policy", "overnight", "benchmark", "watch",
	}
	registered := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		registered[sub.Name()] = true
	}
	for _, name := range expected {
		assert.True(t, registered[name], "missing command %s", name)
	}
}
