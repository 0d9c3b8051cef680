package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	return New(config.GuardConfig{
		DedupCacheSize:    16,
		DedupTTLSeconds:   1800,
		BackoffBaseMs:     1000,
		BackoffMaxMs:      60000,
		BackoffMultiplier: 2.0,
		BackoffJitter:     false,
		DailyQuestionCap:  2,
		DailyExploreCap:   5,
	})
}

func TestGuardAllowsByDefault(t *testing.T) {
	g := newTestGuard(t)

	assert.False(t, g.ShouldSkipQuestion("p1").Skip)
	assert.False(t, g.ShouldSkipToolCall("p1", "read_file", map[string]interface{}{"path": "a.go"}).Skip)
}

func TestGuardDuplicateReplaysCachedResult(t *testing.T) {
	g := newTestGuard(t)
	params := map[string]interface{}{"path": "a.go"}

	g.RecordToolCall("p1", "read_file", params, tools.Ok("cached contents"))

	decision := g.ShouldSkipToolCall("p1", "read_file", map[string]interface{}{"path": "a.go"})
	require.True(t, decision.Skip)
	assert.Equal(t, ReasonDuplicate, decision.Reason)
	require.NotNil(t, decision.CachedResult)
	assert.Equal(t, "cached contents", decision.CachedResult.Output)

	// different params are not duplicates
	assert.False(t, g.ShouldSkipToolCall("p1", "read_file", map[string]interface{}{"path": "b.go"}).Skip)
}

func TestGuardBackoffTakesPrecedenceOverDedup(t *testing.T) {
	g := newTestGuard(t)
	params := map[string]interface{}{"path": "a.go"}
	g.RecordToolCall("p1", "read_file", params, tools.Ok("cached"))

	g.RecordError("p1")

	decision := g.ShouldSkipToolCall("p1", "read_file", params)
	require.True(t, decision.Skip)
	assert.Equal(t, ReasonBackoff, decision.Reason)
	assert.Greater(t, decision.RemainingBackoff, time.Duration(0))
	assert.Nil(t, decision.CachedResult)

	// backoff clears after a success
	g.RecordSuccess("p1")
	decision = g.ShouldSkipToolCall("p1", "read_file", params)
	assert.Equal(t, ReasonDuplicate, decision.Reason)
}

func TestGuardQuotaTakesPrecedenceOverDedup(t *testing.T) {
	g := newTestGuard(t)
	params := map[string]interface{}{"path": "a.go"}

	// exhaust the explore quota; each record also fills the dedup cache
	for i := 0; i < 5; i++ {
		g.RecordToolCall("p1", "read_file", params, tools.Ok("cached"))
	}

	decision := g.ShouldSkipToolCall("p1", "read_file", params)
	require.True(t, decision.Skip)
	assert.Equal(t, ReasonQuota, decision.Reason)

	// a second project still has quota
	assert.False(t, g.ShouldSkipToolCall("p2", "read_file", params).Skip)
}

func TestGuardQuestionQuota(t *testing.T) {
	g := newTestGuard(t)

	g.RecordQuestionGenerated("p1")
	g.RecordQuestionGenerated("p1")

	decision := g.ShouldSkipQuestion("p1")
	require.True(t, decision.Skip)
	assert.Equal(t, ReasonQuota, decision.Reason)
	assert.False(t, g.ShouldSkipQuestion("p2").Skip)
}

func TestGuardQuestionBackoffPrecedence(t *testing.T) {
	g := newTestGuard(t)
	g.RecordQuestionGenerated("p1")
	g.RecordQuestionGenerated("p1")
	g.RecordError("p1")

	decision := g.ShouldSkipQuestion("p1")
	require.True(t, decision.Skip)
	assert.Equal(t, ReasonBackoff, decision.Reason)
}
