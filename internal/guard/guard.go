// Package guard defends the agent loop against runaway behavior: duplicate
// tool calls, hammering a failing project, and blowing through daily limits.
package guard

import (
	"fmt"
	"time"

	"github.com/codeloom-ai/codeloom/internal/config"
	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

// Skip reasons, in precedence order
const (
	ReasonBackoff   = "backoff"
	ReasonQuota     = "quota"
	ReasonDuplicate = "duplicate"
)

// SkipDecision is the outcome of a guard check. When Reason is
// ReasonDuplicate, CachedResult carries the previously stored result so the
// caller can replay it instead of re-executing the tool.
type SkipDecision struct {
	Skip             bool
	Reason           string
	Detail           string
	RemainingBackoff time.Duration
	CachedResult     *tools.Result
}

// Guard composes the deduplicator, backoff tracker and quota manager behind
// a single decision surface. Checks are evaluated in fixed order: backoff
// first, then quota, then dedup. Checks and the actions they gate are not
// atomic; a race between two callers costs at most one extra call.
type Guard struct {
	dedup   *Deduplicator
	backoff *BackoffTracker
	quota   *QuotaManager
	log     *logger.Logger
}

// New builds a guard from configuration
func New(cfg config.GuardConfig) *Guard {
	schedule := NewExponentialBackoff(
		time.Duration(cfg.BackoffBaseMs)*time.Millisecond,
		time.Duration(cfg.BackoffMaxMs)*time.Millisecond,
		cfg.BackoffMultiplier,
		cfg.BackoffJitter,
	)
	return &Guard{
		dedup:   NewDeduplicator(cfg.DedupCacheSize, time.Duration(cfg.DedupTTLSeconds)*time.Second),
		backoff: NewBackoffTracker(schedule),
		quota:   NewQuotaManager(cfg.DailyQuestionCap, cfg.DailyExploreCap),
		log:     logger.Global().WithPrefix("guard"),
	}
}

// ShouldSkipQuestion decides whether question generation for the project
// should be suppressed right now.
func (g *Guard) ShouldSkipQuestion(projectKey string) SkipDecision {
	if remaining := g.backoff.RemainingBackoff(projectKey); remaining > 0 {
		g.log.Debug("skipping question for %s: backoff %s remaining", projectKey, remaining)
		return SkipDecision{
			Skip:             true,
			Reason:           ReasonBackoff,
			Detail:           fmt.Sprintf("project in backoff for %s", remaining.Round(time.Second)),
			RemainingBackoff: remaining,
		}
	}
	if !g.quota.CanGenerateQuestion(projectKey) {
		g.log.Debug("skipping question for %s: daily quota exhausted", projectKey)
		return SkipDecision{
			Skip:   true,
			Reason: ReasonQuota,
			Detail: "daily question quota exhausted",
		}
	}
	return SkipDecision{}
}

// ShouldSkipToolCall decides whether an exploration tool call should be
// suppressed. A duplicate decision carries the cached result for replay.
func (g *Guard) ShouldSkipToolCall(projectKey, toolName string, params map[string]interface{}) SkipDecision {
	if remaining := g.backoff.RemainingBackoff(projectKey); remaining > 0 {
		g.log.Debug("skipping %s for %s: backoff %s remaining", toolName, projectKey, remaining)
		return SkipDecision{
			Skip:             true,
			Reason:           ReasonBackoff,
			Detail:           fmt.Sprintf("project in backoff for %s", remaining.Round(time.Second)),
			RemainingBackoff: remaining,
		}
	}
	if !g.quota.CanExplore(projectKey) {
		g.log.Debug("skipping %s for %s: daily quota exhausted", toolName, projectKey)
		return SkipDecision{
			Skip:   true,
			Reason: ReasonQuota,
			Detail: "daily exploration quota exhausted",
		}
	}
	if cached, ok := g.dedup.CachedResult(toolName, params); ok {
		g.log.Debug("skipping %s for %s: duplicate call", toolName, projectKey)
		return SkipDecision{
			Skip:         true,
			Reason:       ReasonDuplicate,
			Detail:       fmt.Sprintf("duplicate %s call, replaying cached result", toolName),
			CachedResult: cached,
		}
	}
	return SkipDecision{}
}

// RecordToolCall stores a completed call in the dedup cache and consumes
// exploration quota.
func (g *Guard) RecordToolCall(projectKey, toolName string, params map[string]interface{}, result *tools.Result) {
	g.dedup.RecordCall(toolName, params, result)
	g.quota.RecordExplore(projectKey)
}

// RecordQuestionGenerated consumes question quota for the project
func (g *Guard) RecordQuestionGenerated(projectKey string) {
	g.quota.RecordQuestionGenerated(projectKey)
}

// RecordError notes a project-level failure, extending its backoff
func (g *Guard) RecordError(projectKey string) {
	g.backoff.RecordError(projectKey)
}

// RecordSuccess clears the project's failure streak
func (g *Guard) RecordSuccess(projectKey string) {
	g.backoff.RecordSuccess(projectKey)
}

// Dedup exposes the underlying deduplicator
func (g *Guard) Dedup() *Deduplicator { return g.dedup }

// Backoff exposes the underlying backoff tracker
func (g *Guard) Backoff() *BackoffTracker { return g.backoff }

// Quota exposes the underlying quota manager
func (g *Guard) Quota() *QuotaManager { return g.quota }
