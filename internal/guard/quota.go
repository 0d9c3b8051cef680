package guard

import (
	"sync"
	"time"
)

// QuotaManager enforces per-project daily caps on question generation and
// exploration. Counters reset when the local date changes; the check is a
// pure read and does not consume quota.
type QuotaManager struct {
	mu          sync.Mutex
	questionCap int
	exploreCap  int
	usage       map[string]*quotaUsage

	now func() time.Time
}

type quotaUsage struct {
	day       string
	questions int
	explores  int
}

// NewQuotaManager creates a quota manager with the given daily caps.
// A non-positive cap means unlimited.
func NewQuotaManager(questionCap, exploreCap int) *QuotaManager {
	return &QuotaManager{
		questionCap: questionCap,
		exploreCap:  exploreCap,
		usage:       make(map[string]*quotaUsage),
		now:         time.Now,
	}
}

// CanGenerateQuestion reports whether the project has question quota left today
func (q *QuotaManager) CanGenerateQuestion(projectKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.questionCap <= 0 {
		return true
	}
	return q.usageLocked(projectKey).questions < q.questionCap
}

// CanExplore reports whether the project has exploration quota left today
func (q *QuotaManager) CanExplore(projectKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.exploreCap <= 0 {
		return true
	}
	return q.usageLocked(projectKey).explores < q.exploreCap
}

// RecordQuestionGenerated consumes one unit of question quota
func (q *QuotaManager) RecordQuestionGenerated(projectKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usageLocked(projectKey).questions++
}

// RecordExplore consumes one unit of exploration quota
func (q *QuotaManager) RecordExplore(projectKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usageLocked(projectKey).explores++
}

// QuestionsToday returns the question count consumed today
func (q *QuotaManager) QuestionsToday(projectKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usageLocked(projectKey).questions
}

// ExploresToday returns the exploration count consumed today
func (q *QuotaManager) ExploresToday(projectKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usageLocked(projectKey).explores
}

// usageLocked returns today's counters for the project, resetting stale days.
// Caller holds q.mu.
func (q *QuotaManager) usageLocked(projectKey string) *quotaUsage {
	today := q.now().Format("2006-01-02")
	usage, ok := q.usage[projectKey]
	if !ok || usage.day != today {
		usage = &quotaUsage{day: today}
		q.usage[projectKey] = usage
	}
	return usage
}
