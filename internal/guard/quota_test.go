package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuotaIsPerProject(t *testing.T) {
	q := NewQuotaManager(1, 2)

	assert.True(t, q.CanGenerateQuestion("p1"))
	q.RecordQuestionGenerated("p1")
	assert.False(t, q.CanGenerateQuestion("p1"))

	// p2 has its own counter
	assert.True(t, q.CanGenerateQuestion("p2"))
}

func TestQuotaCheckDoesNotConsume(t *testing.T) {
	q := NewQuotaManager(1, 1)

	for i := 0; i < 5; i++ {
		assert.True(t, q.CanExplore("p1"))
	}
	q.RecordExplore("p1")
	assert.False(t, q.CanExplore("p1"))
	assert.Equal(t, 1, q.ExploresToday("p1"))
}

func TestQuotaDateRollover(t *testing.T) {
	q := NewQuotaManager(1, 1)
	current := time.Date(2026, 3, 14, 23, 50, 0, 0, time.UTC)
	q.now = func() time.Time { return current }

	q.RecordQuestionGenerated("p1")
	q.RecordExplore("p1")
	assert.False(t, q.CanGenerateQuestion("p1"))
	assert.False(t, q.CanExplore("p1"))

	current = current.Add(time.Hour)
	assert.True(t, q.CanGenerateQuestion("p1"))
	assert.True(t, q.CanExplore("p1"))
	assert.Equal(t, 0, q.QuestionsToday("p1"))
}

func TestQuotaUnlimitedWhenCapNonPositive(t *testing.T) {
	q := NewQuotaManager(0, -1)
	for i := 0; i < 100; i++ {
		q.RecordQuestionGenerated("p1")
		q.RecordExplore("p1")
	}
	assert.True(t, q.CanGenerateQuestion("p1"))
	assert.True(t, q.CanExplore("p1"))
}
