package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeloom-ai/codeloom/internal/session"
	"github.com/codeloom-ai/codeloom/internal/tools"
)

func TestHeuristicEstimateText(t *testing.T) {
	est := NewHeuristicEstimator()

	assert.Equal(t, 0, est.EstimateText(""))
	assert.Equal(t, 1, est.EstimateText("abcd"))
	assert.Equal(t, 1000, est.EstimateText(strings.Repeat("x", 4000)))
}

func TestEstimateTextPart(t *testing.T) {
	est := NewHeuristicEstimator()
	part := session.NewTextPart("m", "s", strings.Repeat("x", 400))
	assert.Equal(t, 100, est.EstimatePart(part))
}

func TestEstimateToolPartIncludesOverhead(t *testing.T) {
	est := NewHeuristicEstimator()

	part := session.NewToolPart("m", "s", "read_file", nil)
	assert.Equal(t, toolCallOverheadTokens, est.EstimatePart(part))

	part.Result = &tools.Result{Success: true, Output: strings.Repeat("x", 4000)}
	assert.Equal(t, toolCallOverheadTokens+1000, est.EstimatePart(part))
}

func TestEstimateToolPartPrefersSummary(t *testing.T) {
	est := NewHeuristicEstimator()

	part := session.NewToolPart("m", "s", "read_file", nil)
	part.Result = &tools.Result{Success: true, Output: strings.Repeat("x", 4000)}
	part.Summary = strings.Repeat("s", 400)

	// the summary is what history rendering sends, so it is what gets priced
	assert.Equal(t, toolCallOverheadTokens+100, est.EstimatePart(part))
}

func TestTiktokenEstimatorFallsBackGracefully(t *testing.T) {
	est := &TiktokenEstimator{fallback: NewHeuristicEstimator()}
	assert.Equal(t, 1000, est.EstimateText(strings.Repeat("x", 4000)))
}

func TestTiktokenEstimatorCountsRealTokens(t *testing.T) {
	est := NewTiktokenEstimator()
	if est.encoding == nil {
		t.Skip("cl100k_base encoding unavailable")
	}

	// one token per word under cl100k_base; the heuristic would say 10
	assert.Equal(t, 9, est.EstimateText("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, 0, est.EstimateText(""))

	part := session.NewToolPart("m", "s", "read_file", nil)
	part.Summary = "The quick brown fox jumps over the lazy dog"
	assert.Equal(t, toolCallOverheadTokens+9, est.EstimatePart(part))
}
