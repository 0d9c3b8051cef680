// Package budget watches the token footprint of a session and brings it back
// under the context window by pruning old tool output and, when that is not
// enough, compacting history into a structured summary.
package budget

import (
	"encoding/json"

	"github.com/pkoukk/tiktoken-go"

	"github.com/codeloom-ai/codeloom/internal/logger"
	"github.com/codeloom-ai/codeloom/internal/session"
)

const (
	// Rough chars-per-token ratio used by the heuristic estimator
	charsPerToken = 4
	// Fixed overhead charged per tool call for serialized parameters and
	// framing
	toolCallOverheadTokens = 50
	// Charge for parts that carry no measurable text
	defaultPartTokens = 100
)

// TokenEstimator maps text and message parts to token counts. Estimates only
// need to be consistent, not exact; thresholds are tuned for the heuristic.
type TokenEstimator interface {
	EstimateText(text string) int
	EstimatePart(part session.Part) int
}

// HeuristicEstimator divides character counts by a fixed ratio. It is the
// default: fast, dependency-free at runtime, and close enough for budgeting.
type HeuristicEstimator struct{}

// NewHeuristicEstimator returns the chars-per-token estimator
func NewHeuristicEstimator() *HeuristicEstimator { return &HeuristicEstimator{} }

func (e *HeuristicEstimator) EstimateText(text string) int {
	return len(text) / charsPerToken
}

func (e *HeuristicEstimator) EstimatePart(part session.Part) int {
	return estimatePartWith(e, part)
}

// TiktokenEstimator counts tokens with a real BPE vocabulary. Falls back to
// the heuristic when the encoding cannot be loaded.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
	fallback *HeuristicEstimator
}

// NewTiktokenEstimator loads the cl100k_base encoding. On failure it returns
// an estimator that silently degrades to the heuristic.
func NewTiktokenEstimator() *TiktokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, using heuristic estimates: %v", err)
		enc = nil
	}
	return &TiktokenEstimator{encoding: enc, fallback: NewHeuristicEstimator()}
}

func (e *TiktokenEstimator) EstimateText(text string) int {
	if e.encoding == nil {
		return e.fallback.EstimateText(text)
	}
	return len(e.encoding.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) EstimatePart(part session.Part) int {
	return estimatePartWith(e, part)
}

// estimatePartWith prices a part: text parts by their text, tool parts by
// their visible payload plus a fixed parameter overhead.
func estimatePartWith(est TokenEstimator, part session.Part) int {
	switch p := part.(type) {
	case *session.TextPart:
		return est.EstimateText(p.Text)
	case *session.ToolPart:
		tokens := toolCallOverheadTokens
		if len(p.Parameters) > 0 {
			if raw, err := json.Marshal(p.Parameters); err == nil {
				tokens += est.EstimateText(string(raw))
			}
		}
		tokens += est.EstimateText(toolPayload(p))
		return tokens
	default:
		return defaultPartTokens
	}
}

// toolPayload returns the text a tool part contributes to a rendered prompt:
// the summary when present, otherwise the raw output or error.
func toolPayload(p *session.ToolPart) string {
	if p.Summary != "" {
		return p.Summary
	}
	if p.Result != nil {
		if p.Result.Output != "" {
			return p.Result.Output
		}
		return p.Result.Error
	}
	return p.Error
}
