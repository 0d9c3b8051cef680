package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONDirect(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
	}
	require.NoError(t, ExtractJSON(`{"summary": "done"}`, &out))
	assert.Equal(t, "done", out.Summary)
}

func TestExtractJSONFromCodeFence(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
	}
	response := "```json\n{\"summary\": \"fenced\"}\n```"
	require.NoError(t, ExtractJSON(response, &out))
	assert.Equal(t, "fenced", out.Summary)
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	var out struct {
		Parts []map[string]interface{} `json:"parts"`
	}
	response := `Sure, here is my plan: {"parts": [{"type": "text", "text": "a {nested} brace"}]} hope that helps`
	require.NoError(t, ExtractJSON(response, &out))
	require.Len(t, out.Parts, 1)
	assert.Equal(t, "a {nested} brace", out.Parts[0]["text"])
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	var out struct {
		Text string `json:"text"`
	}
	response := `prefix {"text": "func main() { fmt.Println(\"}\") }"} suffix`
	require.NoError(t, ExtractJSON(response, &out))
	assert.Contains(t, out.Text, "fmt.Println")
}

func TestExtractJSONFailure(t *testing.T) {
	var out map[string]interface{}
	err := ExtractJSON("just a plain sentence with no json", &out)
	require.Error(t, err)

	var parseErr *JSONParseError
	assert.ErrorAs(t, err, &parseErr)
}

func TestCleanJSONResponse(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSONResponse("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSONResponse("  {\"a\":1}  "))
}

func TestTruncateForError(t *testing.T) {
	assert.Equal(t, "short", TruncateForError("short", 10))
	long := TruncateForError("0123456789abcdef", 10)
	assert.Equal(t, "0123456789...", long)
}

// stubClient counts the deadline state it observed
type stubClient struct {
	sawDeadline bool
	err         error
}

func (s *stubClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	_, s.sawDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return &CompletionResponse{Content: "ok"}, nil
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	_, s.sawDeadline = ctx.Deadline()
	return "ok", s.err
}

func (s *stubClient) GetModelName() string { return "stub" }

func TestBoundedClientAppliesDeadline(t *testing.T) {
	stub := &stubClient{}
	bounded := NewBoundedClient(stub, 30*time.Second)

	_, err := bounded.CompleteWithRequest(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.True(t, stub.sawDeadline)

	_, err = bounded.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, stub.sawDeadline)
	assert.Equal(t, "stub", bounded.GetModelName())
}

func TestBoundedClientPassthrough(t *testing.T) {
	stub := &stubClient{}
	assert.Equal(t, Client(stub), NewBoundedClient(stub, 0))
	assert.Nil(t, NewBoundedClient(nil, time.Second))
}

func TestBoundedClientPropagatesErrors(t *testing.T) {
	stub := &stubClient{err: errors.New("down")}
	bounded := NewBoundedClient(stub, time.Second)
	_, err := bounded.CompleteWithRequest(context.Background(), &CompletionRequest{})
	assert.Error(t, err)
}
