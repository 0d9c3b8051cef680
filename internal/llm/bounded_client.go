package llm

import (
	"context"
	"time"
)

// boundedClient wraps another Client and enforces a per-call deadline.
// Auxiliary calls (history compaction, large-result compression) go through
// this wrapper so a slow model can never stall a turn indefinitely.
type boundedClient struct {
	delegate Client
	timeout  time.Duration
}

// NewBoundedClient returns a Client whose calls are cut off after timeout.
// A non-positive timeout returns the base client unchanged.
func NewBoundedClient(base Client, timeout time.Duration) Client {
	if base == nil || timeout <= 0 {
		return base
	}
	return &boundedClient{delegate: base, timeout: timeout}
}

func (c *boundedClient) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *boundedClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.delegate.CompleteWithRequest(ctx, req)
}

func (c *boundedClient) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	return c.delegate.Complete(ctx, prompt)
}

func (c *boundedClient) GetModelName() string {
	return c.delegate.GetModelName()
}
