package simulator

import (
	"context"
	"sync/atomic"

	"pos-terminal-bridge/internal/transport"
)

// CountingBridge wraps a bridge and counts every exchange that reaches it.
type CountingBridge struct {
	transport.Bridge
	calls atomic.Int32
}

func NewCountingBridge(inner transport.Bridge) *CountingBridge {
	return &CountingBridge{Bridge: inner}
}

func (b *CountingBridge) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	b.calls.Add(1)
	return b.Bridge.Do(ctx, req)
}

func (b *CountingBridge) Stream(ctx context.Context, url string, header map[string]string) (transport.Stream, error) {
	b.calls.Add(1)
	return b.Bridge.Stream(ctx, url, header)
}

func (b *CountingBridge) Calls() int { return int(b.calls.Load()) }
