package cluster

import (
	"context"
	"sync"
)

// InProcess is a Broadcaster for single-node tests and the
// single-node-cluster degenerate case: every subscriber lives in the
// same process and is invoked synchronously.
type InProcess struct {
	mu   sync.Mutex
	subs map[string][]func(payload []byte) []byte
}

// NewInProcess builds an empty in-process broadcaster.
func NewInProcess() *InProcess {
	return &InProcess{subs: make(map[string][]func(payload []byte) []byte)}
}

// Subscribe registers handler to receive every Exchange on topic.
func (b *InProcess) Subscribe(topic string, handler func(payload []byte) []byte) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[topic] = append(b.subs[topic], handler)
	idx := len(b.subs[topic]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[topic]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}, nil
}

// Exchange invokes every live subscriber on topic with payload,
// in process, and collects their replies. Node IDs are not tracked by
// this backend (there is only one node); every reply carries NodeID 0.
func (b *InProcess) Exchange(ctx context.Context, topic string, payload []byte) ([]Reply, error) {
	b.mu.Lock()
	handlers := append([]func(payload []byte) []byte(nil), b.subs[topic]...)
	b.mu.Unlock()

	var replies []Reply
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if ctx.Err() != nil {
			return replies, ctx.Err()
		}
		replies = append(replies, Reply{NodeID: 0, Payload: h(payload)})
	}
	return replies, nil
}
