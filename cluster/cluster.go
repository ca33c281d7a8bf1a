// Package cluster implements the cross-node messaging the health
// monitor and recovery orchestrator use to reach agreement: broadcast
// a CBOR-encoded payload to a topic and collect every peer's reply.
package cluster

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Reply is one peer's response to a broadcast.
type Reply struct {
	NodeID  uint32
	Payload []byte
}

// Broadcaster sends a payload to every live peer subscribed to topic
// and collects their replies. Implementations decide how long to wait
// for stragglers; a peer that never replies is simply absent from the
// result, never an error.
type Broadcaster interface {
	Exchange(ctx context.Context, topic string, payload []byte) ([]Reply, error)
	Subscribe(topic string, handler func(payload []byte) []byte) (unsubscribe func(), err error)
}

// Encode CBOR-encodes v, the wire format for every broadcast payload:
// broken-disk tables and path maps are plain structs with no need for a
// schema-first codec.
func Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Decode CBOR-decodes buf into v.
func Decode(buf []byte, v any) error {
	return cbor.Unmarshal(buf, v)
}

// DefaultTimeout bounds how long Exchange waits for replies when a
// caller doesn't set its own context deadline.
const DefaultTimeout = 2 * time.Second
