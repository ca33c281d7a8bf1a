package cluster

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Broadcaster backed by a NATS connection: Exchange publishes
// a request with a fresh inbox as its reply subject and collects every
// reply that arrives before ctx is done.
type NATS struct {
	nc *nats.Conn
}

// NewNATS wraps an already-connected *nats.Conn.
func NewNATS(nc *nats.Conn) *NATS {
	return &NATS{nc: nc}
}

// DialNATS connects to url with the defaults exavrtd needs: automatic
// reconnection, since a node losing its broker connection should keep
// retrying rather than treat it as fatal.
func DialNATS(url string) (*nats.Conn, error) {
	return nats.Connect(url, nats.MaxReconnects(-1), nats.ReconnectWait(time.Second))
}

// Subscribe registers handler on topic; its return value is published
// back to whatever reply subject the request carried, if any.
func (b *NATS) Subscribe(topic string, handler func(payload []byte) []byte) (func(), error) {
	sub, err := b.nc.Subscribe(topic, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply != "" && reply != nil {
			_ = b.nc.Publish(msg.Reply, reply)
		}
	})
	if err != nil {
		return nil, err
	}

	return func() { _ = sub.Unsubscribe() }, nil
}

// Exchange publishes payload to topic on a fresh inbox and collects
// every reply until ctx is done, then stops listening; a ctx without a
// deadline is bounded by DefaultTimeout. There is no way to know in
// advance how many peers will answer, so this always waits out the full
// deadline (or cancellation) rather than returning early on a fixed
// count.
func (b *NATS) Exchange(ctx context.Context, topic string, payload []byte) ([]Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	inbox := nats.NewInbox()

	var replies []Reply
	repliesCh := make(chan []byte, 64)

	sub, err := b.nc.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case repliesCh <- msg.Data:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.nc.PublishRequest(topic, inbox, payload); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return replies, nil
		case data := <-repliesCh:
			replies = append(replies, Reply{Payload: data})
		}
	}
}
