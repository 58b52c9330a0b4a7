// Package bus implements the in-process message bus connecting the admin
// endpoints to the reconciler and certificate resolver: two typed,
// unbounded, single-consumer channels carrying only a correlation id for
// logging, using github.com/google/uuid for identifiers the way
// common/docker.go does.
package bus

import (
	"context"

	"github.com/google/uuid"
)

// Message is a single bus event. It carries no payload besides a fresh
// correlation id: consumers always re-read current state (manifest, TLS
// config) rather than act on stale data carried in the message.
type Message struct {
	CorrelationID uuid.UUID
}

// Bus holds the reconciliation and certificate_update channels. Both are
// unbounded from the sender's point of view: Send never blocks because
// the underlying channel is drained by a background forwarder into an
// internal slice-backed queue.
type Bus struct {
	reconciliation *queue
	certUpdate     *queue
}

// New builds a Bus with both channels ready to use.
func New() *Bus {
	return &Bus{
		reconciliation: newQueue(),
		certUpdate:     newQueue(),
	}
}

// SendReconciliation enqueues a reconciliation trigger and returns the
// correlation id assigned to it, without blocking.
func (b *Bus) SendReconciliation() uuid.UUID {
	return b.reconciliation.send()
}

// SendCertificateUpdate enqueues a certificate reload trigger and returns
// its correlation id, without blocking.
func (b *Bus) SendCertificateUpdate() uuid.UUID {
	return b.certUpdate.send()
}

// ReceiveReconciliation blocks until a reconciliation message is
// available or ctx is cancelled.
func (b *Bus) ReceiveReconciliation(ctx context.Context) (Message, bool) {
	return b.reconciliation.receive(ctx)
}

// ReceiveCertificateUpdate blocks until a certificate_update message is
// available or ctx is cancelled.
func (b *Bus) ReceiveCertificateUpdate(ctx context.Context) (Message, bool) {
	return b.certUpdate.receive(ctx)
}

// queue is an unbounded single-producer-multi-consumer (used here as
// single-consumer) FIFO built on a buffered-growth channel pair: send
// never blocks because a forwarder goroutine moves items from an
// internal slice into a rendezvous channel as consumers become ready.
type queue struct {
	in  chan Message
	out chan Message
}

func newQueue() *queue {
	q := &queue{
		in:  make(chan Message, 256),
		out: make(chan Message),
	}
	go q.forward()
	return q
}

func (q *queue) forward() {
	var pending []Message
	for {
		if len(pending) == 0 {
			msg, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			pending = append(pending, msg)
			continue
		}

		select {
		case msg, ok := <-q.in:
			if !ok {
				close(q.out)
				return
			}
			pending = append(pending, msg)
		case q.out <- pending[0]:
			pending = pending[1:]
		}
	}
}

func (q *queue) send() uuid.UUID {
	msg := Message{CorrelationID: uuid.New()}
	q.in <- msg
	return msg.CorrelationID
}

func (q *queue) receive(ctx context.Context) (Message, bool) {
	select {
	case msg, ok := <-q.out:
		return msg, ok
	case <-ctx.Done():
		return Message{}, false
	}
}
