// Package ordering provides an in-memory reference implementation of
// the external total-order sequencer: the entity that assigns every
// submitted operation a globally monotonic sequenceNumber and fans the
// resulting SequencedMessage out to every attached client, including
// the submitter, whose own op comes back as a normal inbound message.
//
// The fan-out shape is one shared feed broadcast to every attached
// subscriber over a per-client buffered channel, rather than a
// sync.Cond-guarded queue polled by each reader.
package ordering

import (
	"context"
	"sync"

	"github.com/webflow/shareddata/wire"
)

// Service is the contract a SharedMap/SharedDirectory host runtime
// submits ops to and receives sequenced messages from.
type Service interface {
	// Submit assigns the next client-sequence-number for clientID and
	// enqueues op for global ordering. It returns immediately; the
	// resulting SequencedMessage is delivered asynchronously to every
	// attached client, including clientID itself.
	Submit(ctx context.Context, clientID string, op wire.Operation) (clientSeq int64, err error)
	// Attach registers clientID to receive every sequenced message
	// from this point on, including echoes of its own submissions.
	Attach(ctx context.Context, clientID string) (<-chan *wire.SequencedMessage, error)
	// Detach stops delivery to clientID and releases its channel.
	Detach(clientID string)
}

const deliveryBufferSize = 256

// InMemory is a single-process reference OrderingService: useful for
// tests, for cmd/ddsctl's local REPL session, and as the default when
// no external sequencer is configured.
type InMemory struct {
	mu          sync.Mutex
	nextSeq     int64
	clientSeqs  map[string]int64
	subscribers map[string]chan *wire.SequencedMessage
}

func NewInMemory() *InMemory {
	return &InMemory{
		clientSeqs:  make(map[string]int64),
		subscribers: make(map[string]chan *wire.SequencedMessage),
	}
}

func (s *InMemory) Attach(ctx context.Context, clientID string) (<-chan *wire.SequencedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan *wire.SequencedMessage, deliveryBufferSize)
	s.subscribers[clientID] = ch
	return ch, nil
}

func (s *InMemory) Detach(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[clientID]; ok {
		close(ch)
		delete(s.subscribers, clientID)
	}
	delete(s.clientSeqs, clientID)
}

// Submit assigns clientSeq/sequenceNumber and broadcasts to every
// attached subscriber. Delivery is best-effort: a subscriber whose
// buffer is full is dropped from this broadcast rather than blocking
// the submitter.
func (s *InMemory) Submit(ctx context.Context, clientID string, op wire.Operation) (int64, error) {
	s.mu.Lock()
	s.clientSeqs[clientID]++
	clientSeq := s.clientSeqs[clientID]
	s.nextSeq++
	seq := s.nextSeq

	msg := &wire.SequencedMessage{
		Type:                 "op",
		ClientID:             clientID,
		ClientSequenceNumber: clientSeq,
		SequenceNumber:       seq,
		Contents:             op,
	}

	subs := make([]chan *wire.SequencedMessage, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
			// subscriber too far behind: this message is not
			// delivered to it, and nothing re-sends it.
		}
	}
	return clientSeq, nil
}
