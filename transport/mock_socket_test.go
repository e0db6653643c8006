package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/veilchat/veilchat/protocol"
)

// mockSocket is a scriptable Socket: tests feed events in and observe
// writes.
type mockSocket struct {
	incoming chan protocol.Event
	done     chan struct{}
	writes   []protocol.Event
	once     sync.Once
	mu       sync.Mutex
}

func newMockSocket() *mockSocket {
	return &mockSocket{
		incoming: make(chan protocol.Event, 16),
		done:     make(chan struct{}),
	}
}

func (s *mockSocket) ReadEvent() (protocol.Event, error) {
	select {
	case event := <-s.incoming:
		return event, nil
	case <-s.done:
		return protocol.Event{}, errors.New("socket closed")
	}
}

func (s *mockSocket) WriteEvent(event protocol.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, event)
	return nil
}

func (s *mockSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *mockSocket) deliver(event protocol.Event) {
	s.incoming <- event
}

func (s *mockSocket) drop() {
	s.Close()
}

func (s *mockSocket) written() []protocol.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Event{}, s.writes...)
}

// mockDialer scripts a sequence of dial outcomes. After the script is
// exhausted it keeps returning the last outcome.
type mockDialer struct {
	outcomes []dialOutcome
	attempts int
	mu       sync.Mutex
}

type dialOutcome struct {
	socket *mockSocket
	err    error
}

func (d *mockDialer) Dial(ctx context.Context) (Socket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	idx := d.attempts
	d.attempts++
	if idx >= len(d.outcomes) {
		idx = len(d.outcomes) - 1
	}

	outcome := d.outcomes[idx]
	if outcome.err != nil {
		return nil, outcome.err
	}
	return outcome.socket, nil
}

func (d *mockDialer) attemptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}
