package transport

import (
	"context"
	"fmt"
	"sync"
)

// Mock records sent messages. Failures can be scripted with FailNext.
type Mock struct {
	mu       sync.Mutex
	sent     []Message
	failures []error
	calls    int
}

// NewMock creates a Mock transport.
func NewMock() *Mock {
	return &Mock{}
}

// Send implements Transport.
func (m *Mock) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return Result{}, err
	}
	m.sent = append(m.sent, msg)
	return Result{MessageID: fmt.Sprintf("mock-%d", len(m.sent))}, nil
}

// FailNext makes the next n sends fail with err.
func (m *Mock) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// Sent returns a copy of delivered messages.
func (m *Mock) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// Calls returns how many times Send was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
