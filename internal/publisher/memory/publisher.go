// Package memory contains an in-memory publisher for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	failures int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Subject string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailNext makes the next n Publish calls return an error.
func (p *Publisher) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// Publish records the message and returns a pseudo sequence "memory:<n>".
func (p *Publisher) Publish(_ context.Context, subject string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return "", fmt.Errorf("memory publisher: injected failure")
	}
	p.messages = append(p.messages, PublishedMessage{Subject: subject, Payload: payload})
	return fmt.Sprintf("memory:%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
