// Package memory provides an in-memory audit publisher for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	audit "covenant/pkg/platform/audit"
)

type Publisher struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Emit(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of everything emitted so far.
func (p *Publisher) Events() []audit.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]audit.Event{}, p.events...)
}

func (p *Publisher) Close() error { return nil }
