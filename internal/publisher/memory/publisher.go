// Package memory records outcome notifications in memory for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Publisher keeps every notification it is handed.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

// Message is one recorded notification.
type Message struct {
	Event   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the notification and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.messages = append(p.messages, Message{Event: event, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded notifications.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events returns only the notifications for event.
func (p *Publisher) Events(event string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Message
	for _, m := range p.messages {
		if m.Event == event {
			out = append(out, m)
		}
	}
	return out
}
