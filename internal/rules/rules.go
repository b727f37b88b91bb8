// Package rules fires reactive triggers when stored entities change.
//
// Triggers can be suspended for the duration of bulk maintenance work with
// Disable and resumed with Enable. Calls nest: triggers fire again only once
// every Disable has been matched by an Enable.
package rules

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Event types
const (
	EventAuthorityUpdated = "authority.updated"
)

// Event describes a change to a stored entity
type Event struct {
	Type string
	ID   int64
}

// Trigger reacts to a change event
type Trigger func(ctx context.Context, ev Event)

// Service dispatches events to registered triggers
type Service struct {
	mu       sync.RWMutex
	disabled int
	triggers []Trigger
}

// NewService creates a rules service with triggers enabled
func NewService() *Service {
	return &Service{}
}

// Register adds a trigger
func (s *Service) Register(t Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
}

// Disable suspends trigger dispatch
func (s *Service) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled++
}

// Enable resumes trigger dispatch once all Disable calls are matched
func (s *Service) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled > 0 {
		s.disabled--
	}
}

// Enabled reports whether triggers currently fire
func (s *Service) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled == 0
}

// Fire dispatches ev to every trigger. It returns false when dispatch is
// suspended and the event was dropped.
func (s *Service) Fire(ctx context.Context, ev Event) bool {
	s.mu.RLock()
	if s.disabled > 0 {
		s.mu.RUnlock()
		zap.S().Debugw("Rules disabled, dropping event", "type", ev.Type, "id", ev.ID)
		return false
	}
	triggers := make([]Trigger, len(s.triggers))
	copy(triggers, s.triggers)
	s.mu.RUnlock()

	for _, t := range triggers {
		t(ctx, ev)
	}
	return true
}
