// Package lifecycle runs a component through init, ready, emergency and
// shutdown states, invoking its state hook once per period.
package lifecycle

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// State of the shell
type State int32

const (
	Init State = iota
	Ready
	Emergency
	Shutdown
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Ready:
		return "ready"
	case Emergency:
		return "emergency"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// MarshalText renders the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Component supplies the per-state work. Each hook returns the state the
// shell should be in for the next period.
type Component interface {
	OnReady(ctx context.Context) State
	OnEmergency(ctx context.Context) State
}

// Shell owns the state and the tick loop. The component is only ever called
// from the goroutine running Run.
type Shell struct {
	name   string
	comp   Component
	period time.Duration
	state  atomic.Int32

	onTransition func(from, to State)
}

// New creates a shell ticking comp every period
func New(name string, comp Component, period time.Duration) *Shell {
	return &Shell{
		name:   name,
		comp:   comp,
		period: period,
	}
}

// OnTransition registers a callback invoked after every state change
func (s *Shell) OnTransition(fn func(from, to State)) {
	s.onTransition = fn
}

// State returns the current state
func (s *Shell) State() State {
	return State(s.state.Load())
}

// Step runs one period's hook and applies the resulting state
func (s *Shell) Step(ctx context.Context) State {
	current := s.State()
	next := current
	switch current {
	case Init:
		next = Ready
	case Ready:
		next = s.comp.OnReady(ctx)
	case Emergency:
		next = s.comp.OnEmergency(ctx)
	}
	s.switchTo(next)
	return next
}

// Run ticks until ctx is canceled, then moves to Shutdown
func (s *Shell) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	s.Step(ctx)
	for {
		select {
		case <-ctx.Done():
			s.switchTo(Shutdown)
			return nil
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

func (s *Shell) switchTo(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	log.Info().
		Str("component", s.name).
		Stringer("from", prev).
		Stringer("to", next).
		Msg("state transition")
	if s.onTransition != nil {
		s.onTransition(prev, next)
	}
}
