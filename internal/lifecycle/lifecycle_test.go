package lifecycle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns the next state from a fixed script, then stays Ready
type scripted struct {
	script    []State
	ready     atomic.Int32
	emergency atomic.Int32
}

func (s *scripted) next() State {
	if len(s.script) == 0 {
		return Ready
	}
	st := s.script[0]
	s.script = s.script[1:]
	return st
}

func (s *scripted) OnReady(ctx context.Context) State {
	s.ready.Add(1)
	return s.next()
}

func (s *scripted) OnEmergency(ctx context.Context) State {
	s.emergency.Add(1)
	return s.next()
}

func TestStepDispatchesByState(t *testing.T) {
	comp := &scripted{script: []State{Emergency, Emergency, Ready}}
	shell := New("test", comp, time.Second)
	ctx := context.Background()

	assert.Equal(t, Init, shell.State())
	assert.Equal(t, Ready, shell.Step(ctx))
	assert.Zero(t, comp.ready.Load(), "init does not call hooks")

	assert.Equal(t, Emergency, shell.Step(ctx))
	assert.Equal(t, Emergency, shell.Step(ctx))
	assert.Equal(t, Ready, shell.Step(ctx))
	assert.Equal(t, int32(1), comp.ready.Load())
	assert.Equal(t, int32(2), comp.emergency.Load())
}

func TestRunShutsDownOnCancel(t *testing.T) {
	comp := &scripted{}
	shell := New("test", comp, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var last atomic.Int32
	shell.OnTransition(func(from, to State) {
		last.Store(int32(to))
	})

	done := make(chan error, 1)
	go func() { done <- shell.Run(ctx) }()

	require.Eventually(t, func() bool { return comp.ready.Load() > 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Shutdown, shell.State())
	assert.Equal(t, int32(Shutdown), last.Load())
}

func TestStateNames(t *testing.T) {
	for state, name := range map[State]string{
		Init:      "init",
		Ready:     "ready",
		Emergency: "emergency",
		Shutdown:  "shutdown",
		State(9):  "unknown",
	} {
		assert.Equal(t, name, state.String())
	}
}
