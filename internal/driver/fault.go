package driver

import "sync/atomic"

// Mode is the driver's operating mode
type Mode int32

const (
	Normal Mode = iota
	Degraded
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case Degraded:
		return "degraded"
	}
	return "unknown"
}

// MarshalText renders the mode by name in JSON reports
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// FaultMachine selects the mode from the outcome of each poll.
// Observe is called from the control cycle only; Mode may be read from anywhere.
//
//	Normal   --fail--> Degraded
//	Degraded --fail--> Degraded
//	Degraded --ok----> Normal
//	Normal   --ok----> Normal
type FaultMachine struct {
	mode atomic.Int32
}

// NewFaultMachine starts in Normal
func NewFaultMachine() *FaultMachine {
	return &FaultMachine{}
}

// Observe records a poll outcome and returns the resulting mode and whether
// it changed
func (f *FaultMachine) Observe(pollOK bool) (Mode, bool) {
	next := Degraded
	if pollOK {
		next = Normal
	}
	prev := Mode(f.mode.Swap(int32(next)))
	return next, prev != next
}

// Mode returns the current mode
func (f *FaultMachine) Mode() Mode {
	return Mode(f.mode.Load())
}
