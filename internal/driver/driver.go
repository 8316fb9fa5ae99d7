// Package driver runs the pan-tilt unit's control cycle: poll telemetry,
// select the operating mode, then dispatch queued motion while Normal.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ptu-remote/internal/lifecycle"
	"ptu-remote/internal/ptz"
)

var (
	// ErrDegraded rejects motion while the unit cannot be read
	ErrDegraded = errors.New("device degraded, motion rejected")
	// ErrQueueFull rejects motion when the queue has not been worked off
	ErrQueueFull = errors.New("motion queue full")
)

// DefaultQueueSize bounds motion waiting for a cycle; one is sent per cycle
const DefaultQueueSize = 16

// MotionKind tags an inbound motion request
type MotionKind int

const (
	MovePanPosition MotionKind = iota
	MoveTiltPosition
	MovePanVelocity
	MoveTiltVelocity
	MovePose
)

func (k MotionKind) String() string {
	switch k {
	case MovePanPosition:
		return "pan_position"
	case MoveTiltPosition:
		return "tilt_position"
	case MovePanVelocity:
		return "pan_velocity"
	case MoveTiltVelocity:
		return "tilt_velocity"
	case MovePose:
		return "pose"
	}
	return "unknown"
}

// Motion is one inbound request, already in degrees and deg/s
type Motion struct {
	Kind  MotionKind
	Value float64
	Pose  ptz.Pose
}

// MotionFromRadians builds a single-axis motion from a radian (or rad/s) value
func MotionFromRadians(kind MotionKind, rad float64) Motion {
	return Motion{Kind: kind, Value: ptz.Degrees(rad)}
}

// PoseFromRadians builds a combined motion from radian positions and rad/s speeds
func PoseFromRadians(pan, tilt, panSpeed, tiltSpeed float64) Motion {
	return Motion{
		Kind: MovePose,
		Pose: ptz.Pose{
			Pan:       ptz.Degrees(pan),
			Tilt:      ptz.Degrees(tilt),
			PanSpeed:  ptz.Degrees(panSpeed),
			TiltSpeed: ptz.Degrees(tiltSpeed),
		},
	}
}

// JointState reports both axes in radians
type JointState struct {
	Stamp    time.Time `json:"stamp"`
	Name     []string  `json:"name"`
	Position []float64 `json:"position"`
	Velocity []float64 `json:"velocity"`
}

// Report is what the driver publishes after every cycle
type Report struct {
	Device string     `json:"device"`
	Mode   Mode       `json:"mode"`
	Status string     `json:"status"`
	Stamp  time.Time  `json:"stamp"`
	// Sample and JointState are only set when this cycle's poll succeeded
	Sample     *ptz.Sample `json:"sample,omitempty"`
	JointState *JointState `json:"joint_state,omitempty"`
}

// Publisher receives reports. Publish is called from the control cycle and
// must not block.
type Publisher interface {
	Publish(r Report)
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(r Report)

func (f PublisherFunc) Publish(r Report) { f(r) }

// Config for the driver
type Config struct {
	Name      string // device name, prefixes joint names
	QueueSize int
}

// Driver owns the telemetry cache and operating mode of one unit.
// Cycle, OnReady and OnEmergency must be called from a single goroutine;
// Submit and the read accessors are safe from any goroutine.
type Driver struct {
	name       string
	ctrl       ptz.Controller
	poller     *Poller
	fault      *FaultMachine
	queue      chan Motion
	publishers []Publisher
	now        func() time.Time

	mu   sync.RWMutex
	last Report
}

// New creates a driver for ctrl
func New(cfg Config, ctrl ptz.Controller, publishers ...Publisher) *Driver {
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Driver{
		name:       cfg.Name,
		ctrl:       ctrl,
		poller:     NewPoller(ctrl),
		fault:      NewFaultMachine(),
		queue:      make(chan Motion, size),
		publishers: publishers,
		now:        time.Now,
	}
	d.last = Report{
		Device: d.name,
		Mode:   Normal,
		Status: d.status(),
	}
	return d
}

// AddPublisher registers another report consumer. Call before the cycle starts.
func (d *Driver) AddPublisher(p Publisher) {
	d.publishers = append(d.publishers, p)
}

// Submit queues a motion for the next cycle
func (d *Driver) Submit(m Motion) error {
	if d.fault.Mode() == Degraded {
		return ErrDegraded
	}
	select {
	case d.queue <- m:
		return nil
	default:
		return ErrQueueFull
	}
}

// Cycle runs one control period and returns the resulting mode. A cycle
// interrupted by ctx leaves the mode alone and publishes nothing.
func (d *Driver) Cycle(ctx context.Context) Mode {
	sample, err := d.poller.Poll(ctx)
	if ctx.Err() != nil {
		return d.fault.Mode()
	}
	mode, changed := d.fault.Observe(err == nil)
	if changed {
		d.logTransition(mode, err)
	}

	if mode == Normal {
		d.dispatchNext(ctx)
	} else {
		d.discard()
	}

	report := Report{
		Device: d.name,
		Mode:   mode,
		Status: d.status(),
		Stamp:  d.now(),
	}
	if err == nil {
		report.Sample = &sample
		report.JointState = d.jointState(sample, report.Stamp)
	}

	d.mu.Lock()
	d.last = report
	d.mu.Unlock()

	for _, p := range d.publishers {
		p.Publish(report)
	}
	return mode
}

// OnReady runs a cycle from the ready state
func (d *Driver) OnReady(ctx context.Context) lifecycle.State {
	return stateFor(d.Cycle(ctx))
}

// OnEmergency runs a cycle from the emergency state; a successful poll
// recovers to ready
func (d *Driver) OnEmergency(ctx context.Context) lifecycle.State {
	return stateFor(d.Cycle(ctx))
}

// Mode returns the current operating mode
func (d *Driver) Mode() Mode {
	return d.fault.Mode()
}

// Sample returns a copy of the last complete telemetry sample
func (d *Driver) Sample() ptz.Sample {
	return d.poller.Sample()
}

// Report returns the last published report
func (d *Driver) Report() Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

// JointNames returns the pan and tilt joint names
func (d *Driver) JointNames() []string {
	return []string{d.name + "_pan_joint", d.name + "_tilt_joint"}
}

// dispatchNext sends the oldest queued motion. One send per cycle keeps a
// cycle within four reads and one command.
func (d *Driver) dispatchNext(ctx context.Context) {
	select {
	case m := <-d.queue:
		if err := d.dispatch(ctx, m); err != nil {
			log.Debug().Err(err).Str("device", d.name).Stringer("motion", m.Kind).Msg("motion not delivered")
		}
	default:
	}
}

func (d *Driver) discard() {
	dropped := 0
	for {
		select {
		case <-d.queue:
			dropped++
		default:
			if dropped > 0 {
				log.Warn().Str("device", d.name).Int("dropped", dropped).Msg("discarding motion while degraded")
			}
			return
		}
	}
}

func (d *Driver) dispatch(ctx context.Context, m Motion) error {
	switch m.Kind {
	case MovePanPosition:
		return d.ctrl.SetPanPosition(ctx, m.Value)
	case MoveTiltPosition:
		return d.ctrl.SetTiltPosition(ctx, m.Value)
	case MovePanVelocity:
		return d.ctrl.SetPanSpeed(ctx, m.Value)
	case MoveTiltVelocity:
		return d.ctrl.SetTiltSpeed(ctx, m.Value)
	case MovePose:
		return d.ctrl.SetPose(ctx, m.Pose)
	}
	return fmt.Errorf("unknown motion %v", m.Kind)
}

func (d *Driver) status() string {
	if !d.poller.Polled() {
		return "Pan: 0, Tilt: 0 (deg)"
	}
	s := d.poller.Sample()
	return "Pan pos: " + formatDegrees(s.PanPosition) +
		", Tilt pos: " + formatDegrees(s.TiltPosition) +
		", Pan speed: " + formatDegrees(s.PanSpeed) +
		", Tilt speed: " + formatDegrees(s.TiltSpeed) + " (degrees)"
}

// formatDegrees prints the shortest decimal form, keeping one fractional
// digit for whole values (168 -> "168.0", 1.25 -> "1.25")
func formatDegrees(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (d *Driver) jointState(s ptz.Sample, stamp time.Time) *JointState {
	return &JointState{
		Stamp:    stamp,
		Name:     d.JointNames(),
		Position: []float64{ptz.Radians(s.PanPosition), ptz.Radians(s.TiltPosition)},
		Velocity: []float64{ptz.Radians(s.PanSpeed), ptz.Radians(s.TiltSpeed)},
	}
}

func (d *Driver) logTransition(mode Mode, err error) {
	if mode == Degraded {
		log.Warn().Err(err).Str("device", d.name).Msg("device unreachable, entering degraded mode")
		return
	}
	log.Info().Str("device", d.name).Msg("device reachable again, back to normal mode")
}

func stateFor(m Mode) lifecycle.State {
	if m == Degraded {
		return lifecycle.Emergency
	}
	return lifecycle.Ready
}
