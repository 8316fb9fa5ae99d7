package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ptu-remote/internal/ptz"
)

// Reader is the part of a ptz.Controller the poller needs
type Reader interface {
	Read(ctx context.Context, r ptz.Reading) (float64, error)
}

// pollOrder is the sequence of reads issued each cycle
var pollOrder = []ptz.Reading{
	ptz.PanPosition,
	ptz.TiltPosition,
	ptz.PanSpeed,
	ptz.TiltSpeed,
}

// Poller refreshes the cached telemetry sample. A sample is replaced only
// when all four reads succeed.
type Poller struct {
	reader Reader
	now    func() time.Time

	mu     sync.RWMutex
	sample ptz.Sample
	polled bool
}

// NewPoller creates a poller reading through r
func NewPoller(r Reader) *Poller {
	return &Poller{
		reader: r,
		now:    time.Now,
	}
}

// Poll issues the four reads in order and stops at the first failure,
// leaving the previous sample in place.
func (p *Poller) Poll(ctx context.Context) (ptz.Sample, error) {
	var values [4]float64
	for i, reading := range pollOrder {
		v, err := p.reader.Read(ctx, reading)
		if err != nil {
			return p.Sample(), fmt.Errorf("read %s: %w", reading, err)
		}
		values[i] = v
	}

	sample := ptz.Sample{
		PanPosition:  values[0],
		TiltPosition: values[1],
		PanSpeed:     values[2],
		TiltSpeed:    values[3],
		Timestamp:    p.now(),
	}

	p.mu.Lock()
	p.sample = sample
	p.polled = true
	p.mu.Unlock()
	return sample, nil
}

// Sample returns a copy of the cached sample
func (p *Poller) Sample() ptz.Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sample
}

// Polled reports whether any poll has succeeded yet
func (p *Poller) Polled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.polled
}
