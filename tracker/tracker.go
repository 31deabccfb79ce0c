// Package tracker maintains the last-known mount axis positions.
package tracker

import (
	"sync"
	"time"

	"github.com/wa1ant/mount_interface/mount"
)

// Snapshot is a complete, consistent view of the axis positions at the
// time they were sampled. Values are in degrees; RA is [0, 360),
// declination is [-180, 180).
type Snapshot struct {
	RA, Dec       float64
	RawRA, RawDec int32
	Sampled       time.Time
}

// Valid reports whether any position has been sampled yet.
func (s Snapshot) Valid() bool {
	return !s.Sampled.IsZero()
}

// Axis returns the position of the given axis in degrees.
func (s Snapshot) Axis(axis mount.Axis) float64 {
	if axis == mount.AxisDec {
		return s.Dec
	}
	return s.RA
}

// Tracker converts raw axis counts to degrees using the scale factors
// captured at connect time. The core's poll loop is the sole writer;
// any number of goroutines may read concurrently. Snapshots are
// replaced whole, never updated in place, so a reader never observes a
// torn update.
type Tracker struct {
	scale mount.ScaleFactors

	mu   sync.RWMutex
	snap Snapshot
}

// New returns a tracker for one mount connection. The scale factors
// are fixed for the tracker's lifetime.
func New(scale mount.ScaleFactors) *Tracker {
	return &Tracker{scale: scale}
}

// Scale returns the connection's scale factors.
func (t *Tracker) Scale() mount.ScaleFactors {
	return t.scale
}

// Update records a raw position sample.
func (t *Tracker) Update(rawRA, rawDec int32, sampled time.Time) {
	snap := Snapshot{
		RA:      normalizeRA(float64(rawRA) / t.scale.StepsFor(mount.AxisRA) * 360),
		Dec:     float64(rawDec) / t.scale.StepsFor(mount.AxisDec) * 360,
		RawRA:   rawRA,
		RawDec:  rawDec,
		Sampled: sampled,
	}
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
}

// Snapshot returns the current best-known position.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func normalizeRA(deg float64) float64 {
	for deg >= 360 {
		deg -= 360
	}
	for deg < 0 {
		deg += 360
	}
	return deg
}

// SeparationDeg returns the smallest angular difference between two
// axis angles in degrees.
func SeparationDeg(a, b float64) float64 {
	d := a - b
	for d >= 180 {
		d -= 360
	}
	for d < -180 {
		d += 360
	}
	if d < 0 {
		return -d
	}
	return d
}
