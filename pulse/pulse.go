// Package pulse issues time-bounded guide nudges on each axis.
//
// The two axes are fully independent: each has its own state record
// and the RA and Dec pulses never contend with each other. Starting a
// pulse on an axis cancels and replaces any pulse already running
// there.
package pulse

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wa1ant/mount_interface/link"
	"github.com/wa1ant/mount_interface/mount"
	"github.com/wa1ant/mount_interface/queue"
)

// Rejected is a synchronously rejected pulse request.
type Rejected struct {
	Reason string
}

func (r *Rejected) Error() string {
	return "pulse rejected: " + r.Reason
}

// axisState is the per-axis record. handle identifies the current
// pulse; a late-finishing task clears the state only if its handle is
// still the current one.
type axisState struct {
	mu       sync.Mutex
	active   bool
	handle   *pulseHandle
	start    time.Time
	duration time.Duration
}

type pulseHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller runs the per-axis pulse-guide subsystem.
type Controller struct {
	exec *queue.Executor
	// MaxDuration bounds a single pulse; longer requests are rejected.
	maxDuration time.Duration

	axes [2]axisState
}

// New returns a controller submitting guide commands through exec.
func New(exec *queue.Executor, maxDuration time.Duration) *Controller {
	if maxDuration == 0 {
		maxDuration = 10 * time.Second
	}
	return &Controller{exec: exec, maxDuration: maxDuration}
}

// Active reports whether the given axis has a pulse in progress.
func (c *Controller) Active(axis mount.Axis) bool {
	st := &c.axes[axis]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active
}

// ActiveEither reports whether either axis has a pulse in progress.
func (c *Controller) ActiveEither() bool {
	return c.Active(mount.AxisRA) || c.Active(mount.AxisDec)
}

// Pulse starts a guide nudge and returns immediately. A pulse already
// running on the axis is cancelled before the new one is queued; the
// replacement's duration, not the old one's, determines when the axis
// goes inactive.
func (c *Controller) Pulse(axis mount.Axis, dir mount.GuideDirection, duration time.Duration) error {
	if axis != mount.AxisRA && axis != mount.AxisDec {
		return &Rejected{Reason: fmt.Sprintf("unknown axis %d", axis)}
	}
	if duration <= 0 || duration > c.maxDuration {
		return &Rejected{Reason: fmt.Sprintf("duration %v outside (0, %v]", duration, c.maxDuration)}
	}
	if c.exec.Disconnected() {
		return &Rejected{Reason: "not connected"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := &pulseHandle{ctx: ctx, cancel: cancel}

	// The swap and the submit happen under the axis lock, so the order
	// of guide commands on the channel always matches the order of
	// handle swaps. Submit only enqueues, it never blocks on hardware.
	st := &c.axes[axis]
	st.mu.Lock()
	if prev := st.handle; prev != nil {
		prev.cancel()
	}
	st.handle = handle
	st.active = true
	st.start = time.Now()
	st.duration = duration

	p, err := c.exec.Submit(link.Guide(axis, dir, int(duration/time.Millisecond)))
	if err != nil {
		cancel()
		st.handle = nil
		st.active = false
		st.mu.Unlock()
		return &Rejected{Reason: err.Error()}
	}
	st.mu.Unlock()
	go c.watch(axis, handle, p, duration)
	return nil
}

// watch waits out the pulse: first the queued command, then the pulse
// duration, unless cancellation arrives first. On any outcome it
// clears the axis state, but only if no newer pulse has replaced it.
func (c *Controller) watch(axis mount.Axis, handle *pulseHandle, p *queue.Pending, duration time.Duration) {
	defer handle.cancel()
	defer c.clear(axis, handle)

	reply, err := p.Wait(handle.ctx)
	if err == nil {
		err = link.CheckReply(reply)
	}
	if err != nil {
		if handle.ctx.Err() == nil {
			log.Printf("pulse: %s guide failed: %v", axis, err)
		}
		return
	}
	select {
	case <-handle.ctx.Done():
	case <-time.After(duration):
	}
}

// clear is a compare-and-clear on handle identity: a late-finishing
// old pulse must not clobber a newer one's state.
func (c *Controller) clear(axis mount.Axis, handle *pulseHandle) {
	st := &c.axes[axis]
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.handle != handle {
		return
	}
	st.handle = nil
	st.active = false
}
