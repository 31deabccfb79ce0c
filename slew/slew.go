// Package slew supervises mount movements: goto, park, find-home and
// sync. One orchestrator owns at most one in-flight operation; a new
// request or an abort supersedes the current one before anything else
// may move.
package slew

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wa1ant/mount_interface/astro"
	"github.com/wa1ant/mount_interface/link"
	"github.com/wa1ant/mount_interface/mount"
	"github.com/wa1ant/mount_interface/queue"
	"github.com/wa1ant/mount_interface/tracker"
)

// Kind is the movement goal of a request.
type Kind int

const (
	GoToCoordinates Kind = iota
	GoToAltAz
	Park
	FindHome
	Sync
)

func (k Kind) String() string {
	switch k {
	case GoToCoordinates:
		return "goto"
	case GoToAltAz:
		return "goto-altaz"
	case Park:
		return "park"
	case FindHome:
		return "find-home"
	case Sync:
		return "sync"
	}
	return "unknown"
}

// Request is an immutable description of one movement goal. RA/Dec are
// used by GoToCoordinates and Sync, Alt/Az by GoToAltAz; Park and
// FindHome take their targets from the configuration.
type Request struct {
	Kind       Kind
	RA, Dec    float64
	Alt, Az    float64
	TrackAfter bool
	Created    time.Time
}

// State is the lifecycle state of one operation.
type State int

const (
	Idle State = iota
	Initiating
	Moving
	Completing
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case Moving:
		return "moving"
	case Completing:
		return "completing"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

func (s State) active() bool {
	return s == Initiating || s == Moving || s == Completing
}

// Rejected is a synchronously rejected request. It is never raised
// from a background task.
type Rejected struct {
	Reason string
}

func (r *Rejected) Error() string {
	return "slew rejected: " + r.Reason
}

func reject(format string, args ...interface{}) error {
	return &Rejected{Reason: fmt.Sprintf(format, args...)}
}

// Config holds the per-mount movement parameters.
type Config struct {
	// ToleranceDeg is how close both axes must be to the target for
	// the movement to count as complete.
	ToleranceDeg float64
	// PollInterval is the movement-phase loop period; cancellation is
	// observed within one interval.
	PollInterval time.Duration
	// Park and home positions, in axis degrees.
	ParkRA, ParkDec float64
	HomeRA, HomeDec float64
	// Declination limits for any target.
	MinDec, MaxDec float64
	// Site coordinates for horizontal goals.
	Latitude, Longitude float64
}

func (c *Config) applyDefaults() {
	if c.ToleranceDeg == 0 {
		c.ToleranceDeg = 0.05
	}
	if c.PollInterval == 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.MinDec == 0 && c.MaxDec == 0 {
		c.MinDec, c.MaxDec = -90, 90
	}
}

// operation is the live supervisory record for one movement.
type operation struct {
	req    Request
	start  time.Time
	ctx    context.Context
	cancel context.CancelFunc
	// done is closed when the movement task has fully unwound.
	done chan struct{}

	mu    sync.Mutex
	state State
	fault error
}

func (op *operation) setState(s State) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

func (op *operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

func (op *operation) fail(err error) {
	op.mu.Lock()
	op.state = Failed
	op.fault = err
	op.mu.Unlock()
}

// Orchestrator runs the three-phase movement lifecycle and owns
// cancellation and re-entrancy control.
type Orchestrator struct {
	cfg  Config
	exec *queue.Executor
	trk  *tracker.Tracker
	// gate, if set, is consulted before accepting any movement
	// (used for the drive-power interlock).
	gate func() error

	// mu serializes BeginMove, Abort and supersede. It is held only
	// across setup, never across the movement loop.
	mu sync.Mutex

	// stateMu guards the fields below. Status readers take only this
	// lock, so polling never contends with an in-progress supersede.
	stateMu   sync.RWMutex
	op        *operation
	atPark    bool
	atHome    bool
	lastFault error
}

// New returns an orchestrator issuing commands through exec and
// reading positions from trk. gate may be nil.
func New(cfg Config, exec *queue.Executor, trk *tracker.Tracker, gate func() error) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{cfg: cfg, exec: exec, trk: trk, gate: gate}
}

// Slewing reports whether a movement is in progress.
func (o *Orchestrator) Slewing() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.op != nil && o.op.State().active()
}

// AtPark reports whether the last completed operation parked the mount.
func (o *Orchestrator) AtPark() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.atPark
}

// AtHome reports whether the last completed operation homed the mount.
func (o *Orchestrator) AtHome() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.atHome
}

// LastFault returns the fault that terminated the most recent failed
// operation, or nil.
func (o *Orchestrator) LastFault() error {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.lastFault
}

// State returns the current operation's state, or Idle.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if o.op == nil {
		return Idle
	}
	return o.op.State()
}

// Abort cancels the current operation, if any. It is idempotent and
// returns immediately; callers poll Slewing for completion.
func (o *Orchestrator) Abort() {
	o.stateMu.RLock()
	op := o.op
	o.stateMu.RUnlock()
	if op != nil {
		op.cancel()
	}
}

// BeginMove validates the request, supersedes any in-flight operation
// and starts the movement task. It returns before the movement phase
// runs; a nil error means the request was accepted. ctx bounds only
// the synchronous setup work.
func (o *Orchestrator) BeginMove(ctx context.Context, req Request) error {
	if err := o.validate(req); err != nil {
		return err
	}
	if req.Created.IsZero() {
		req.Created = time.Now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Supersede: cancel the current operation and wait for its
	// movement task to observe cancellation and unwind. The wait is
	// bounded by one poll interval plus a queued stop command.
	o.stateMu.RLock()
	prev := o.op
	o.stateMu.RUnlock()
	if prev != nil && prev.State().active() {
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Re-validate under the lock; the queue may have disconnected
	// while we waited.
	if err := o.validate(req); err != nil {
		return err
	}

	opCtx, cancel := context.WithCancel(context.Background())
	op := &operation{
		req:    req,
		start:  time.Now(),
		ctx:    opCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  Initiating,
	}
	o.stateMu.Lock()
	o.op = op
	o.atPark = false
	o.atHome = false
	o.lastFault = nil
	o.stateMu.Unlock()

	if req.Kind == Sync {
		return o.runSync(ctx, op)
	}

	targetRA, targetDec, err := o.targets(req)
	if err != nil {
		o.finish(op, Idle)
		return err
	}
	scale := o.trk.Scale()
	raPending, err := o.exec.Submit(link.Move(mount.AxisRA, link.RawForDegrees(scale, mount.AxisRA, targetRA)))
	if err != nil {
		o.finish(op, Idle)
		return reject("submitting move: %v", err)
	}
	decPending, err := o.exec.Submit(link.Move(mount.AxisDec, link.RawForDegrees(scale, mount.AxisDec, targetDec)))
	if err != nil {
		o.finish(op, Idle)
		return reject("submitting move: %v", err)
	}

	op.setState(Moving)
	go o.runMove(op, targetRA, targetDec, raPending, decPending)
	return nil
}

func (o *Orchestrator) validate(req Request) error {
	if o.exec.Disconnected() {
		return reject("not connected")
	}
	if o.gate != nil {
		if err := o.gate(); err != nil {
			return reject("%v", err)
		}
	}
	switch req.Kind {
	case Park:
		if o.AtPark() {
			return reject("already parked")
		}
	case GoToCoordinates, Sync:
		if req.RA < 0 || req.RA >= 360 {
			return reject("right ascension %.3f out of range", req.RA)
		}
		if req.Dec < o.cfg.MinDec || req.Dec > o.cfg.MaxDec {
			return reject("declination %.3f outside [%.1f, %.1f]", req.Dec, o.cfg.MinDec, o.cfg.MaxDec)
		}
	case GoToAltAz:
		if req.Alt < 0 || req.Alt > 90 {
			return reject("altitude %.3f out of range", req.Alt)
		}
	}
	return nil
}

// targets computes the axis goal in degrees for the request.
func (o *Orchestrator) targets(req Request) (ra, dec float64, err error) {
	switch req.Kind {
	case GoToCoordinates:
		return req.RA, req.Dec, nil
	case GoToAltAz:
		ra, dec = astro.AltAzToRADec(req.Alt, req.Az, time.Now(), o.cfg.Latitude, o.cfg.Longitude)
		if dec < o.cfg.MinDec || dec > o.cfg.MaxDec {
			return 0, 0, reject("target declination %.3f outside [%.1f, %.1f]", dec, o.cfg.MinDec, o.cfg.MaxDec)
		}
		return ra, dec, nil
	case Park:
		return o.cfg.ParkRA, o.cfg.ParkDec, nil
	case FindHome:
		return o.cfg.HomeRA, o.cfg.HomeDec, nil
	}
	return 0, 0, reject("no axis target for %s", req.Kind)
}

// runSync issues the position overwrite synchronously; sync has no
// movement phase.
func (o *Orchestrator) runSync(ctx context.Context, op *operation) error {
	scale := o.trk.Scale()
	p, err := o.exec.Submit(link.Sync(
		link.RawForDegrees(scale, mount.AxisRA, op.req.RA),
		link.RawForDegrees(scale, mount.AxisDec, op.req.Dec)))
	if err != nil {
		o.finish(op, Idle)
		return reject("submitting sync: %v", err)
	}
	reply, err := p.Wait(ctx)
	if err == nil {
		err = link.CheckReply(reply)
	}
	if err != nil {
		o.recordFault(err)
		op.fail(err)
		o.finish(op, Failed)
		return reject("sync: %v", err)
	}
	o.finish(op, Idle)
	return nil
}

// runMove is the movement-phase task. It owns the operation's
// cancellation handle and is the only place cancellation is observed.
func (o *Orchestrator) runMove(op *operation, targetRA, targetDec float64, pendings ...*queue.Pending) {
	defer func() {
		op.cancel()
		close(op.done)
	}()

	// The initiating commands resolve first; a fault here means the
	// mount never started moving.
	for _, p := range pendings {
		select {
		case <-op.ctx.Done():
			o.abortMove(op)
			return
		case <-p.Done():
		}
		reply, err := p.Result()
		if err == nil {
			err = link.CheckReply(reply)
		}
		if err != nil {
			o.failMove(op, err)
			return
		}
	}

	for {
		select {
		case <-op.ctx.Done():
			o.abortMove(op)
			return
		case <-time.After(o.cfg.PollInterval):
		}
		snap := o.trk.Snapshot()
		if !snap.Valid() || snap.Sampled.Before(op.start) {
			// No fresh sample yet.
			continue
		}
		if tracker.SeparationDeg(snap.RA, targetRA) <= o.cfg.ToleranceDeg &&
			tracker.SeparationDeg(snap.Dec, targetDec) <= o.cfg.ToleranceDeg {
			break
		}
		if o.exec.Disconnected() {
			o.failMove(op, queue.ErrDisconnected)
			return
		}
	}

	o.complete(op)
}

// complete runs the completion phase. It is not cancellable: it runs
// to the end so the mount is left in a consistent state.
func (o *Orchestrator) complete(op *operation) {
	op.setState(Completing)
	switch {
	case op.req.Kind == Park:
		if err := o.submitAndCheck(link.Track(false)); err != nil {
			o.failMove(op, err)
			return
		}
	case op.req.TrackAfter:
		if err := o.submitAndCheck(link.Track(true)); err != nil {
			o.failMove(op, err)
			return
		}
	}
	o.stateMu.Lock()
	o.atPark = op.req.Kind == Park
	o.atHome = op.req.Kind == FindHome
	o.stateMu.Unlock()
	o.finishAsync(op, Idle)
	log.Printf("slew: %s complete after %v", op.req.Kind, time.Since(op.start))
}

// abortMove issues the stop command and terminates the operation.
func (o *Orchestrator) abortMove(op *operation) {
	o.bestEffortStop()
	o.finishAsync(op, Aborted)
	log.Printf("slew: %s aborted after %v", op.req.Kind, time.Since(op.start))
}

// failMove records the fault after a best-effort stop. The fault is
// recorded before the state flips to Failed: a BeginMove that
// supersedes on seeing the terminal state must not race a late fault
// write from this task.
func (o *Orchestrator) failMove(op *operation, err error) {
	o.bestEffortStop()
	o.recordFault(err)
	op.fail(err)
	log.Printf("slew: %s failed: %v", op.req.Kind, err)
}

func (o *Orchestrator) bestEffortStop() {
	if _, err := o.exec.Submit(link.Stop()); err != nil {
		log.Printf("slew: stop not submitted: %v", err)
	}
}

func (o *Orchestrator) submitAndCheck(cmd mount.Command) error {
	p, err := o.exec.Submit(cmd)
	if err != nil {
		return err
	}
	reply, err := p.Wait(context.Background())
	if err != nil {
		return err
	}
	return link.CheckReply(reply)
}

func (o *Orchestrator) recordFault(err error) {
	o.stateMu.Lock()
	o.lastFault = err
	o.stateMu.Unlock()
}

// finish sets the terminal state for an operation whose movement task
// never started.
func (o *Orchestrator) finish(op *operation, s State) {
	op.setState(s)
	op.cancel()
	close(op.done)
}

// finishAsync sets the terminal state from within the movement task;
// the task's own deferred cleanup releases the cancellation handle.
func (o *Orchestrator) finishAsync(op *operation, s State) {
	op.setState(s)
}
