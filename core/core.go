// Package core assembles the motion-control components for one mount
// connection: command channel, command queue, position tracker, slew
// orchestrator and pulse controller. One Mount is created per
// connection and owns everything; there is no process-wide state.
package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wa1ant/mount_interface/internal/config"
	"github.com/wa1ant/mount_interface/link"
	"github.com/wa1ant/mount_interface/mount"
	"github.com/wa1ant/mount_interface/power"
	"github.com/wa1ant/mount_interface/pulse"
	"github.com/wa1ant/mount_interface/queue"
	"github.com/wa1ant/mount_interface/slew"
	"github.com/wa1ant/mount_interface/tracker"
)

// Status is the polled view of the mount, pushed to status callbacks
// after every position sample.
type Status struct {
	Connected bool
	RA        float64
	Dec       float64
	Sampled   time.Time

	Slewing   bool
	SlewState string
	AtPark    bool
	AtHome    bool
	LastFault string

	PulseRA     bool
	PulseDec    bool
	PulseEither bool

	DrivePower *power.Status `json:",omitempty"`
}

type StatusCallback func(status Status)

// Mount is the motion-control core for one mount connection.
type Mount struct {
	cfg     *config.Config
	channel *link.Conn
	exec    *queue.Executor
	trk     *tracker.Tracker
	slews   *slew.Orchestrator
	pulses  *pulse.Controller
	box     *power.Box

	statusCallback StatusCallback
	cancel         context.CancelFunc

	mu          sync.Mutex
	powerStatus *power.Status
}

// Connect opens the configured channel (or starts the simulator if no
// serial port is configured), captures the axis scale factors and
// starts the command queue and the position poll loop.
func Connect(ctx context.Context, cfg *config.Config, statusCallback StatusCallback) (*Mount, error) {
	if cfg.Serial.Port == "" {
		m, _, err := ConnectSimulated(ctx, cfg, statusCallback)
		return m, err
	}
	ctx, cancel := context.WithCancel(ctx)
	conn, err := link.OpenSerial(ctx, cfg.Serial.Port, cfg.Serial.Baud, cfg.SerialTimeout())
	if err != nil {
		cancel()
		return nil, err
	}
	return assemble(ctx, cancel, cfg, conn, statusCallback)
}

// ConnectSimulated is Connect against the built-in simulator, which is
// returned so tests can poke the physics directly.
func ConnectSimulated(ctx context.Context, cfg *config.Config, statusCallback StatusCallback) (*Mount, *link.Simulator, error) {
	ctx, cancel := context.WithCancel(ctx)
	sim, client := link.NewSimulator()
	go func() {
		if err := sim.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("simulator: %v", err)
		}
	}()
	conn := link.NewConn(client)
	if err := conn.Handshake(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("simulator handshake: %w", err)
	}
	m, err := assemble(ctx, cancel, cfg, conn, statusCallback)
	if err != nil {
		return nil, nil, err
	}
	return m, sim, nil
}

func assemble(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, conn *link.Conn, statusCallback StatusCallback) (*Mount, error) {
	m := &Mount{
		cfg:            cfg,
		channel:        conn,
		trk:            tracker.New(conn.Scale()),
		statusCallback: statusCallback,
		cancel:         cancel,
	}
	m.exec = queue.New(conn)
	if err := m.exec.Start(ctx); err != nil {
		cancel()
		conn.Close()
		return nil, err
	}

	var gate func() error
	if cfg.Power != nil {
		box, err := power.Connect(ctx, cfg.Power.Port, cfg.Power.Baud, cfg.Power.URL, m.powerCallback)
		if err != nil {
			cancel()
			conn.Close()
			return nil, err
		}
		m.box = box
		gate = box.Gate
	}

	m.slews = slew.New(slew.Config{
		ToleranceDeg: cfg.Motion.ToleranceDeg,
		PollInterval: cfg.PollInterval(),
		ParkRA:       cfg.Motion.ParkRA,
		ParkDec:      cfg.Motion.ParkDec,
		HomeRA:       cfg.Motion.HomeRA,
		HomeDec:      cfg.Motion.HomeDec,
		MinDec:       cfg.Motion.MinDec,
		MaxDec:       cfg.Motion.MaxDec,
		Latitude:     cfg.Site.LatitudeDeg,
		Longitude:    cfg.Site.LongitudeDeg,
	}, m.exec, m.trk, gate)
	m.pulses = pulse.New(m.exec, cfg.MaxPulse())

	go m.pollLoop(ctx)
	return m, nil
}

// pollLoop refreshes the position tracker through the command queue.
// It is the tracker's sole writer; the movement loop and status
// readers only ever see its snapshots.
func (m *Mount) pollLoop(ctx context.Context) {
	t := time.NewTicker(m.cfg.PollInterval() / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		p, err := m.exec.Submit(link.QueryPosition())
		if err != nil {
			m.notify()
			if m.exec.Disconnected() {
				log.Printf("core: position poll stopped: %v", err)
				return
			}
			continue
		}
		reply, err := p.Wait(ctx)
		if err != nil {
			m.notify()
			if m.exec.Disconnected() {
				log.Printf("core: position poll stopped: %v", err)
				return
			}
			continue
		}
		ra, dec, err := link.ParsePosition(reply)
		if err != nil {
			log.Printf("core: %v", err)
			continue
		}
		m.trk.Update(ra, dec, time.Now())
		m.notify()
	}
}

func (m *Mount) powerCallback(status power.Status) {
	m.mu.Lock()
	s := status
	m.powerStatus = &s
	m.mu.Unlock()
	m.notify()
}

func (m *Mount) notify() {
	if m.statusCallback == nil {
		return
	}
	m.statusCallback(m.Status())
}

// Status assembles the polled status view.
func (m *Mount) Status() Status {
	snap := m.trk.Snapshot()
	st := Status{
		Connected:   !m.exec.Disconnected(),
		RA:          snap.RA,
		Dec:         snap.Dec,
		Sampled:     snap.Sampled,
		Slewing:     m.slews.Slewing(),
		SlewState:   m.slews.State().String(),
		AtPark:      m.slews.AtPark(),
		AtHome:      m.slews.AtHome(),
		PulseRA:     m.pulses.Active(mount.AxisRA),
		PulseDec:    m.pulses.Active(mount.AxisDec),
		PulseEither: m.pulses.ActiveEither(),
	}
	if err := m.slews.LastFault(); err != nil {
		st.LastFault = err.Error()
	}
	m.mu.Lock()
	st.DrivePower = m.powerStatus
	m.mu.Unlock()
	return st
}

// SlewToCoordinates begins a goto to the given equatorial target, in
// degrees.
func (m *Mount) SlewToCoordinates(ctx context.Context, ra, dec float64, trackAfter bool) error {
	return m.slews.BeginMove(ctx, slew.Request{
		Kind:       slew.GoToCoordinates,
		RA:         ra,
		Dec:        dec,
		TrackAfter: trackAfter,
		Created:    time.Now(),
	})
}

// SlewToAltAz begins a goto to the given horizontal target, in degrees.
func (m *Mount) SlewToAltAz(ctx context.Context, alt, az float64) error {
	return m.slews.BeginMove(ctx, slew.Request{
		Kind:    slew.GoToAltAz,
		Alt:     alt,
		Az:      az,
		Created: time.Now(),
	})
}

// Park begins a slew to the configured park position and disables
// tracking on arrival.
func (m *Mount) Park(ctx context.Context) error {
	return m.slews.BeginMove(ctx, slew.Request{Kind: slew.Park, Created: time.Now()})
}

// FindHome begins a slew to the configured home position.
func (m *Mount) FindHome(ctx context.Context) error {
	return m.slews.BeginMove(ctx, slew.Request{Kind: slew.FindHome, Created: time.Now()})
}

// SyncTo overwrites the mount's idea of its position.
func (m *Mount) SyncTo(ctx context.Context, ra, dec float64) error {
	return m.slews.BeginMove(ctx, slew.Request{
		Kind:    slew.Sync,
		RA:      ra,
		Dec:     dec,
		Created: time.Now(),
	})
}

// AbortSlew cancels the in-flight movement, if any.
func (m *Mount) AbortSlew() {
	m.slews.Abort()
}

// PulseGuide starts a guide nudge on the given axis.
func (m *Mount) PulseGuide(axis mount.Axis, dir mount.GuideDirection, duration time.Duration) error {
	return m.pulses.Pulse(axis, dir, duration)
}

// Slews exposes the orchestrator's polled flags.
func (m *Mount) Slews() *slew.Orchestrator { return m.slews }

// Pulses exposes the pulse controller's polled flags.
func (m *Mount) Pulses() *pulse.Controller { return m.pulses }

// Tracker exposes position snapshots.
func (m *Mount) Tracker() *tracker.Tracker { return m.trk }

// Power exposes the drive-power box, or nil if not configured.
func (m *Mount) Power() *power.Box { return m.box }

// Close aborts any movement, stops the queue and closes the channel.
func (m *Mount) Close() error {
	m.slews.Abort()
	m.cancel()
	m.exec.Stop()
	return m.channel.Close()
}
