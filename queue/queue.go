// Package queue serializes mount commands onto the command channel.
//
// A single worker executes submitted commands strictly in submission
// order, one at a time, and resolves each command's Pending handle
// with the reply or a fault. Funneling all hardware access through
// this one point is what lets the slew and pulse subsystems run
// without coordinating about the channel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/wa1ant/mount_interface/mount"
)

var (
	// ErrStopped is returned by Submit when the queue is not running.
	ErrStopped = errors.New("queue: not running")
	// ErrDisconnected resolves handles abandoned by a channel
	// disconnect, and rejects submissions until the next Start.
	ErrDisconnected = fmt.Errorf("queue: %w", mount.ErrDisconnected)
)

// Pending is the completion handle for one submitted command. The
// submitter owns the handle; the queue owns the live entry until it
// resolves.
type Pending struct {
	seq  uint64
	cmd  mount.Command
	done chan struct{}

	reply mount.Reply
	err   error
}

// Seq returns the command's sequence id, assigned at submission.
func (p *Pending) Seq() uint64 { return p.seq }

// Done is closed once the command has resolved.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result returns the reply or fault. It must not be called before
// Done is closed.
func (p *Pending) Result() (mount.Reply, error) {
	return p.reply, p.err
}

// Wait blocks until the command resolves or ctx is canceled. The
// command itself is not canceled; it remains queued and will still
// execute in order.
func (p *Pending) Wait(ctx context.Context) (mount.Reply, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return p.reply, p.err
	}
}

func (p *Pending) resolve(reply mount.Reply, err error) {
	p.reply, p.err = reply, err
	close(p.done)
}

// Executor owns the command channel and runs the single worker.
type Executor struct {
	channel mount.Channel

	mu      sync.Mutex
	running bool
	closed  bool // disconnected until Start
	nextSeq uint64
	pending []*Pending
	wake    chan struct{}
	stop    context.CancelFunc
	stopped chan struct{}
}

// New returns an executor for the given channel. Call Start before
// submitting.
func New(channel mount.Channel) *Executor {
	return &Executor{channel: channel, closed: true}
}

// Start launches the worker. It is an error to start a running
// executor.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("queue: already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.closed = false
	e.wake = make(chan struct{}, 1)
	e.stop = cancel
	e.stopped = make(chan struct{})
	go e.run(ctx, e.wake, e.stopped)
	return nil
}

// Stop halts the worker and fails all queued commands with ErrStopped.
// A command already in flight on the channel is not interrupted.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	stop, stopped := e.stop, e.stopped
	e.mu.Unlock()
	stop()
	<-stopped
	e.failQueued(ErrStopped)
}

// Submit assigns the next sequence id and enqueues the command. It
// never blocks beyond enqueueing.
func (e *Executor) Submit(cmd mount.Command) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.closed {
		if e.closed {
			return nil, ErrDisconnected
		}
		return nil, ErrStopped
	}
	e.nextSeq++
	p := &Pending{seq: e.nextSeq, cmd: cmd, done: make(chan struct{})}
	e.pending = append(e.pending, p)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return p, nil
}

// Disconnected reports whether the channel has faulted since the last
// Start.
func (e *Executor) Disconnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Executor) run(ctx context.Context, wake chan struct{}, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p := e.next()
		if p == nil {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				continue
			}
		}
		reply, err := e.channel.Send(ctx, p.cmd)
		if err != nil && errors.Is(err, mount.ErrDisconnected) {
			log.Printf("queue: channel disconnected at seq %d: %v", p.seq, err)
			p.resolve("", err)
			e.disconnect()
			return
		}
		p.resolve(reply, err)
	}
}

// next pops the head of the queue, or returns nil if it is empty.
func (e *Executor) next() *Pending {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	p := e.pending[0]
	e.pending = e.pending[1:]
	return p
}

// disconnect transitions to the disconnected state: all queued handles
// fail and new submissions are refused until Start is called again.
// The worker's derived context is released here, not left for a later
// Start or Stop.
func (e *Executor) disconnect() {
	e.mu.Lock()
	e.closed = true
	e.running = false
	stop := e.stop
	e.mu.Unlock()
	stop()
	e.failQueued(ErrDisconnected)
}

func (e *Executor) failQueued(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.running = false
	e.mu.Unlock()
	for _, p := range pending {
		p.resolve("", err)
	}
}
