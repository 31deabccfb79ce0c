// Package mount defines the types shared between the motion-control
// components and the hardware channel implementations.
package mount

import (
	"context"
	"errors"
)

// Axis identifies one of the two mechanical rotation axes.
type Axis int

const (
	AxisRA Axis = iota
	AxisDec
)

func (a Axis) String() string {
	switch a {
	case AxisRA:
		return "ra"
	case AxisDec:
		return "dec"
	}
	return "unknown"
}

// GuideDirection is the direction of a pulse-guide nudge along an axis.
type GuideDirection int

const (
	GuidePlus  GuideDirection = 1
	GuideMinus GuideDirection = -1
)

// Command is an opaque unit of work for the mount. Text is the raw
// command line, without terminator. Only package link builds or
// interprets command text.
type Command struct {
	Text string
}

// Reply is the raw reply line a command produced.
type Reply string

// ScaleFactors converts raw axis counts to degrees. They are captured
// once per connection and immutable afterwards.
type ScaleFactors struct {
	// Steps per full revolution of each axis.
	RAStepsPerRev  float64
	DecStepsPerRev float64
}

// StepsFor returns the steps-per-revolution for the given axis.
func (s ScaleFactors) StepsFor(axis Axis) float64 {
	if axis == AxisDec {
		return s.DecStepsPerRev
	}
	return s.RAStepsPerRev
}

// Channel is the transport to one physical or simulated mount. Send
// transmits a single command and blocks until its reply or a fault.
// Implementations need not be safe for concurrent Send calls; the
// command queue is the sole caller.
type Channel interface {
	Send(ctx context.Context, cmd Command) (Reply, error)
	Close() error
}

var (
	// ErrDisconnected indicates the channel lost the mount. It is fatal
	// to the command queue until restarted.
	ErrDisconnected = errors.New("mount: channel disconnected")
	// ErrNotConnected indicates an operation on a mount that is not
	// connected.
	ErrNotConnected = errors.New("mount: not connected")
)
