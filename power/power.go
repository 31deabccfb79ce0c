// Package power polls the modbus relay box that feeds the mount's
// drive motors. The orchestrator refuses movements while drive power
// is down.
package power

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/wa1ant/mount_interface/internal/modbus"
)

// ErrDrivesOff gates movement commands while the drives are unpowered.
var ErrDrivesOff = errors.New("power: drive motors not powered")

type Status struct {
	CommandSpinupDelay int

	CommandRAEnabled  bool
	CommandDecEnabled bool

	SupplyOkay bool
	RAActive   bool
	DecActive  bool
}

type StatusCallback func(status Status)

type Box struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	client         *modbus.Client
	polled         bool
	delay          int
	coils          []bool
	inputs         []bool
}

// Connect starts polling the box at the given serial port, or at a
// remote modbus_server URL if url is non-empty.
func Connect(ctx context.Context, port string, baud int, url string, statusCallback StatusCallback) (*Box, error) {
	b := &Box{
		client: &modbus.Client{
			Port:     port,
			BaudRate: baud,
			URL:      url,
			SlaveId:  1,
		},
		statusCallback: statusCallback,
	}
	b.client.Poll = b.pollOnce
	return b, b.client.Connect(ctx)
}

func (b *Box) pollOnce() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	results, err := b.client.ReadHoldingRegisters(0, 1)
	if err != nil {
		return err
	}
	b.delay = int(binary.BigEndian.Uint16(results))

	coils, err := b.client.ReadCoils(0, 2)
	if err != nil {
		return err
	}
	inputs, err := b.client.ReadDiscreteInputs(0, 3)
	if err != nil {
		return err
	}
	b.coils = modbus.BytesToBits(coils)
	b.inputs = modbus.BytesToBits(inputs)
	b.polled = true
	b.notifyStatus()
	return nil
}

func (b *Box) notifyStatus() {
	status := b.parseRegisters()
	if b.statusCallback != nil {
		b.statusCallback(status)
	}
}

func (b *Box) parseRegisters() Status {
	return Status{
		CommandSpinupDelay: b.delay,

		CommandRAEnabled:  b.coils[0],
		CommandDecEnabled: b.coils[1],

		SupplyOkay: b.inputs[0],
		RAActive:   b.inputs[1],
		DecActive:  b.inputs[2],
	}
}

// Active reports whether both drive motors are powered. It is false
// until the first successful poll.
func (b *Box) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.polled {
		return false
	}
	s := b.parseRegisters()
	return s.SupplyOkay && s.RAActive && s.DecActive
}

// Gate is the movement precondition: nil while the drives are powered.
func (b *Box) Gate() error {
	if !b.Active() {
		return ErrDrivesOff
	}
	return nil
}

// SetDrivesEnabled commands both drive relays.
func (b *Box) SetDrivesEnabled(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.client.WriteCoil(0, enabled); err != nil {
		return err
	}
	if err := b.client.WriteCoil(1, enabled); err != nil {
		return err
	}
	return nil
}
