package link

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tarm/serial"
)

// OpenSerial opens the given serial port and performs the connect
// handshake. The read timeout bounds each command's reply wait; an
// expired timeout surfaces as a disconnect.
func OpenSerial(ctx context.Context, name string, baud int, timeout time.Duration) (*Conn, error) {
	c := &serial.Config{Name: name, Baud: baud, ReadTimeout: timeout}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	log.Printf("opened %q", name)
	conn := NewConn(port)
	if err := conn.Handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
