// Package link implements the command channel to a physical or
// simulated mount, and the textual command vocabulary both speak.
package link

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/wa1ant/mount_interface/mount"
)

// Conn is a mount.Channel over any line-oriented byte stream. One
// command is in flight at a time; Send writes the command line and
// blocks until the terminating newline of its reply arrives. The
// command queue is the only caller, so Conn does no locking of its own.
type Conn struct {
	rw     io.ReadWriteCloser
	reader *bufio.Reader
	scale  mount.ScaleFactors
}

// NewConn wraps an open connection. Callers must run Handshake before
// issuing movement commands.
func NewConn(rw io.ReadWriteCloser) *Conn {
	return &Conn{rw: rw, reader: bufio.NewReader(rw)}
}

// Handshake brings the mount to a known state (STOP) and captures the
// axis scale factors, which are immutable for the life of the
// connection.
func (c *Conn) Handshake(ctx context.Context) error {
	reply, err := c.Send(ctx, Stop())
	if err != nil {
		return err
	}
	if err := CheckReply(reply); err != nil {
		return fmt.Errorf("stop handshake: %w", err)
	}
	reply, err = c.Send(ctx, QueryScale())
	if err != nil {
		return err
	}
	scale, err := ParseScale(reply)
	if err != nil {
		return err
	}
	c.scale = scale
	return nil
}

// Scale returns the factors captured by Handshake.
func (c *Conn) Scale() mount.ScaleFactors {
	return c.scale
}

func (c *Conn) Send(ctx context.Context, cmd mount.Command) (mount.Reply, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := c.rw.Write([]byte(cmd.Text + "\n")); err != nil {
		return "", fmt.Errorf("writing %q: %w", cmd.Text, mount.ErrDisconnected)
	}
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading reply to %q: %w", cmd.Text, mount.ErrDisconnected)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		// Unsolicited diagnostics start with '!'.
		if line[0] == '!' {
			log.Printf("mount: %s", line)
			continue
		}
		return mount.Reply(line), nil
	}
}

func (c *Conn) Close() error {
	return c.rw.Close()
}
