// Package console mirrors the mount's hand-controller serial console.
// The hand controller draws a vt100 screen over its own serial line;
// Console scrapes the frames so the web UI can show the controller
// display remotely and forward keypresses to it.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/jaguilar/vt100"
	"github.com/tarm/serial"
)

type Console struct {
	mu    sync.RWMutex
	cond  *sync.Cond
	port  io.ReadWriteCloser
	vt    *vt100.VT100
	frame int
}

// Open starts mirroring the hand controller on the given serial port.
// The port is reopened whenever it drops, until ctx is canceled.
func Open(ctx context.Context, port string, baud int) *Console {
	c := newConsole()
	go c.reconnectLoop(ctx, port, baud)
	return c
}

func newConsole() *Console {
	c := &Console{vt: vt100.NewVT100(80, 24)}
	c.cond = sync.NewCond(c.mu.RLocker())
	return c
}

func (c *Console) reconnectLoop(ctx context.Context, name string, baud int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		s, err := serial.OpenPort(&serial.Config{Name: name, Baud: baud})
		if err != nil {
			log.Printf("console: opening %q: %v", name, err)
			continue
		}
		log.Printf("console: opened %q", name)
		c.attach(s)
		c.pump(s)
		c.attach(nil)
	}
}

func (c *Console) attach(rw io.ReadWriteCloser) {
	c.mu.Lock()
	c.port = rw
	c.mu.Unlock()
}

// pump feeds the screen-scraper until the port fails. Every processed
// escape sequence counts as a new frame and wakes the watchers.
func (c *Console) pump(rw io.ReadWriteCloser) {
	defer rw.Close()
	br := bufio.NewReader(rw)
	for {
		cmd, err := vt100.Decode(br)
		switch err {
		case io.EOF:
			return
		case nil:
		default:
			log.Printf("console: reading serial port: %v", err)
			return
		}
		c.mu.Lock()
		err = c.vt.Process(cmd)
		c.frame++
		c.cond.Broadcast()
		c.mu.Unlock()
		switch err.(type) {
		case nil, vt100.UnsupportedError:
		default:
			log.Printf("console: processing escape sequence: %v", err)
		}
	}
}

// SendKeys forwards keypresses to the hand controller.
func (c *Console) SendKeys(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port == nil {
		return errors.New("console: not connected")
	}
	_, err := c.port.Write([]byte(input))
	return err
}

// FrameWatcher follows the console screen frame by frame. Each watcher
// keeps its own cursor, so slow consumers skip frames rather than
// stalling the scraper.
type FrameWatcher struct {
	c     *Console
	frame int
}

func (c *Console) WatchFrames() *FrameWatcher {
	return &FrameWatcher{c: c}
}

// Next blocks until a frame newer than the last returned one exists,
// then renders it as HTML.
func (w *FrameWatcher) Next() string {
	w.c.mu.RLock()
	defer w.c.mu.RUnlock()
	for w.c.frame <= w.frame {
		w.c.cond.Wait()
	}
	w.frame = w.c.frame
	return w.c.vt.HTML()
}
