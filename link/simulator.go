package link

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wa1ant/mount_interface/mount"
)

const (
	// Maximum slew velocity in degrees/second.
	simMaxVel = 30
	// Guide rate in degrees/second.
	simGuideRate = 0.12
	// Discrete simulation step size.
	simStepSize = 5 * time.Millisecond
)

// Simulator is a simulated mount speaking the command vocabulary over
// one end of a net.Pipe. It services commands and steps axis physics
// on a fixed tick until its context is canceled or the peer closes.
type Simulator struct {
	conn net.Conn

	mu       sync.Mutex
	scale    mount.ScaleFactors
	pos      [2]float64 // degrees
	target   [2]float64
	servo    [2]bool
	guideDir [2]float64
	guideEnd [2]time.Time
	tracking bool
	dropped  bool
}

// NewSimulator returns a simulator and the client end of its pipe.
func NewSimulator() (*Simulator, net.Conn) {
	a, b := net.Pipe()
	return &Simulator{
		conn: a,
		scale: mount.ScaleFactors{
			RAStepsPerRev:  4147200,
			DecStepsPerRev: 4147200,
		},
	}, b
}

// Run services the pipe until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	defer s.conn.Close()
	t := time.NewTicker(simStepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.conn.Close()
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			s.step(simStepSize)
		}
	})
	g.Go(s.reader)
	return g.Wait()
}

// Drop makes every subsequent command go unanswered, as if the cable
// were pulled. Used by tests to exercise disconnect handling.
func (s *Simulator) Drop() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
	s.conn.Close()
}

// Position returns the current axis positions in degrees.
func (s *Simulator) Position() (ra, dec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[0], s.pos[1]
}

// SetPosition overrides the current axis positions, for tests.
func (s *Simulator) SetPosition(ra, dec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[0], s.pos[1] = ra, dec
}

// Tracking reports whether sidereal tracking is enabled.
func (s *Simulator) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

func (s *Simulator) reader() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		input := scanner.Text()
		reply, err := s.handle(input)
		if err != nil {
			log.Printf("sim: %q: %v", input, err)
			reply = "e1"
		}
		if reply == "" {
			// Dropped link: swallow the command.
			continue
		}
		if _, err := fmt.Fprintf(s.conn, "%s\n", reply); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *Simulator) handle(input string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return "", nil
	}
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}
	switch fields[0] {
	case "POS?":
		return fmt.Sprintf("p%d,%d",
			s.rawLocked(mount.AxisRA),
			s.rawLocked(mount.AxisDec)), nil
	case "SCALE?":
		return fmt.Sprintf("s%d,%d",
			int64(s.scale.RAStepsPerRev),
			int64(s.scale.DecStepsPerRev)), nil
	case "MOVE":
		if len(fields) != 3 {
			return "", fmt.Errorf("MOVE wants axis and target")
		}
		axis, err := parseAxis(fields[1])
		if err != nil {
			return "", err
		}
		raw, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return "", err
		}
		s.target[axis] = float64(raw) / s.scale.StepsFor(axis) * 360
		s.servo[axis] = true
		return "ok", nil
	case "STOP":
		if len(fields) == 2 {
			axis, err := parseAxis(fields[1])
			if err != nil {
				return "", err
			}
			s.servo[axis] = false
			s.guideEnd[axis] = time.Time{}
			return "ok", nil
		}
		s.servo[0], s.servo[1] = false, false
		s.guideEnd[0], s.guideEnd[1] = time.Time{}, time.Time{}
		return "ok", nil
	case "TRACK":
		if len(fields) != 2 || (fields[1] != "ON" && fields[1] != "OFF") {
			return "", fmt.Errorf("TRACK wants ON or OFF")
		}
		s.tracking = fields[1] == "ON"
		return "ok", nil
	case "GUIDE":
		if len(fields) != 3 {
			return "", fmt.Errorf("GUIDE wants axis and signed duration")
		}
		axis, err := parseAxis(fields[1])
		if err != nil {
			return "", err
		}
		ms, err := strconv.Atoi(fields[2])
		if err != nil {
			return "", err
		}
		dir := 1.0
		if ms < 0 {
			dir, ms = -1, -ms
		}
		s.guideDir[axis] = dir
		s.guideEnd[axis] = time.Now().Add(time.Duration(ms) * time.Millisecond)
		return "ok", nil
	case "SYNC":
		if len(fields) != 2 {
			return "", fmt.Errorf("SYNC wants raw positions")
		}
		parts := strings.Split(fields[1], ",")
		if len(parts) != 2 {
			return "", fmt.Errorf("SYNC wants two raw positions")
		}
		for axis, part := range parts {
			raw, err := strconv.ParseInt(part, 10, 32)
			if err != nil {
				return "", err
			}
			s.pos[axis] = float64(raw) / s.scale.StepsFor(mount.Axis(axis)) * 360
		}
		return "ok", nil
	}
	return "", fmt.Errorf("unknown command")
}

func (s *Simulator) rawLocked(axis mount.Axis) int32 {
	deg := s.pos[axis]
	for deg >= 180 {
		deg -= 360
	}
	for deg < -180 {
		deg += 360
	}
	return int32(deg / 360 * s.scale.StepsFor(axis))
}

func (s *Simulator) step(dt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for axis := 0; axis < 2; axis++ {
		if now.Before(s.guideEnd[axis]) {
			s.pos[axis] += s.guideDir[axis] * simGuideRate * dt.Seconds()
			continue
		}
		if !s.servo[axis] {
			continue
		}
		delta := s.target[axis] - s.pos[axis]
		step := simMaxVel * dt.Seconds()
		if math.Abs(delta) <= step {
			s.pos[axis] = s.target[axis]
			s.servo[axis] = false
			continue
		}
		if delta < 0 {
			step = -step
		}
		s.pos[axis] += step
	}
}

func parseAxis(s string) (mount.Axis, error) {
	switch s {
	case "ra":
		return mount.AxisRA, nil
	case "dec":
		return mount.AxisDec, nil
	}
	return 0, fmt.Errorf("unknown axis %q", s)
}
