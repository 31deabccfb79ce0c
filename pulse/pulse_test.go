package pulse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wa1ant/mount_interface/mount"
	"github.com/wa1ant/mount_interface/queue"
)

type fakeChannel struct {
	reply func(string) (mount.Reply, error)

	mu   sync.Mutex
	sent []string
}

func (f *fakeChannel) Send(ctx context.Context, cmd mount.Command) (mount.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, cmd.Text)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(cmd.Text)
	}
	return "ok", nil
}

func (f *fakeChannel) Close() error { return nil }

func (f *fakeChannel) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newController(t *testing.T, reply func(string) (mount.Reply, error)) (*Controller, *fakeChannel) {
	t.Helper()
	ch := &fakeChannel{reply: reply}
	exec := queue.New(ch)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(exec.Stop)
	return New(exec, 0), ch
}

func waitInactive(t *testing.T, c *Controller, axis mount.Axis) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Active(axis) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("%s pulse never finished", axis)
}

func TestPulseRunsToCompletion(t *testing.T) {
	c, ch := newController(t, nil)
	if err := c.Pulse(mount.AxisRA, mount.GuidePlus, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !c.Active(mount.AxisRA) {
		t.Error("axis not active right after Pulse")
	}
	waitInactive(t, c, mount.AxisRA)
	sent := ch.commands()
	if len(sent) != 1 || sent[0] != "GUIDE ra +10" {
		t.Errorf("sent %q, want one GUIDE ra +10", sent)
	}
}

func TestAxesAreIndependent(t *testing.T) {
	c, _ := newController(t, nil)
	if err := c.Pulse(mount.AxisRA, mount.GuidePlus, 150*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := c.Pulse(mount.AxisDec, mount.GuideMinus, 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if !c.ActiveEither() {
		t.Error("no pulse active with two in flight")
	}
	waitInactive(t, c, mount.AxisDec)
	if !c.Active(mount.AxisRA) {
		t.Error("finishing a dec pulse cleared the ra pulse")
	}
	waitInactive(t, c, mount.AxisRA)
}

func TestReplacementDurationWins(t *testing.T) {
	c, ch := newController(t, nil)
	// A long pulse replaced by a short one: the axis goes inactive on
	// the short one's schedule, not the long one's.
	if err := c.Pulse(mount.AxisDec, mount.GuidePlus, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.Pulse(mount.AxisDec, mount.GuideMinus, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	waitInactive(t, c, mount.AxisDec)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("replacement pulse ran %v, expected tens of milliseconds", elapsed)
	}
	sent := ch.commands()
	if len(sent) != 2 || sent[0] != "GUIDE dec +5000" || sent[1] != "GUIDE dec -20" {
		t.Errorf("sent %q, want both guide commands in order", sent)
	}
}

func TestConcurrentPulsesSubmitInSwapOrder(t *testing.T) {
	c, ch := newController(t, nil)
	// Two racing pulses on one axis: whichever one wins the handle swap
	// must also be the last guide command the channel sees. Durations
	// are distinct so the commands are tellable apart.
	for trial := 0; trial < 50; trial++ {
		var start, done sync.WaitGroup
		start.Add(1)
		for _, d := range []time.Duration{111 * time.Millisecond, 222 * time.Millisecond} {
			done.Add(1)
			go func(d time.Duration) {
				defer done.Done()
				start.Wait()
				if err := c.Pulse(mount.AxisDec, mount.GuidePlus, d); err != nil {
					t.Errorf("Pulse(%v): %v", d, err)
				}
			}(d)
		}
		start.Done()
		done.Wait()

		want := 2 * (trial + 1)
		deadline := time.Now().Add(2 * time.Second)
		for len(ch.commands()) < want && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		sent := ch.commands()
		if len(sent) < want {
			t.Fatalf("trial %d: %d commands executed, want %d", trial, len(sent), want)
		}

		st := &c.axes[mount.AxisDec]
		st.mu.Lock()
		winner := st.duration
		st.mu.Unlock()
		wantCmd := fmt.Sprintf("GUIDE dec +%d", winner/time.Millisecond)
		if last := sent[want-1]; last != wantCmd {
			t.Fatalf("trial %d: last guide command %q, winner was %q", trial, last, wantCmd)
		}
	}
}

func TestCommandFaultClearsAxis(t *testing.T) {
	c, _ := newController(t, func(cmd string) (mount.Reply, error) {
		if strings.HasPrefix(cmd, "GUIDE") {
			return "e3", nil
		}
		return "ok", nil
	})
	if err := c.Pulse(mount.AxisRA, mount.GuidePlus, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	// The fault short-circuits the duration wait.
	waitInactive(t, c, mount.AxisRA)
}

func TestRejections(t *testing.T) {
	c, _ := newController(t, nil)
	for _, test := range []struct {
		name     string
		axis     mount.Axis
		duration time.Duration
	}{
		{"zero duration", mount.AxisRA, 0},
		{"negative duration", mount.AxisRA, -time.Second},
		{"over the cap", mount.AxisRA, time.Minute},
		{"bad axis", mount.Axis(7), 10 * time.Millisecond},
	} {
		err := c.Pulse(test.axis, mount.GuidePlus, test.duration)
		var rej *Rejected
		if !errors.As(err, &rej) {
			t.Errorf("%s: got %v, want rejection", test.name, err)
		}
	}
	if c.ActiveEither() {
		t.Error("rejected pulses left an axis active")
	}
}

func TestDisconnectedRejects(t *testing.T) {
	c := New(queue.New(&fakeChannel{}), 0)
	err := c.Pulse(mount.AxisRA, mount.GuidePlus, 10*time.Millisecond)
	var rej *Rejected
	if !errors.As(err, &rej) {
		t.Fatalf("pulse while disconnected: got %v, want rejection", err)
	}
}
