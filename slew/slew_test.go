package slew

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wa1ant/mount_interface/link"
	"github.com/wa1ant/mount_interface/mount"
	"github.com/wa1ant/mount_interface/queue"
	"github.com/wa1ant/mount_interface/tracker"
)

var scale = mount.ScaleFactors{RAStepsPerRev: 360000, DecStepsPerRev: 720000}

// fakeChannel records commands and answers via reply, default "ok".
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

type fixture struct {
	o   *Orchestrator
	ch  *fakeChannel
	trk *tracker.Tracker
}

func newFixture(t *testing.T, reply func(string) (mount.Reply, error)) *fixture {
	t.Helper()
	ch := &fakeChannel{reply: reply}
	exec := queue.New(ch)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(exec.Stop)
	trk := tracker.New(scale)
	cfg := Config{
		ToleranceDeg: 0.1,
		PollInterval: 2 * time.Millisecond,
		ParkRA:       100, ParkDec: -30,
		HomeRA: 0, HomeDec: 45,
		MinDec: -90, MaxDec: 90,
	}
	return &fixture{o: New(cfg, exec, trk, nil), ch: ch, trk: trk}
}

// arrive feeds the tracker one sample at the given axis angles, stamped
// now so the movement loop sees it as fresh.
func (f *fixture) arrive(ra, dec float64) {
	f.trk.Update(
		link.RawForDegrees(scale, mount.AxisRA, ra),
		link.RawForDegrees(scale, mount.AxisDec, dec),
		time.Now())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGoToCompletes(t *testing.T) {
	f := newFixture(t, nil)
	err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 20, TrackAfter: true})
	if err != nil {
		t.Fatal(err)
	}
	if !f.o.Slewing() {
		t.Error("not slewing after accepted goto")
	}
	f.arrive(10, 20)
	waitFor(t, "goto to complete", func() bool { return f.o.State() == Idle })

	sent := f.ch.commands()
	wantRA := link.Move(mount.AxisRA, link.RawForDegrees(scale, mount.AxisRA, 10)).Text
	wantDec := link.Move(mount.AxisDec, link.RawForDegrees(scale, mount.AxisDec, 20)).Text
	if !contains(sent, wantRA) || !contains(sent, wantDec) {
		t.Errorf("move commands missing from %q", sent)
	}
	if !contains(sent, "TRACK ON") {
		t.Errorf("tracking not enabled after goto: %q", sent)
	}
	if f.o.LastFault() != nil {
		t.Errorf("unexpected fault: %v", f.o.LastFault())
	}
}

func TestAbort(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 20}); err != nil {
		t.Fatal(err)
	}
	f.o.Abort()
	waitFor(t, "abort to land", func() bool { return f.o.State() == Aborted })
	if f.o.Slewing() {
		t.Error("still slewing after abort")
	}
	waitFor(t, "stop command", func() bool { return contains(f.ch.commands(), "STOP") })
	// A second abort with nothing in flight is a no-op.
	f.o.Abort()
}

func TestSupersede(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 20}); err != nil {
		t.Fatal(err)
	}
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 30, Dec: 40}); err != nil {
		t.Fatal(err)
	}
	f.arrive(30, 40)
	waitFor(t, "second goto to complete", func() bool { return f.o.State() == Idle })

	sent := f.ch.commands()
	if !contains(sent, "STOP") {
		t.Errorf("superseded operation never stopped: %q", sent)
	}
	want := link.Move(mount.AxisRA, link.RawForDegrees(scale, mount.AxisRA, 30)).Text
	if !contains(sent, want) {
		t.Errorf("second move missing from %q", sent)
	}
	if f.o.LastFault() != nil {
		t.Errorf("supersede recorded a fault: %v", f.o.LastFault())
	}
}

func TestParkSetsAtPark(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.o.BeginMove(context.Background(), Request{Kind: Park}); err != nil {
		t.Fatal(err)
	}
	f.arrive(100, -30)
	waitFor(t, "park to complete", func() bool { return f.o.State() == Idle })
	if !f.o.AtPark() {
		t.Error("AtPark false after park completed")
	}
	if !contains(f.ch.commands(), "TRACK OFF") {
		t.Errorf("tracking not disabled by park: %q", f.ch.commands())
	}

	err := f.o.BeginMove(context.Background(), Request{Kind: Park})
	var rej *Rejected
	if !errors.As(err, &rej) {
		t.Errorf("second park: got %v, want rejection", err)
	}
}

func TestFindHomeSetsAtHome(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.o.BeginMove(context.Background(), Request{Kind: FindHome}); err != nil {
		t.Fatal(err)
	}
	f.arrive(0, 45)
	waitFor(t, "home to complete", func() bool { return f.o.State() == Idle })
	if !f.o.AtHome() {
		t.Error("AtHome false after find-home completed")
	}
}

func TestCommandFaultFailsMove(t *testing.T) {
	f := newFixture(t, func(cmd string) (mount.Reply, error) {
		if strings.HasPrefix(cmd, "MOVE") {
			return "e5", nil
		}
		return "ok", nil
	})
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 20}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "move to fail", func() bool { return f.o.State() == Failed })
	if f.o.LastFault() == nil {
		t.Error("no fault recorded for failed move")
	}
	if f.o.Slewing() {
		t.Error("still slewing after failure")
	}
}

func TestFaultRecordedBeforeFailed(t *testing.T) {
	// Fail the first operation's moves only; later moves succeed.
	var mu sync.Mutex
	failed := 0
	f := newFixture(t, func(cmd string) (mount.Reply, error) {
		mu.Lock()
		defer mu.Unlock()
		if strings.HasPrefix(cmd, "MOVE") && failed < 2 {
			failed++
			return "e5", nil
		}
		return "ok", nil
	})
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 20}); err != nil {
		t.Fatal(err)
	}
	// The instant Failed is observable, the fault must already be
	// recorded; a supersede landing here must not pick up a stale one.
	waitFor(t, "move to fail", func() bool { return f.o.State() == Failed })
	if f.o.LastFault() == nil {
		t.Fatal("state Failed with no fault recorded")
	}

	// A fresh goto accepted over the failed one starts with no fault.
	if err := f.o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 30, Dec: 40}); err != nil {
		t.Fatal(err)
	}
	if f.o.LastFault() != nil {
		t.Errorf("new operation started with stale fault: %v", f.o.LastFault())
	}
	f.arrive(30, 40)
	waitFor(t, "second goto to complete", func() bool { return f.o.State() == Idle })
	if f.o.LastFault() != nil {
		t.Errorf("clean goto finished with fault: %v", f.o.LastFault())
	}
}

func TestSync(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.o.BeginMove(context.Background(), Request{Kind: Sync, RA: 50, Dec: 10}); err != nil {
		t.Fatal(err)
	}
	if f.o.State() != Idle {
		t.Errorf("sync left state %v, want idle", f.o.State())
	}
	want := link.Sync(
		link.RawForDegrees(scale, mount.AxisRA, 50),
		link.RawForDegrees(scale, mount.AxisDec, 10)).Text
	if !contains(f.ch.commands(), want) {
		t.Errorf("sync command missing from %q", f.ch.commands())
	}
}

func TestRejections(t *testing.T) {
	f := newFixture(t, nil)
	for _, test := range []struct {
		name string
		req  Request
	}{
		{"ra out of range", Request{Kind: GoToCoordinates, RA: 400, Dec: 0}},
		{"ra negative", Request{Kind: GoToCoordinates, RA: -1, Dec: 0}},
		{"dec out of range", Request{Kind: GoToCoordinates, RA: 0, Dec: 95}},
		{"altitude out of range", Request{Kind: GoToAltAz, Alt: -5, Az: 100}},
		{"sync dec out of range", Request{Kind: Sync, RA: 0, Dec: -95}},
	} {
		err := f.o.BeginMove(context.Background(), test.req)
		var rej *Rejected
		if !errors.As(err, &rej) {
			t.Errorf("%s: got %v, want rejection", test.name, err)
		}
	}
	if f.o.Slewing() {
		t.Error("rejected requests left an operation in flight")
	}
}

func TestGateRejects(t *testing.T) {
	ch := &fakeChannel{}
	exec := queue.New(ch)
	if err := exec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(exec.Stop)
	gateErr := errors.New("drives off")
	o := New(Config{}, exec, tracker.New(scale), func() error { return gateErr })
	err := o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 10})
	var rej *Rejected
	if !errors.As(err, &rej) {
		t.Fatalf("gated move: got %v, want rejection", err)
	}
}

func TestNotConnectedRejects(t *testing.T) {
	// An executor that was never started reports disconnected.
	o := New(Config{}, queue.New(&fakeChannel{}), tracker.New(scale), nil)
	err := o.BeginMove(context.Background(), Request{Kind: GoToCoordinates, RA: 10, Dec: 10})
	var rej *Rejected
	if !errors.As(err, &rej) {
		t.Fatalf("disconnected move: got %v, want rejection", err)
	}
}

func contains(cmds []string, want string) bool {
	for _, c := range cmds {
		if c == want {
			return true
		}
	}
	return false
}
