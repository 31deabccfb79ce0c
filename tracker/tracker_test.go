package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wa1ant/mount_interface/mount"
)

var scale = mount.ScaleFactors{RAStepsPerRev: 360000, DecStepsPerRev: 720000}

func TestUpdateAndSnapshot(t *testing.T) {
	trk := New(scale)
	if trk.Snapshot().Valid() {
		t.Error("fresh tracker reports a valid snapshot")
	}
	sampled := time.Now()
	trk.Update(10000, -40000, sampled)
	got := trk.Snapshot()
	want := Snapshot{RA: 10, Dec: -20, RawRA: 10000, RawDec: -40000, Sampled: sampled}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected snapshot: got(-)/want(+):\n%s", diff)
	}
	if !got.Valid() {
		t.Error("snapshot not valid after update")
	}
}

func TestNegativeRawRAWraps(t *testing.T) {
	trk := New(scale)
	trk.Update(-10000, 0, time.Now())
	if got := trk.Snapshot().RA; got != 350 {
		t.Errorf("RA = %v, want 350", got)
	}
}

func TestAxis(t *testing.T) {
	s := Snapshot{RA: 1, Dec: 2}
	if s.Axis(mount.AxisRA) != 1 || s.Axis(mount.AxisDec) != 2 {
		t.Errorf("Axis lookup wrong: %+v", s)
	}
}

func TestConcurrentReaders(t *testing.T) {
	trk := New(scale)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int32(0); ; i++ {
			select {
			case <-done:
				return
			default:
			}
			trk.Update(i, -i, time.Now())
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				snap := trk.Snapshot()
				// Writer keeps RawDec = -RawRA; a torn snapshot breaks it.
				if snap.RawDec != -snap.RawRA {
					t.Errorf("torn snapshot: %+v", snap)
					return
				}
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(done)
	wg.Wait()
}

func TestSeparationDeg(t *testing.T) {
	for _, test := range []struct {
		a, b, want float64
	}{
		{0, 0, 0},
		{10, 20, 10},
		{20, 10, 10},
		{359, 1, 2},
		{1, 359, 2},
		{0, 180, 180},
		{-170, 170, 20},
	} {
		if got := SeparationDeg(test.a, test.b); got != test.want {
			t.Errorf("SeparationDeg(%v, %v) = %v, want %v", test.a, test.b, got, test.want)
		}
	}
}
