package link

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wa1ant/mount_interface/mount"
)

func TestBuild(t *testing.T) {
	for _, test := range []struct {
		cmd  mount.Command
		want string
	}{
		{QueryPosition(), "POS?"},
		{QueryScale(), "SCALE?"},
		{Move(mount.AxisRA, 12345), "MOVE ra 12345"},
		{Move(mount.AxisDec, -99), "MOVE dec -99"},
		{Stop(), "STOP"},
		{StopAxis(mount.AxisDec), "STOP dec"},
		{Track(true), "TRACK ON"},
		{Track(false), "TRACK OFF"},
		{Guide(mount.AxisRA, mount.GuidePlus, 500), "GUIDE ra +500"},
		{Guide(mount.AxisDec, mount.GuideMinus, 30), "GUIDE dec -30"},
		{Sync(100, -200), "SYNC 100,-200"},
	} {
		if test.cmd.Text != test.want {
			t.Errorf("got %q, want %q", test.cmd.Text, test.want)
		}
	}
}

func TestParsePosition(t *testing.T) {
	for _, test := range []struct {
		input   string
		ra, dec int32
		wantErr bool
	}{
		{"p100,-200", 100, -200, false},
		{"p0,0", 0, 0, false},
		{"s100,200", 0, 0, true},
		{"p100", 0, 0, true},
		{"p1,2,3", 0, 0, true},
		{"pten,2", 0, 0, true},
		{"", 0, 0, true},
	} {
		t.Run(test.input, func(t *testing.T) {
			ra, dec, err := ParsePosition(mount.Reply(test.input))
			if (err != nil) != test.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, test.wantErr)
			}
			if ra != test.ra || dec != test.dec {
				t.Errorf("got (%d, %d), want (%d, %d)", ra, dec, test.ra, test.dec)
			}
		})
	}
}

func TestParseScale(t *testing.T) {
	scale, err := ParseScale(mount.Reply("s4147200,2073600"))
	if err != nil {
		t.Fatal(err)
	}
	want := mount.ScaleFactors{RAStepsPerRev: 4147200, DecStepsPerRev: 2073600}
	if diff := cmp.Diff(scale, want); diff != "" {
		t.Errorf("unexpected scale: got(-)/want(+):\n%s", diff)
	}
	for _, bad := range []string{"s0,100", "s100,-1", "p1,2", "s1"} {
		if _, err := ParseScale(mount.Reply(bad)); err == nil {
			t.Errorf("ParseScale(%q) succeeded, want error", bad)
		}
	}
}

func TestCheckReply(t *testing.T) {
	if err := CheckReply("ok"); err != nil {
		t.Errorf("CheckReply(ok) = %v", err)
	}
	if err := CheckReply("e3"); err == nil {
		t.Error("CheckReply(e3) succeeded, want error")
	}
	if err := CheckReply("p1,2"); err == nil {
		t.Error("CheckReply(p1,2) succeeded, want error")
	}
}

func TestRawForDegrees(t *testing.T) {
	scale := mount.ScaleFactors{RAStepsPerRev: 360000, DecStepsPerRev: 360000}
	for _, test := range []struct {
		degrees float64
		want    int32
	}{
		{0, 0},
		{10, 10000},
		{-10, -10000},
		{350, -10000},
		{370, 10000},
		{-190, 170000},
	} {
		if got := RawForDegrees(scale, mount.AxisRA, test.degrees); got != test.want {
			t.Errorf("RawForDegrees(%v) = %d, want %d", test.degrees, got, test.want)
		}
	}
}
