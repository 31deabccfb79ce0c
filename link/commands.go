package link

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wa1ant/mount_interface/mount"
)

// Command vocabulary. Commands are single lines; replies are single
// lines. Data replies carry a lowercase type prefix, ok/error replies
// are "ok" and "e<code>".

// QueryPosition asks for the current raw axis counts. Reply: p<ra>,<dec>.
func QueryPosition() mount.Command {
	return mount.Command{Text: "POS?"}
}

// QueryScale asks for the steps-per-revolution of both axes. Reply: s<ra>,<dec>.
func QueryScale() mount.Command {
	return mount.Command{Text: "SCALE?"}
}

// Move commands the axis servo toward the given raw count.
func Move(axis mount.Axis, raw int32) mount.Command {
	return mount.Command{Text: fmt.Sprintf("MOVE %s %d", axis, raw)}
}

// Stop halts both axis servos.
func Stop() mount.Command {
	return mount.Command{Text: "STOP"}
}

// StopAxis halts one axis servo.
func StopAxis(axis mount.Axis) mount.Command {
	return mount.Command{Text: fmt.Sprintf("STOP %s", axis)}
}

// Track enables or disables sidereal tracking.
func Track(on bool) mount.Command {
	if on {
		return mount.Command{Text: "TRACK ON"}
	}
	return mount.Command{Text: "TRACK OFF"}
}

// Guide nudges the axis at the guide rate for the given duration.
func Guide(axis mount.Axis, dir mount.GuideDirection, ms int) mount.Command {
	sign := "+"
	if dir == mount.GuideMinus {
		sign = "-"
	}
	return mount.Command{Text: fmt.Sprintf("GUIDE %s %s%d", axis, sign, ms)}
}

// Sync overwrites the mount's position registers with the given raw counts.
func Sync(ra, dec int32) mount.Command {
	return mount.Command{Text: fmt.Sprintf("SYNC %d,%d", ra, dec)}
}

// ParsePosition parses a p<ra>,<dec> reply into raw axis counts.
func ParsePosition(reply mount.Reply) (ra, dec int32, err error) {
	return parsePair(reply, 'p')
}

// ParseScale parses an s<ra>,<dec> reply into scale factors.
func ParseScale(reply mount.Reply) (mount.ScaleFactors, error) {
	ra, dec, err := parsePair(reply, 's')
	if err != nil {
		return mount.ScaleFactors{}, err
	}
	if ra <= 0 || dec <= 0 {
		return mount.ScaleFactors{}, fmt.Errorf("non-positive scale factors in %q", reply)
	}
	return mount.ScaleFactors{
		RAStepsPerRev:  float64(ra),
		DecStepsPerRev: float64(dec),
	}, nil
}

// CheckReply verifies an ok/e<code> reply.
func CheckReply(reply mount.Reply) error {
	s := string(reply)
	if s == "ok" {
		return nil
	}
	if strings.HasPrefix(s, "e") {
		return fmt.Errorf("mount error %s", s[1:])
	}
	return fmt.Errorf("unexpected reply %q", s)
}

func parsePair(reply mount.Reply, prefix byte) (int32, int32, error) {
	s := string(reply)
	if len(s) < 2 || s[0] != prefix {
		return 0, 0, fmt.Errorf("unexpected reply %q", s)
	}
	parts := strings.Split(s[1:], ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("truncated reply %q", s)
	}
	a, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return 0, 0, err
	}
	return int32(a), int32(b), nil
}

// RawForDegrees converts an axis angle in degrees to the nearest raw
// count. Angles are normalized to [-180, 180) so declination raws stay
// signed, matching the mount's position registers.
func RawForDegrees(scale mount.ScaleFactors, axis mount.Axis, degrees float64) int32 {
	steps := scale.StepsFor(axis)
	for degrees >= 180 {
		degrees -= 360
	}
	for degrees < -180 {
		degrees += 360
	}
	return int32(degrees / 360 * steps)
}
