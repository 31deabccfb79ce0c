// Package astro has the small amount of spherical astronomy the mount
// server needs: horizontal/equatorial conversion and sidereal time.
package astro

import (
	"math"
	"time"
)

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude.
// Arguments are in radians.
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(sq)

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	p := math.Acos(cp)
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

// EquHorDeg converts (az, alt) to (hour angle, declination) or back.
// The transform is its own inverse. All arguments and results are in
// degrees; phi is the observer's latitude.
func EquHorDeg(x, y, phi float64) (float64, float64) {
	x, y, phi = deg2rad(x), deg2rad(y), deg2rad(phi)
	p, q := equhor_rad(x, y, phi)
	return rad2deg(p), rad2deg(q)
}

// GMSTDeg returns the Greenwich mean sidereal time at t, in degrees.
// IAU 1982 expression, good to well under an arcsecond over decades,
// far below the mount's pointing accuracy.
func GMSTDeg(t time.Time) float64 {
	const j2000 = 2451545.0
	jd := julianDate(t.UTC())
	d := jd - j2000
	tc := d / 36525
	gmst := 280.46061837 + 360.98564736629*d + 0.000387933*tc*tc - tc*tc*tc/38710000
	gmst = math.Mod(gmst, 360)
	if gmst < 0 {
		gmst += 360
	}
	return gmst
}

// LSTDeg returns the local mean sidereal time at t for the given
// longitude (east positive), in degrees.
func LSTDeg(t time.Time, longitude float64) float64 {
	lst := math.Mod(GMSTDeg(t)+longitude, 360)
	if lst < 0 {
		lst += 360
	}
	return lst
}

// AltAzToRADec converts a horizontal goal to equatorial coordinates at
// time t for an observer at (latitude, longitude).
func AltAzToRADec(alt, az float64, t time.Time, latitude, longitude float64) (ra, dec float64) {
	ha, dec := EquHorDeg(az, alt, latitude)
	ra = math.Mod(LSTDeg(t, longitude)-ha+720, 360)
	return ra, dec
}

// RADecToAltAz converts equatorial coordinates to horizontal at time t
// for an observer at (latitude, longitude).
func RADecToAltAz(ra, dec float64, t time.Time, latitude, longitude float64) (alt, az float64) {
	ha := math.Mod(LSTDeg(t, longitude)-ra+720, 360)
	az, alt = EquHorDeg(ha, dec, latitude)
	return alt, az
}

func julianDate(t time.Time) float64 {
	// Unix epoch is JD 2440587.5.
	return 2440587.5 + float64(t.UnixNano())/float64(24*time.Hour)
}
