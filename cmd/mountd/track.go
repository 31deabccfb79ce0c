package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pebbe/novas"
)

// trackInterval is how often the target's topocentric position is
// recomputed and a fresh slew issued.
const trackInterval = 10 * time.Second

func bodyByName(name string) (*novas.Body, error) {
	switch name {
	case "sun":
		return novas.Sun(), nil
	case "moon":
		return novas.Moon(), nil
	case "mercury":
		return novas.Mercury(), nil
	case "venus":
		return novas.Venus(), nil
	case "mars":
		return novas.Mars(), nil
	case "jupiter":
		return novas.Jupiter(), nil
	case "saturn":
		return novas.Saturn(), nil
	case "uranus":
		return novas.Uranus(), nil
	case "neptune":
		return novas.Neptune(), nil
	}
	return nil, fmt.Errorf("unknown body %q", name)
}

// TrackBody follows a solar-system body: every trackInterval it
// computes the body's topocentric position and supersedes the current
// slew with a goto to it.
func (s *Server) TrackBody(ctx context.Context, name string) error {
	body, err := bodyByName(name)
	if err != nil {
		return err
	}
	place := novas.NewPlace(s.cfg.Site.LatitudeDeg, s.cfg.Site.LongitudeDeg, 0, 15, 1010)
	t := time.NewTicker(trackInterval)
	defer t.Stop()
	for {
		data := body.Topo(novas.Now(), place, novas.REFR_NONE)
		// NOVAS reports right ascension in hours.
		if err := s.mount.SlewToCoordinates(ctx, data.Ra*15, data.Dec, true); err != nil {
			log.Printf("tracking %s: %v", name, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
