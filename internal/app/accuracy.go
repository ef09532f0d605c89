// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	geo "github.com/kellydunn/golang-geo"
)

// driftMeter tracks how far consecutive GGA positions move from the
// previous point and from the first one seen.
type driftMeter struct {
	origin *geo.Point
	prev   *geo.Point
}

// observe returns distances in meters; first is true for the origin.
func (d *driftMeter) observe(lat, lon float64) (fromPrev, fromOrigin float64, first bool) {
	p := geo.NewPoint(lat, lon)
	if d.origin == nil {
		d.origin, d.prev = p, p
		return 0, 0, true
	}
	fromPrev = d.prev.GreatCircleDistance(p) * 1000
	fromOrigin = d.origin.GreatCircleDistance(p) * 1000
	d.prev = p
	return fromPrev, fromOrigin, false
}

// RunAccuracy connects to a relay as a subscriber and reports position
// drift for every GGA sentence until ctx is cancelled or the relay
// disconnects.
func RunAccuracy(ctx context.Context, addr string, out io.Writer) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	fmt.Fprintf(out, "connected to %s\n", addr)
	return reportDrift(conn, out)
}

func reportDrift(r io.Reader, out io.Writer) error {
	var meter driftMeter
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			if line != "" {
				fmt.Fprintf(out, "relay: %s\n", line)
			}
			continue
		}
		s, err := nmea.Parse(line)
		if err != nil || s.DataType() != nmea.TypeGGA {
			continue
		}
		gga := s.(nmea.GGA)
		if gga.FixQuality == nmea.Invalid {
			continue
		}
		fromPrev, fromOrigin, first := meter.observe(gga.Latitude, gga.Longitude)
		if first {
			fmt.Fprintf(out, "Origin set at lat: %.7f, lon: %.7f\n", gga.Latitude, gga.Longitude)
			continue
		}
		fmt.Fprintf(out, "Moved %.2f meters from previous point.\n", fromPrev)
		fmt.Fprintf(out, "Distance from origin: %.2f meters.\n", fromOrigin)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
