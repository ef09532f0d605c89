// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

func statusLine(fix gps.PositionFix, ok bool) string {
	if !ok {
		return "[GNSS] No GGA data yet..."
	}
	return fmt.Sprintf("GNSS $GPGGA - Lat: %.7f, Lon: %.7f, Sats: %d, Fix: %s",
		fix.Latitude, fix.Longitude, fix.Satellites, fix.Quality)
}

func logStatus(tr *gps.Tracker) {
	log.Print(statusLine(tr.Current()))
}
