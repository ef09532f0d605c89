// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"strconv"
	"strings"
)

// SentenceType is the three letter NMEA type following the talker id,
// e.g. "GGA" for both $GPGGA and $GNGGA.
type SentenceType string

const (
	TypeNone    SentenceType = ""
	TypeUnknown SentenceType = "?"

	TypeGGA SentenceType = "GGA"
	TypeRMC SentenceType = "RMC"
	TypeVTG SentenceType = "VTG"
)

// ggaMinFields is the number of comma separated fields in a complete GGA.
const ggaMinFields = 15

// Classify returns the sentence type of a trimmed line and, for GGA
// sentences that decompose cleanly, the position they carry.
// Checksums are not verified.
func Classify(line string) (SentenceType, *PositionFix) {
	if line == "" || line[0] != '$' {
		return TypeNone, nil
	}
	if len(line) < 6 {
		return TypeUnknown, nil
	}
	typ := SentenceType(line[3:6])
	if typ != TypeGGA {
		return typ, nil
	}
	fix, err := parseGGA(line)
	if err != nil {
		return typ, nil
	}
	return typ, fix
}

// parseGGA decomposes a GGA sentence. Field layout:
//
//	0: talker+type   1: utc time     2: latitude   3: N/S
//	4: longitude     5: E/W          6: quality    7: satellites
//	8: hdop          9: altitude    10: M         11: geoid sep
//	12: M           13: dgps age    14: dgps station*checksum
func parseGGA(line string) (*PositionFix, error) {
	parts := strings.Split(line, ",")
	if len(parts) < ggaMinFields {
		return nil, fmt.Errorf("gga: %d fields, want %d", len(parts), ggaMinFields)
	}
	lat, err := parseCoordinate(parts[2], parts[3])
	if err != nil {
		return nil, fmt.Errorf("gga latitude: %w", err)
	}
	lon, err := parseCoordinate(parts[4], parts[5])
	if err != nil {
		return nil, fmt.Errorf("gga longitude: %w", err)
	}
	sats := 0
	if parts[7] != "" {
		sats, err = strconv.Atoi(parts[7])
		if err != nil {
			return nil, fmt.Errorf("gga satellites %q: %w", parts[7], err)
		}
	}
	q := ParseFixQuality(parts[6])
	return &PositionFix{
		Latitude:   lat,
		Longitude:  lon,
		Quality:    q,
		Status:     q.String(),
		Satellites: sats,
		UTCTime:    parts[1],
		Raw:        line,
	}, nil
}

// parseCoordinate converts ddmm.mmmm (N/S) or dddmm.mmmm (E/W) to signed
// decimal degrees.
func parseCoordinate(value, hemi string) (float64, error) {
	if len(value) < 4 {
		return 0, fmt.Errorf("coordinate %q too short", value)
	}
	var degDigits int
	switch hemi {
	case "N", "S":
		degDigits = 2
	case "E", "W":
		degDigits = 3
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemi)
	}
	deg, err := strconv.Atoi(value[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("coordinate degrees %q: %w", value, err)
	}
	minutes, err := strconv.ParseFloat(value[degDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("coordinate minutes %q: %w", value, err)
	}
	v := float64(deg) + minutes/60
	if hemi == "S" || hemi == "W" {
		v = -v
	}
	return v, nil
}
