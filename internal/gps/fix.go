// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// FixQuality is the GGA fix quality indicator (field 6).
type FixQuality int

const (
	FixNone FixQuality = iota
	FixGPS
	FixDGPS
	FixPPS
	FixRTK
	FixRTKFloat
	FixDeadReckoning
	FixManual
	FixSimulation

	FixUnknown FixQuality = -1
)

var fixQualityNames = map[FixQuality]string{
	FixNone:          "No Fix",
	FixGPS:           "GPS Fix",
	FixDGPS:          "DGPS Fix",
	FixPPS:           "PPS Fix",
	FixRTK:           "RTK Fix",
	FixRTKFloat:      "RTK Float",
	FixDeadReckoning: "Dead Reckoning",
	FixManual:        "Manual Input",
	FixSimulation:    "Simulation",
}

// String returns the human readable status used in logs.
func (q FixQuality) String() string {
	if name, ok := fixQualityNames[q]; ok {
		return name
	}
	return "Unknown"
}

// ParseFixQuality maps the raw single-character GGA code to a FixQuality.
func ParseFixQuality(code string) FixQuality {
	if len(code) != 1 || code[0] < '0' || code[0] > '8' {
		return FixUnknown
	}
	return FixQuality(code[0] - '0')
}

// PositionFix is the most recent position decomposed from a GGA sentence.
type PositionFix struct {
	Latitude   float64    `json:"lat"`      // signed decimal degrees
	Longitude  float64    `json:"lon"`      // signed decimal degrees
	Quality    FixQuality `json:"quality"`  // GGA field 6
	Status     string     `json:"status"`   // Quality.String(), for JSON consumers
	Satellites int        `json:"sats"`     // satellites in use
	UTCTime    string     `json:"utc_time"` // hhmmss.ss as sent by the receiver
	Raw        string     `json:"raw"`      // sentence the fix was taken from
}
