// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"
	"time"
)

func nmeaLine(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}
	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestDriftMeter(t *testing.T) {
	var d driftMeter
	if _, _, first := d.observe(48.0, 11.0); !first {
		t.Fatalf("expected origin")
	}
	prev, origin, _ := d.observe(48.001, 11.0)
	// 0.001 deg of latitude is about 111.2 m
	if math.Abs(prev-111.19) > 0.5 || math.Abs(origin-prev) > 1e-9 {
		t.Fatalf("prev=%v origin=%v", prev, origin)
	}
	prev, origin, _ = d.observe(48.002, 11.0)
	if math.Abs(prev-111.19) > 0.5 || math.Abs(origin-222.39) > 1 {
		t.Fatalf("prev=%v origin=%v", prev, origin)
	}
}

func TestReportDrift(t *testing.T) {
	in := strings.Join([]string{
		nmeaLine("GNGGA,123519,4800.000,N,01100.000,E,4,12,0.5,545.4,M,46.9,M,,"),
		nmeaLine("GNRMC,123519,A,4800.000,N,01100.000,E,0.0,0.0,230394,,,R"),
		nmeaLine("GNGGA,123520,4800.060,N,01100.000,E,4,12,0.5,545.4,M,46.9,M,,"),
		"$GNGGA,bad*00",
		nmeaLine("GNGGA,123521,,,,,0,00,,,M,,M,,"),
		"Server shutting down",
	}, "\r\n") + "\r\n"

	var out bytes.Buffer
	if err := reportDrift(strings.NewReader(in), &out); err != nil {
		t.Fatalf("reportDrift: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"Origin set at lat: 48.0000000, lon: 11.0000000\n",
		"Moved 111.19 meters from previous point.\n",
		"Distance from origin: 111.19 meters.\n",
		"relay: Server shutting down\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if n := strings.Count(got, "Moved"); n != 1 {
		t.Fatalf("moved lines=%d want 1:\n%s", n, got)
	}
}

func TestRunAccuracy_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		time.Sleep(2 * time.Second)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var out bytes.Buffer
	go func() { done <- RunAccuracy(ctx, ln.Addr().String(), &out) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err=%v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("RunAccuracy did not stop")
	}
}
