// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyAMA0" || cfg.BaudRate != 115200 {
		t.Fatalf("serial=%s@%d", cfg.SerialPort, cfg.BaudRate)
	}
	if cfg.ListenAddr() != "0.0.0.0:10110" {
		t.Fatalf("listen=%s", cfg.ListenAddr())
	}
	if cfg.TCPMaxClients != 5 || cfg.ShutdownTimeout != 4*time.Second {
		t.Fatalf("max=%d shutdown=%v", cfg.TCPMaxClients, cfg.ShutdownTimeout)
	}
	if cfg.NTRIPEnabled() {
		t.Fatalf("ntrip should be disabled without host")
	}
	f := cfg.Filter()
	if len(f.AllowedTypes) != 3 || f.RTKFixedOnly {
		t.Fatalf("filter=%+v", f)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	path := writeFile(t, ".env", `
# relay
export UART_PORT=/dev/ttyUSB0
BAUD_RATE=9600
TCP_PORT = 10112
TCP_ALLOW="GGA,RMC"
TCP_ONLY_RTK_FIXED=true
NTRIP_HOST=caster.example.org
NTRIP_MOUNTPOINT=/VRS_RTCM3
NTRIP_USERNAME=user
NTRIP_PASSWORD='p=ss'
NTRIP_RECONNECT_SECONDS=10
S3_BUCKET=logs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyUSB0" || cfg.BaudRate != 9600 || cfg.TCPPort != 10112 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if !cfg.TCPOnlyRTK {
		t.Fatalf("expected RTK only")
	}
	if _, ok := cfg.Filter().AllowedTypes[gps.TypeRMC]; !ok {
		t.Fatalf("allow list=%v", cfg.Filter().AllowedTypes)
	}
	if cfg.NTRIPMountpoint != "VRS_RTCM3" || cfg.NTRIPPassword != "p=ss" {
		t.Fatalf("mount=%q pass=%q", cfg.NTRIPMountpoint, cfg.NTRIPPassword)
	}
	if cfg.NTRIPReconnectDelay != 10*time.Second || cfg.NTRIPGGAInterval != 60*time.Second {
		t.Fatalf("reconnect=%v gga=%v", cfg.NTRIPReconnectDelay, cfg.NTRIPGGAInterval)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
SERIAL_PORT: /dev/ttyS1
TCP_MAX_CLIENTS: 8
TCP_ONLY_RTK_FIXED: true
TCP_ALLOW_PATTERNS: "G?A,*SV"
WRITE_TIMEOUT_MS: 500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SerialPort != "/dev/ttyS1" || cfg.TCPMaxClients != 8 || !cfg.TCPOnlyRTK {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.WriteTimeout != 500*time.Millisecond {
		t.Fatalf("write timeout=%v", cfg.WriteTimeout)
	}
	if got := cfg.Filter().AllowedPatterns; len(got) != 2 {
		t.Fatalf("patterns=%v", got)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "relay.env", "TCP_PORT=10112\nBAUD_RATE=9600\n")
	t.Setenv("TCP_PORT", "2000")
	t.Setenv("SERIAL_PORT", "/dev/serial0")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TCPPort != 2000 || cfg.BaudRate != 9600 || cfg.SerialPort != "/dev/serial0" {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name, body, want string
	}{
		{"bad int", "BAUD_RATE=fast\n", "invalid BAUD_RATE"},
		{"bad bool", "TCP_ONLY_RTK_FIXED=maybe\n", "invalid TCP_ONLY_RTK_FIXED"},
		{"bad line", "NOT A PAIR\n", "invalid config line 1"},
		{"zero clients", "TCP_MAX_CLIENTS=0\n", "TCP_MAX_CLIENTS"},
		{"ntrip without mountpoint", "NTRIP_HOST=caster\nNTRIP_USERNAME=u\nNTRIP_PASSWORD=p\n", "NTRIP_MOUNTPOINT is required"},
		{"ntrip without password", "NTRIP_HOST=caster\nNTRIP_MOUNTPOINT=M\nNTRIP_USERNAME=u\n", "NTRIP_PASSWORD is required"},
		{"bad pattern", "TCP_ALLOW_PATTERNS=[GGA\n", "TCP_ALLOW_PATTERNS"},
		{"negative duration", "SHUTDOWN_TIMEOUT_SECONDS=-1\n", "must not be negative"},
	}
	for _, c := range cases {
		path := writeFile(t, "relay.env", c.body)
		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: err=%v want %q", c.name, err, c.want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatalf("expected error")
	}
}
