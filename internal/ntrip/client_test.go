// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package ntrip

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

const testGGA = "$GNGGA,123519,4807.038,N,01131.000,E,4,08,0.9,545.4,M,46.9,M,,*XX"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	err error
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return 0, b.err
	}
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

type fakeMetrics struct {
	bytes, uploads, writeFails atomic.Int64
}

func (m *fakeMetrics) CorrectionBytes(n int)  { m.bytes.Add(int64(n)) }
func (m *fakeMetrics) CorrectionState(string) {}
func (m *fakeMetrics) GGAUploaded()           { m.uploads.Add(1) }
func (m *fakeMetrics) SerialWriteFailed()     { m.writeFails.Add(1) }

// caster accepts connections and hands each, with its parsed request, to fn.
func caster(t *testing.T, fn func(conn net.Conn, br *bufio.Reader, req *http.Request)) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				br := bufio.NewReader(conn)
				req, err := http.ReadRequest(br)
				if err != nil {
					return
				}
				fn(conn, br, req)
			}()
		}
	}()
	h, p, _ := net.SplitHostPort(ln.Addr().String())
	n, _ := strconv.Atoi(p)
	return h, n
}

func testConfig(host string, port int) Config {
	return Config{
		Host:        host,
		Port:        port,
		Mountpoint:  "RTCM3",
		Username:    "user",
		Password:    "secret",
		UserAgent:   "test-agent",
		GGAInterval: 30 * time.Millisecond,
		Timeout:     2 * time.Second,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_RequestHeaders(t *testing.T) {
	got := make(chan *http.Request, 1)
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		got <- req
		_, _ = conn.Write([]byte("HTTP/1.1 401 Unauthorized\r\nContent-Length: 0\r\n\r\n"))
	})
	c := New(testConfig(host, port), &syncBuffer{}, nil, nil)
	err := c.Run(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v want %v", err, ErrUnauthorized)
	}
	req := <-got
	if req.URL.Path != "/RTCM3" {
		t.Fatalf("path=%q", req.URL.Path)
	}
	if v := req.Header.Get("Ntrip-Version"); v != "Ntrip/2.0" {
		t.Fatalf("Ntrip-Version=%q", v)
	}
	if v := req.UserAgent(); v != "test-agent" {
		t.Fatalf("User-Agent=%q", v)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "user" || pass != "secret" {
		t.Fatalf("basic auth=%q/%q ok=%v", user, pass, ok)
	}
	if !req.Close {
		t.Fatalf("expected Connection: close")
	}
	if c.State() != StateClosed {
		t.Fatalf("state=%v want closed", c.State())
	}
}

func TestClient_StreamsCorrectionsAndUploadsGGA(t *testing.T) {
	rtcm := []byte{0xd3, 0x00, 0x13, 0x3e, 0xd7, 0xd3, 0x02, 0x02, 0x98, 0x0e}
	upstream := make(chan string, 4)
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Type: gnss/data\r\nConnection: close\r\n\r\n"))
		_, _ = conn.Write(rtcm)
		for i := 0; i < 2; i++ {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			upstream <- line
		}
	})

	var tr gps.Tracker
	tr.Update(gps.PositionFix{Raw: testGGA})
	sink := &syncBuffer{}
	m := &fakeMetrics{}
	c := New(testConfig(host, port), sink, &tr, m)

	err := c.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error when caster hangs up")
	}
	if !bytes.Equal(sink.Bytes(), rtcm) {
		t.Fatalf("sink=%x want %x", sink.Bytes(), rtcm)
	}
	for i := 0; i < 2; i++ {
		select {
		case line := <-upstream:
			if line != testGGA+"\r\n" {
				t.Fatalf("upstream=%q", line)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no GGA upload %d", i)
		}
	}
	if m.bytes.Load() != int64(len(rtcm)) {
		t.Fatalf("bytes metric=%d", m.bytes.Load())
	}
	waitFor(t, "upload metric", func() bool { return m.uploads.Load() >= 2 })
}

func TestClient_NoFixNoUpload(t *testing.T) {
	received := make(chan int, 1)
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		buf := make([]byte, 64)
		n, _ := br.Read(buf)
		received <- n
	})
	c := New(testConfig(host, port), &syncBuffer{}, &gps.Tracker{}, nil)
	_ = c.Run(context.Background())
	if n := <-received; n != 0 {
		t.Fatalf("caster received %d bytes without a fix", n)
	}
}

func TestClient_SourceTable(t *testing.T) {
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		_, _ = conn.Write([]byte("SOURCETABLE 200 OK\r\nSTR;RTCM3;\r\nENDSOURCETABLE\r\n"))
	})
	sink := &syncBuffer{}
	err := New(testConfig(host, port), sink, nil, nil).Run(context.Background())
	if !errors.Is(err, ErrSourceTable) {
		t.Fatalf("err=%v want %v", err, ErrSourceTable)
	}
	if len(sink.Bytes()) != 0 {
		t.Fatalf("forwarded %d bytes from a failed session", len(sink.Bytes()))
	}
}

func TestClient_SerialWriteFailureIsCounted(t *testing.T) {
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
		_, _ = conn.Write([]byte{0xd3, 0x00})
	})
	m := &fakeMetrics{}
	sink := &syncBuffer{err: errors.New("serial port closed")}
	_ = New(testConfig(host, port), sink, nil, m).Run(context.Background())
	if m.writeFails.Load() == 0 {
		t.Fatalf("expected write failure to be counted")
	}
}

func TestClient_ReconnectsWhenConfigured(t *testing.T) {
	var conns atomic.Int32
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		conns.Add(1)
		_, _ = conn.Write([]byte("HTTP/1.1 503 Service Unavailable\r\nContent-Length: 0\r\n\r\n"))
	})
	cfg := testConfig(host, port)
	cfg.ReconnectDelay = 10 * time.Millisecond
	c := New(cfg, &syncBuffer{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, "second connection", func() bool { return conns.Load() >= 2 })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err=%v want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if c.State() != StateClosed {
		t.Fatalf("state=%v want closed", c.State())
	}
}

func TestClient_CancelStopsStreaming(t *testing.T) {
	host, port := caster(t, func(conn net.Conn, br *bufio.Reader, req *http.Request) {
		_, _ = conn.Write([]byte("ICY 200 OK\r\n"))
		time.Sleep(2 * time.Second)
	})
	c := New(testConfig(host, port), &syncBuffer{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, "streaming", func() bool { return c.State() == StateStreaming })
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("err=%v want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
}
