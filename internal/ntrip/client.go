// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ntrip is a single-mountpoint NTRIP client. RTCM received from the
// caster is written to the receiver, and the latest GGA is sent back
// upstream so network RTK casters can pick a reference near the rover.
package ntrip

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

var (
	ErrUnauthorized = errors.New("caster rejected credentials")
	ErrSourceTable  = errors.New("caster returned source table (unknown mountpoint)")
	ErrBadStatus    = errors.New("caster returned non-success status")
)

// State of the correction session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateRetrying     State = "retrying"
	StateClosed       State = "closed"
)

const readChunk = 1024

type Config struct {
	Host       string
	Port       int
	Mountpoint string
	Username   string
	Password   string
	UseTLS     bool
	UserAgent  string

	// GGAInterval between position uploads. Default 60s.
	GGAInterval time.Duration
	// Timeout applies to connecting and to each read. Default 30s.
	Timeout time.Duration
	// ReconnectDelay > 0 reconnects after a failed or dropped session.
	// Zero stops after the first failure.
	ReconnectDelay time.Duration
}

// PositionSource returns the most recent fix, if any.
type PositionSource interface {
	Current() (gps.PositionFix, bool)
}

// Metrics receives session events. *metrics.Metrics satisfies it.
type Metrics interface {
	CorrectionBytes(n int)
	CorrectionState(state string)
	GGAUploaded()
	SerialWriteFailed()
}

type nopMetrics struct{}

func (nopMetrics) CorrectionBytes(int)    {}
func (nopMetrics) CorrectionState(string) {}
func (nopMetrics) GGAUploaded()           {}
func (nopMetrics) SerialWriteFailed()     {}

type Client struct {
	cfg     Config
	sink    io.Writer
	pos     PositionSource
	metrics Metrics

	mu    sync.Mutex
	state State
}

// New builds a client writing corrections to sink (the serial link).
func New(cfg Config, sink io.Writer, pos PositionSource, m Metrics) *Client {
	if cfg.GGAInterval <= 0 {
		cfg.GGAInterval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "NTRIP nmea-relay"
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Client{cfg: cfg, sink: sink, pos: pos, metrics: m, state: StateDisconnected}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.metrics.CorrectionState(string(s))
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// Run streams corrections until ctx is cancelled or, without a reconnect
// delay, until the first session ends. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.setState(StateClosed)
			return nil
		}
		log.Printf("ntrip: session with %s/%s ended: %v", c.addr(), c.cfg.Mountpoint, err)
		if c.cfg.ReconnectDelay <= 0 {
			c.setState(StateClosed)
			return err
		}
		c.setState(StateRetrying)
		log.Printf("ntrip: reconnecting in %s", c.cfg.ReconnectDelay)
		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			c.setState(StateClosed)
			return nil
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.addr(), err)
	}
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		_ = conn.Close()
	}()

	body, err := c.handshake(conn)
	if err != nil {
		return err
	}
	c.setState(StateStreaming)
	log.Printf("ntrip: streaming corrections from %s/%s", c.addr(), c.cfg.Mountpoint)

	go c.uploadLoop(sessCtx, conn)

	buf := make([]byte, readChunk)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
		n, err := body.Read(buf)
		if n > 0 {
			c.metrics.CorrectionBytes(n)
			if _, werr := c.sink.Write(buf[:n]); werr != nil {
				c.metrics.SerialWriteFailed()
				log.Printf("ntrip: writing %d correction bytes to receiver: %v", n, werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("caster closed the stream")
			}
			return fmt.Errorf("read corrections: %w", err)
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	nd := &net.Dialer{Timeout: c.cfg.Timeout}
	if !c.cfg.UseTLS {
		return nd.DialContext(ctx, "tcp", c.addr())
	}
	td := &tls.Dialer{NetDialer: nd, Config: &tls.Config{ServerName: c.cfg.Host}}
	return td.DialContext(ctx, "tcp", c.addr())
}

func (c *Client) request() (*http.Request, error) {
	scheme := "http"
	if c.cfg.UseTLS {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s/%s", scheme, c.addr(), c.cfg.Mountpoint)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ntrip-Version", "Ntrip/2.0")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Close = true
	return req, nil
}

// handshake sends the request and returns the correction stream. Both
// NTRIP 1 ("ICY 200 OK") and NTRIP 2 (HTTP/1.1, possibly chunked) replies
// are accepted.
func (c *Client) handshake(conn net.Conn) (io.Reader, error) {
	req, err := c.request()
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	br := bufio.NewReader(conn)
	head, err := br.Peek(3)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch string(head) {
	case "ICY":
		status, err := br.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if !strings.HasPrefix(status, "ICY 200") {
			return nil, fmt.Errorf("%w: %q", ErrBadStatus, strings.TrimSpace(status))
		}
		return br, nil
	case "SOU":
		return nil, ErrSourceTable
	}

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusUnauthorized:
		_ = resp.Body.Close()
		return nil, ErrUnauthorized
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
}

// uploadLoop sends the latest GGA once on connect and then every
// GGAInterval. It stops with the session.
func (c *Client) uploadLoop(ctx context.Context, conn net.Conn) {
	t := time.NewTicker(c.cfg.GGAInterval)
	defer t.Stop()
	c.uploadPosition(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.uploadPosition(conn)
		}
	}
}

func (c *Client) uploadPosition(conn net.Conn) {
	if c.pos == nil {
		return
	}
	fix, ok := c.pos.Current()
	if !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	if _, err := io.WriteString(conn, fix.Raw+"\r\n"); err != nil {
		log.Printf("ntrip: sending GGA: %v", err)
		return
	}
	c.metrics.GGAUploaded()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
