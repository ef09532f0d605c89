// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package broadcast fans accepted sentences out to network subscribers.
package broadcast

import (
	"context"
	"errors"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tevino/abool/v2"
)

var (
	ErrFull   = errors.New("subscriber limit reached")
	ErrClosed = errors.New("registry shut down")
)

// Metrics receives registry events. *metrics.Metrics satisfies it.
type Metrics interface {
	SetSubscribers(n int)
	SubscriberRejected()
	SubscriberDropped(reason string)
}

type nopMetrics struct{}

func (nopMetrics) SetSubscribers(int)       {}
func (nopMetrics) SubscriberRejected()      {}
func (nopMetrics) SubscriberDropped(string) {}

type Config struct {
	// MaxSubscribers caps registered subscribers across all transports.
	MaxSubscribers int
	// QueueSize is the per-subscriber backlog before it counts as not writable.
	QueueSize int
	// WriteTimeout bounds a single write to one subscriber.
	WriteTimeout time.Duration
}

// Registry is the live set of subscribers. Broadcast must be called from a
// single goroutine to keep per-subscriber order equal to arrival order.
type Registry struct {
	cfg     Config
	metrics Metrics

	mu   sync.Mutex
	subs map[string]*Subscriber

	closing *abool.AtomicBool
}

func NewRegistry(cfg Config, m Metrics) *Registry {
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Registry{
		cfg:     cfg,
		metrics: m,
		subs:    make(map[string]*Subscriber),
		closing: abool.New(),
	}
}

// Accept registers conn as a Connected subscriber and starts its writer.
func (r *Registry) Accept(conn Conn, remoteAddr, transport string) (*Subscriber, error) {
	if r.closing.IsSet() {
		return nil, ErrClosed
	}
	r.mu.Lock()
	if len(r.subs) >= r.cfg.MaxSubscribers {
		r.mu.Unlock()
		r.metrics.SubscriberRejected()
		return nil, ErrFull
	}
	s := newSubscriber(uuid.NewString(), conn, remoteAddr, transport, r.cfg.QueueSize)
	r.subs[s.ID] = s
	n := len(r.subs)
	r.mu.Unlock()

	go s.writeLoop(r)
	r.metrics.SetSubscribers(n)
	log.Printf("%s: client connected %s (%d/%d)", transport, remoteAddr, n, r.cfg.MaxSubscribers)
	return s, nil
}

// Broadcast queues line for every connected subscriber. A subscriber whose
// queue is full is removed; the others are unaffected.
func (r *Registry) Broadcast(line string) {
	payload := []byte(line + "\r\n")
	for _, s := range r.list() {
		if !s.enqueue(payload) {
			r.remove(s, "slow consumer")
		}
	}
}

// Notify sends an informational line to every subscriber.
func (r *Registry) Notify(msg string) {
	r.Broadcast(msg)
}

// Remove detaches and closes s. Safe to call repeatedly.
func (r *Registry) Remove(s *Subscriber) {
	r.remove(s, "disconnected")
}

func (r *Registry) remove(s *Subscriber, reason string) {
	if s == nil || !s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return
	}
	r.mu.Lock()
	delete(r.subs, s.ID)
	n := len(r.subs)
	r.mu.Unlock()

	close(s.quit)
	_ = s.conn.Close()
	s.state.Store(int32(StateClosed))

	r.metrics.SetSubscribers(n)
	if reason != "disconnected" {
		r.metrics.SubscriberDropped(reason)
	}
	log.Printf("%s: client %s %s (%d/%d)", s.Transport, s.RemoteAddr, reason, n, r.cfg.MaxSubscribers)
}

// Shutdown sends notice to every subscriber, closes them, and rejects
// further Accepts. It returns ctx.Err() if ctx expires first.
func (r *Registry) Shutdown(ctx context.Context, notice string) error {
	r.closing.Set()

	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for id, s := range r.subs {
		subs = append(subs, s)
		delete(r.subs, id)
	}
	r.mu.Unlock()
	r.metrics.SetSubscribers(0)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(r.cfg.WriteTimeout)
	}
	payload := []byte(notice + "\r\n")

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			s.closeWithNotice(payload, deadline)
		}(s)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("tcp: notified and closed %d client(s)", len(subs))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of connected subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Snapshot describes the connected subscribers, oldest first.
func (r *Registry) Snapshot() []Info {
	subs := r.list()
	out := make([]Info, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (r *Registry) list() []*Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out
}

// CleanAddress strips the IPv4-mapped IPv6 prefix from a host:port.
func CleanAddress(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimPrefix(addr, "::ffff:")
	}
	return net.JoinHostPort(strings.TrimPrefix(host, "::ffff:"), port)
}
