// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"io"
	"log"
	"sync/atomic"
	"time"
)

// Conn is the write side of a subscriber transport. net.Conn satisfies it.
type Conn interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

type State int32

const (
	StateConnected State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Subscriber is one downstream consumer. Writes happen on its own
// goroutine, fed by a bounded FIFO queue.
type Subscriber struct {
	ID          string
	RemoteAddr  string
	Transport   string
	ConnectedAt time.Time

	conn  Conn
	queue chan []byte
	quit  chan struct{}
	done  chan struct{}
	state atomic.Int32
	sent  atomic.Uint64
}

// Info is the JSON view of a subscriber.
type Info struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
	State       string    `json:"state"`
	Sent        uint64    `json:"sent"`
}

func newSubscriber(id string, conn Conn, remoteAddr, transport string, queueSize int) *Subscriber {
	return &Subscriber{
		ID:          id,
		RemoteAddr:  remoteAddr,
		Transport:   transport,
		ConnectedAt: time.Now(),
		conn:        conn,
		queue:       make(chan []byte, queueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// State returns the lifecycle state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) info() Info {
	return Info{
		ID:          s.ID,
		RemoteAddr:  s.RemoteAddr,
		Transport:   s.Transport,
		ConnectedAt: s.ConnectedAt,
		State:       s.State().String(),
		Sent:        s.sent.Load(),
	}
}

// enqueue reports false when the subscriber cannot keep up.
func (s *Subscriber) enqueue(p []byte) bool {
	if s.State() != StateConnected {
		return true
	}
	select {
	case s.queue <- p:
		return true
	default:
		return false
	}
}

func (s *Subscriber) writeLoop(r *Registry) {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			return
		case p := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if _, err := s.conn.Write(p); err != nil {
				if s.State() == StateConnected {
					log.Printf("%s: write to %s failed: %v", s.Transport, s.RemoteAddr, err)
				}
				r.remove(s, "write error")
				return
			}
			s.sent.Add(1)
		}
	}
}

// closeWithNotice stops the writer, writes notice and closes the transport,
// giving up on the notice at deadline.
func (s *Subscriber) closeWithNotice(notice []byte, deadline time.Time) {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateClosing)) {
		return
	}
	close(s.quit)
	select {
	case <-s.done:
	case <-time.After(time.Until(deadline)):
	}
	_ = s.conn.SetWriteDeadline(deadline)
	if _, err := s.conn.Write(notice); err != nil {
		log.Printf("%s: shutdown notice to %s failed: %v", s.Transport, s.RemoteAddr, err)
	}
	_ = s.conn.Close()
	s.state.Store(int32(StateClosed))
}
