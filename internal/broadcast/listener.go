// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package broadcast

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"go.uber.org/ratelimit"
)

// Listener accepts TCP subscribers into a Registry. Subscribers are
// write-only; anything they send is read and discarded.
type Listener struct {
	ln  net.Listener
	reg *Registry
	rl  ratelimit.Limiter
}

// Listen binds addr. acceptRate limits new connections per second.
func Listen(addr string, reg *Registry, acceptRate int) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if acceptRate <= 0 {
		acceptRate = 20
	}
	log.Printf("tcp: listening on %s", ln.Addr())
	return &Listener{ln: ln, reg: reg, rl: ratelimit.New(acceptRate)}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve runs the accept loop until Close.
func (l *Listener) Serve() error {
	for {
		l.rl.Take()
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Printf("tcp: accept: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	addr := CleanAddress(conn.RemoteAddr().String())
	sub, err := l.reg.Accept(conn, addr, "tcp")
	if err != nil {
		log.Printf("tcp: rejecting %s: %v", addr, err)
		_ = conn.Close()
		return
	}
	if _, err := io.Copy(io.Discard, conn); err != nil && sub.State() == StateConnected {
		log.Printf("tcp: read from %s: %v", addr, err)
	}
	l.reg.Remove(sub)
}

// Close stops accepting. Connected subscribers are left to the Registry.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	log.Printf("tcp: listener closed")
	return nil
}
