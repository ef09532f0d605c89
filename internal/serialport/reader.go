// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialport owns the link to the GNSS receiver: it splits the
// incoming byte stream into NMEA lines and carries RTCM corrections back.
package serialport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"
	"github.com/tevino/abool/v2"
)

// ErrClosed is returned by Write when the device is not open.
var ErrClosed = errors.New("serial port closed")

// State of the serial link.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// Opener opens the device. Tests substitute an in-memory port.
type Opener func(device string, baud int) (io.ReadWriteCloser, error)

// OpenDevice opens a real serial device, 8N1.
func OpenDevice(device string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:              device,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	})
}

type Config struct {
	Device string
	Baud   int
}

// Reader reads newline terminated sentences from the receiver and accepts
// correction bytes for it. Open must succeed before Run or Write.
type Reader struct {
	cfg  Config
	open Opener

	port   io.ReadWriteCloser
	isOpen *abool.AtomicBool

	writeMu sync.Mutex

	stateMu sync.Mutex
	onState func(State)
}

func New(cfg Config, open Opener) *Reader {
	if open == nil {
		open = OpenDevice
	}
	return &Reader{cfg: cfg, open: open, isOpen: abool.New()}
}

// OnStateChange registers fn to be called on every open/close transition.
func (r *Reader) OnStateChange(fn func(State)) {
	r.stateMu.Lock()
	r.onState = fn
	r.stateMu.Unlock()
}

func (r *Reader) notify(s State) {
	r.stateMu.Lock()
	fn := r.onState
	r.stateMu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Open opens the device once.
func (r *Reader) Open() error {
	if r.isOpen.IsSet() {
		return nil
	}
	port, err := r.open(r.cfg.Device, r.cfg.Baud)
	if err != nil {
		return fmt.Errorf("open %s at %d baud: %w", r.cfg.Device, r.cfg.Baud, err)
	}
	r.port = port
	r.isOpen.Set()
	log.Printf("serial: opened %s at %d baud", r.cfg.Device, r.cfg.Baud)
	r.notify(StateOpen)
	return nil
}

// State reports whether the device is open.
func (r *Reader) State() State {
	if r.isOpen.IsSet() {
		return StateOpen
	}
	return StateClosed
}

// Run emits one trimmed sentence per received line until the device fails,
// Close is called, or ctx is cancelled. An unterminated trailing fragment is
// never emitted. It returns nil when the link was closed deliberately.
func (r *Reader) Run(ctx context.Context, out chan<- string) error {
	if !r.isOpen.IsSet() {
		return ErrClosed
	}
	br := bufio.NewReader(r.port)
	for {
		raw, err := br.ReadString('\n')
		if err != nil {
			if !r.isOpen.IsSet() {
				return nil
			}
			log.Printf("serial: read error on %s: %v", r.cfg.Device, err)
			r.Close()
			return fmt.Errorf("read %s: %w", r.cfg.Device, err)
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return nil
		}
	}
}

// Write sends raw bytes (RTCM corrections) to the receiver.
func (r *Reader) Write(p []byte) (int, error) {
	if !r.isOpen.IsSet() {
		return 0, ErrClosed
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	n, err := r.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", r.cfg.Device, err)
	}
	return n, nil
}

// Close closes the device. Safe to call more than once.
func (r *Reader) Close() error {
	if !r.isOpen.SetToIf(true, false) {
		return nil
	}
	err := r.port.Close()
	log.Printf("serial: closed %s", r.cfg.Device)
	r.notify(StateClosed)
	return err
}
