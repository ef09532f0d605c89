// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/relabs-tech/nmea_relay/internal/broadcast"
	"github.com/relabs-tech/nmea_relay/internal/config"
	"github.com/relabs-tech/nmea_relay/internal/gps"
	"github.com/relabs-tech/nmea_relay/internal/metrics"
	"github.com/relabs-tech/nmea_relay/internal/ntrip"
	"github.com/relabs-tech/nmea_relay/internal/serialport"
)

// ShutdownNotice is the last line every subscriber receives.
const ShutdownNotice = "Server shutting down"

// Relay wires the serial receiver to the subscriber registry and, when
// configured, to the NTRIP caster, MQTT broker and web server. Run owns the
// event loop; only it broadcasts.
type Relay struct {
	cfg *config.Config

	reader   *serialport.Reader
	registry *broadcast.Registry
	listener *broadcast.Listener
	tracker  *gps.Tracker
	policy   *gps.Policy
	metrics  *metrics.Metrics

	ntrip     *ntrip.Client
	publisher *FixPublisher
	web       *http.Server
	webLn     net.Listener

	serialEvents chan serialport.State
}

// NewRelay builds a relay. A nil opener opens the real serial device.
func NewRelay(cfg *config.Config, opener serialport.Opener) *Relay {
	m := metrics.New()
	r := &Relay{
		cfg: cfg,
		reader: serialport.New(serialport.Config{
			Device: cfg.SerialPort,
			Baud:   cfg.BaudRate,
		}, opener),
		registry: broadcast.NewRegistry(broadcast.Config{
			MaxSubscribers: cfg.TCPMaxClients,
			QueueSize:      cfg.SubscriberQueue,
			WriteTimeout:   cfg.WriteTimeout,
		}, m),
		tracker:      &gps.Tracker{},
		policy:       gps.NewPolicy(cfg.Filter()),
		metrics:      m,
		serialEvents: make(chan serialport.State, 4),
	}
	if cfg.NTRIPEnabled() {
		r.ntrip = ntrip.New(ntrip.Config{
			Host:           cfg.NTRIPHost,
			Port:           cfg.NTRIPPort,
			Mountpoint:     cfg.NTRIPMountpoint,
			Username:       cfg.NTRIPUsername,
			Password:       cfg.NTRIPPassword,
			UseTLS:         cfg.NTRIPUseHTTPS,
			UserAgent:      cfg.NTRIPUserAgent,
			GGAInterval:    cfg.NTRIPGGAInterval,
			ReconnectDelay: cfg.NTRIPReconnectDelay,
		}, r.reader, r.tracker, m)
	}
	return r
}

// Start opens the serial device and binds the listeners. Any error here is
// fatal for the process.
func (r *Relay) Start() error {
	if err := r.reader.Open(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}
	// Subscribers can only connect once the link is open, so only later
	// transitions are worth announcing.
	r.reader.OnStateChange(func(s serialport.State) {
		select {
		case r.serialEvents <- s:
		default:
		}
	})
	ln, err := broadcast.Listen(r.cfg.ListenAddr(), r.registry, r.cfg.TCPAcceptRate)
	if err != nil {
		_ = r.reader.Close()
		return fmt.Errorf("tcp: %w", err)
	}
	r.listener = ln

	if r.cfg.WebAddr != "" {
		wln, err := net.Listen("tcp", r.cfg.WebAddr)
		if err != nil {
			_ = ln.Close()
			_ = r.reader.Close()
			return fmt.Errorf("web: listen %s: %w", r.cfg.WebAddr, err)
		}
		r.webLn = wln
		r.web = &http.Server{Handler: r.webHandler(), ReadHeaderTimeout: 5 * time.Second}
	}

	if r.cfg.MQTTBroker != "" {
		pub, err := NewFixPublisher(r.cfg.MQTTBroker, r.cfg.MQTTClientID, r.cfg.TopicFix)
		if err != nil {
			// MQTT is auxiliary; the relay keeps running without it.
			log.Printf("mqtt: %v; fix publishing disabled", err)
		} else {
			r.publisher = pub
		}
	}
	return nil
}

// ListenAddr is the bound TCP broadcast address, valid after Start.
func (r *Relay) ListenAddr() net.Addr {
	return r.listener.Addr()
}

// WebAddr is the bound web address, nil when the web server is disabled.
func (r *Relay) WebAddr() net.Addr {
	if r.webLn == nil {
		return nil
	}
	return r.webLn.Addr()
}

// Tracker exposes the position tracker.
func (r *Relay) Tracker() *gps.Tracker {
	return r.tracker
}

// Run relays until ctx is cancelled or the serial link fails, then shuts
// down: subscribers are notified, the listener closed, the serial device
// closed last. A serial failure is returned as an error.
func (r *Relay) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string, 64)
	serialDone := make(chan error, 1)
	go func() { serialDone <- r.reader.Run(runCtx, lines) }()

	go func() {
		if err := r.listener.Serve(); err != nil {
			log.Printf("tcp: %v", err)
		}
	}()
	if r.web != nil {
		go func() {
			log.Printf("web: listening on %s", r.webLn.Addr())
			if err := r.web.Serve(r.webLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("web: %v", err)
			}
		}()
	}
	if r.ntrip != nil {
		go func() {
			if err := r.ntrip.Run(runCtx); err != nil {
				log.Printf("ntrip: stopped: %v", err)
			}
		}()
	}

	status := time.NewTicker(r.cfg.StatusLogInterval)
	defer status.Stop()

	for {
		select {
		case line := <-lines:
			r.handleLine(line)
		case st := <-r.serialEvents:
			r.registry.Notify(fmt.Sprintf("Serial link %s", st))
		case <-status.C:
			logStatus(r.tracker)
		case err := <-serialDone:
			cancel()
			if shutdownErr := r.shutdown(); shutdownErr != nil {
				log.Printf("relay: %v", shutdownErr)
			}
			if err == nil && ctx.Err() == nil {
				err = errors.New("serial link closed")
			}
			return err
		case <-ctx.Done():
			cancel()
			return r.shutdown()
		}
	}
}

func (r *Relay) handleLine(line string) {
	r.metrics.SentenceRead()
	typ, fix := gps.Classify(line)
	if fix != nil {
		r.tracker.Update(*fix)
		r.metrics.FixDecoded(fix.Status)
		r.publisher.Publish(*fix)
	}
	if !r.policy.ShouldForward(typ, line) {
		r.metrics.SentenceDropped(string(typ))
		return
	}
	r.registry.Broadcast(line)
	r.metrics.SentenceForwarded()
}

// shutdown is bounded by ShutdownTimeout.
func (r *Relay) shutdown() error {
	log.Printf("relay: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()

	err := r.registry.Shutdown(ctx, ShutdownNotice)
	if err != nil {
		err = fmt.Errorf("notify subscribers: %w", err)
	}
	if cerr := r.listener.Close(); cerr != nil {
		log.Printf("tcp: close: %v", cerr)
	}
	if r.web != nil {
		if werr := r.web.Shutdown(ctx); werr != nil {
			log.Printf("web: shutdown: %v", werr)
		}
	}
	r.publisher.Close()
	if cerr := r.reader.Close(); cerr != nil {
		log.Printf("serial: close: %v", cerr)
	}
	log.Printf("relay: stopped")
	return err
}

// RunRelay starts a relay on the real serial device and runs it until ctx
// is cancelled.
func RunRelay(ctx context.Context, cfg *config.Config) error {
	r := NewRelay(cfg, nil)
	if err := r.Start(); err != nil {
		return err
	}
	return r.Run(ctx)
}
