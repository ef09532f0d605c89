// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

const publishTimeout = 2 * time.Second

// FixPublisher publishes every decoded fix as retained JSON on an MQTT
// topic. Publish never blocks the relay; fixes are dropped while the
// broker is slow. A nil *FixPublisher is valid and does nothing.
type FixPublisher struct {
	client mqtt.Client
	topic  string
	fixes  chan gps.PositionFix
	done   chan struct{}
}

// NewFixPublisher connects to broker and starts publishing.
func NewFixPublisher(broker, clientID, topic string) (*FixPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("mqtt: connected to %s, publishing fixes to %s", broker, topic)
	return newFixPublisher(client, topic), nil
}

func newFixPublisher(client mqtt.Client, topic string) *FixPublisher {
	p := &FixPublisher{
		client: client,
		topic:  topic,
		fixes:  make(chan gps.PositionFix, 16),
		done:   make(chan struct{}),
	}
	go p.loop()
	return p
}

// Publish queues fix. Must not be called after Close.
func (p *FixPublisher) Publish(fix gps.PositionFix) {
	if p == nil {
		return
	}
	select {
	case p.fixes <- fix:
	default:
	}
}

func (p *FixPublisher) loop() {
	defer close(p.done)
	for fix := range p.fixes {
		payload, err := json.Marshal(fix)
		if err != nil {
			log.Printf("mqtt: fix marshal error: %v", err)
			continue
		}
		token := p.client.Publish(p.topic, 0, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			log.Printf("mqtt: publish to %s timed out", p.topic)
			continue
		}
		if token.Error() != nil {
			log.Printf("mqtt: publish error: %v", token.Error())
		}
	}
}

// Close flushes queued fixes, waiting at most publishTimeout, and
// disconnects.
func (p *FixPublisher) Close() {
	if p == nil {
		return
	}
	close(p.fixes)
	select {
	case <-p.done:
	case <-time.After(publishTimeout):
		log.Printf("mqtt: dropping unsent fixes")
	}
	p.client.Disconnect(250)
}
