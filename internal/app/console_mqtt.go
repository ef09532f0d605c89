// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/nmea_relay/internal/config"
	"github.com/relabs-tech/nmea_relay/internal/gps"
)

func printFix(w io.Writer, payload []byte) error {
	var f gps.PositionFix
	if err := json.Unmarshal(payload, &f); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		"[GNSS] time=%s lat=%.7f lon=%.7f sats=%d fix=%s\n",
		f.UTCTime, f.Latitude, f.Longitude, f.Satellites, f.Status,
	)
	return err
}

// RunConsoleMQTT prints the fixes the relay publishes until interrupted.
func RunConsoleMQTT(cfg *config.Config) error {
	if cfg.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID + "-console")

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicFix, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printFix(os.Stdout, msg.Payload()); err != nil {
			log.Printf("console: fix unmarshal error: %v", err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicFix)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
