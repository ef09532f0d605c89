// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/nmea_relay/internal/app"
	"github.com/relabs-tech/nmea_relay/internal/config"
)

func main() {
	configPath := flag.String("config", ".env", "config file (KEY=VALUE or .yaml)")
	flag.Parse()

	log.Println("starting nmea-relay console (MQTT subscriber)")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunConsoleMQTT(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
