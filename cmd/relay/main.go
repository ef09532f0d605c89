// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/nmea_relay/internal/app"
	"github.com/relabs-tech/nmea_relay/internal/config"
)

func main() {
	configPath := flag.String("config", ".env", "config file (KEY=VALUE or .yaml); empty for environment only")
	flag.Parse()

	log.Println("starting nmea-relay (serial NMEA → TCP, NTRIP → serial)")

	if *configPath != "" {
		if _, err := os.Stat(*configPath); os.IsNotExist(err) {
			log.Printf("config %s not found, using environment", *configPath)
			*configPath = ""
		}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hard deadline once shutdown starts.
	go func() {
		<-ctx.Done()
		time.AfterFunc(cfg.ShutdownTimeout, func() {
			log.Printf("shutdown exceeded %s, forcing exit", cfg.ShutdownTimeout)
			os.Exit(1)
		})
	}()

	if err := app.RunRelay(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Println("relay stopped")
}
