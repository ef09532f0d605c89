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

	"github.com/relabs-tech/nmea_relay/internal/app"
)

func main() {
	addr := flag.String("addr", "localhost:10110", "relay TCP address")
	flag.Parse()

	log.Println("starting nmea-relay accuracy monitor (GGA drift)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunAccuracy(ctx, *addr, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
