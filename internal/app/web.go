// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/relabs-tech/nmea_relay/internal/broadcast"
)

type relayStatus struct {
	Serial      string `json:"serial"`
	Correction  string `json:"correction"`
	Subscribers int    `json:"subscribers"`
	MaxClients  int    `json:"max_subscribers"`
	HasFix      bool   `json:"has_fix"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func (r *Relay) webHandler() http.Handler {
	mux := http.NewServeMux()

	// Latest position
	mux.HandleFunc("/api/position", func(w http.ResponseWriter, req *http.Request) {
		fix, ok := r.tracker.Current()
		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, fix)
	})

	mux.HandleFunc("/api/subscribers", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, r.registry.Snapshot())
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, req *http.Request) {
		st := relayStatus{
			Serial:      r.reader.State().String(),
			Correction:  "disabled",
			Subscribers: r.registry.Len(),
			MaxClients:  r.cfg.TCPMaxClients,
		}
		if r.ntrip != nil {
			st.Correction = string(r.ntrip.State())
		}
		_, st.HasFix = r.tracker.Current()
		writeJSON(w, st)
	})

	mux.Handle("/metrics", r.metrics.Handler())

	// Same filtered stream as TCP, one sentence per text message
	mux.Handle("/ws", broadcast.HandleWS(r.registry))

	return mux
}
