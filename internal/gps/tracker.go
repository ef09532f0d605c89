// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import "sync/atomic"

// Tracker holds the latest PositionFix. Readers never block the writer.
type Tracker struct {
	last atomic.Pointer[PositionFix]
}

// Update replaces the current fix.
func (t *Tracker) Update(fix PositionFix) {
	t.last.Store(&fix)
}

// Current returns the latest fix, ok=false until the first Update.
func (t *Tracker) Current() (PositionFix, bool) {
	if t == nil {
		return PositionFix{}, false
	}
	p := t.last.Load()
	if p == nil {
		return PositionFix{}, false
	}
	return *p, true
}
