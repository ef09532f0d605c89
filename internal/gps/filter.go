// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"path"
	"strings"
)

// Mode indicator reported by NMEA 4.1 receivers for an RTK fixed solution.
const rtkModeIndicator = "R"

// FilterConfig decides which sentences reach subscribers.
type FilterConfig struct {
	// AllowedTypes is the exact-match allow list. Empty allows every type.
	AllowedTypes map[SentenceType]struct{}
	// AllowedPatterns are path.Match globs over the type ("G?A", "*SV").
	// A type matching any pattern is allowed even if not listed exactly.
	AllowedPatterns []string
	// RTKFixedOnly drops position and course sentences without an RTK fix.
	RTKFixedOnly bool
}

// ParseAllowList splits a comma separated list such as "RMC,VTG,GGA".
func ParseAllowList(s string) map[SentenceType]struct{} {
	out := make(map[SentenceType]struct{})
	for _, item := range strings.Split(s, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		out[SentenceType(item)] = struct{}{}
	}
	return out
}

// ParsePatterns splits and validates a comma separated list of globs.
func ParsePatterns(s string) ([]string, error) {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, err := path.Match(item, "GGA"); err != nil {
			return nil, fmt.Errorf("bad sentence pattern %q: %w", item, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Policy applies a FilterConfig. The zero value forwards every
// recognised sentence.
type Policy struct {
	cfg FilterConfig
}

func NewPolicy(cfg FilterConfig) *Policy {
	return &Policy{cfg: cfg}
}

// ShouldForward reports whether a classified sentence goes to subscribers.
func (p *Policy) ShouldForward(typ SentenceType, raw string) bool {
	if typ == TypeNone || typ == TypeUnknown {
		return false
	}
	if !p.allowed(typ) {
		return false
	}
	if !p.cfg.RTKFixedOnly {
		return true
	}
	switch typ {
	case TypeGGA:
		return fieldEquals(raw, 6, "4")
	case TypeRMC:
		return fieldEquals(raw, 12, rtkModeIndicator)
	case TypeVTG:
		return fieldEquals(raw, 9, rtkModeIndicator)
	}
	return true
}

func (p *Policy) allowed(typ SentenceType) bool {
	if len(p.cfg.AllowedTypes) == 0 && len(p.cfg.AllowedPatterns) == 0 {
		return true
	}
	if _, ok := p.cfg.AllowedTypes[typ]; ok {
		return true
	}
	for _, pat := range p.cfg.AllowedPatterns {
		if ok, _ := path.Match(pat, string(typ)); ok {
			return true
		}
	}
	return false
}

// fieldEquals compares comma field i of raw, ignoring any *hh checksum.
func fieldEquals(raw string, i int, want string) bool {
	if star := strings.LastIndexByte(raw, '*'); star != -1 {
		raw = raw[:star]
	}
	fields := strings.Split(raw, ",")
	if i >= len(fields) {
		return false
	}
	return fields[i] == want
}
