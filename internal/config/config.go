// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/nmea_relay/internal/gps"
)

// Config holds all relay configuration values. It is built once at startup
// and never modified afterwards.
type Config struct {
	// Serial
	SerialPort string
	BaudRate   int

	// TCP broadcast
	TCPHost         string
	TCPPort         int
	TCPMaxClients   int
	TCPAllow        string
	TCPAllowGlobs   string
	TCPOnlyRTK      bool
	TCPAcceptRate   int
	SubscriberQueue int
	WriteTimeout    time.Duration

	// NTRIP
	NTRIPHost           string
	NTRIPPort           int
	NTRIPMountpoint     string
	NTRIPUsername       string
	NTRIPPassword       string
	NTRIPUseHTTPS       bool
	NTRIPUserAgent      string
	NTRIPGGAInterval    time.Duration
	NTRIPReconnectDelay time.Duration

	// Timing
	StatusLogInterval time.Duration
	ShutdownTimeout   time.Duration

	// Web server (empty disables)
	WebAddr string

	// MQTT (empty broker disables)
	MQTTBroker   string
	MQTTClientID string
	TopicFix     string
}

// Default returns the configuration used for keys that are not set.
func Default() *Config {
	return &Config{
		SerialPort:        "/dev/ttyAMA0",
		BaudRate:          115200,
		TCPHost:           "0.0.0.0",
		TCPPort:           10110,
		TCPMaxClients:     5,
		TCPAllow:          "RMC,VTG,GGA",
		TCPAcceptRate:     20,
		SubscriberQueue:   256,
		WriteTimeout:      2 * time.Second,
		NTRIPPort:         2101,
		NTRIPUserAgent:    "NTRIP nmea-relay",
		NTRIPGGAInterval:  60 * time.Second,
		StatusLogInterval: 15 * time.Second,
		ShutdownTimeout:   4 * time.Second,
		MQTTClientID:      "nmea-relay",
		TopicFix:          "gnss/fix",
	}
}

// keys lists every key the relay understands, in the order they are
// looked up in the process environment.
var keys = []string{
	"UART_PORT", "SERIAL_PORT", "BAUD_RATE",
	"TCP_HOST", "TCP_PORT", "TCP_MAX_CLIENTS", "TCP_ALLOW", "TCP_ALLOW_PATTERNS",
	"TCP_ONLY_RTK_FIXED", "TCP_ACCEPT_RATE", "SUBSCRIBER_QUEUE", "WRITE_TIMEOUT_MS",
	"NTRIP_HOST", "NTRIP_PORT", "NTRIP_MOUNTPOINT", "NTRIP_USERNAME", "NTRIP_PASSWORD",
	"NTRIP_USE_HTTPS", "NTRIP_USER_AGENT", "NTRIP_GGA_INTERVAL_SECONDS", "NTRIP_RECONNECT_SECONDS",
	"STATUS_LOG_INTERVAL_SECONDS", "SHUTDOWN_TIMEOUT_SECONDS",
	"WEB_ADDR", "MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_TOPIC_FIX",
}

// Load reads the configuration file, applies environment overrides and
// validates the result. An empty path uses defaults and the environment.
// Files ending in .yaml or .yml are parsed as a flat YAML map; anything else
// as KEY=VALUE lines (.env style).
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		var values [][2]string
		var err error
		switch strings.ToLower(filepath.Ext(configPath)) {
		case ".yaml", ".yml":
			values, err = readYAML(configPath)
		default:
			values, err = readKeyValue(configPath)
		}
		if err != nil {
			return nil, err
		}
		for _, kv := range values {
			if err := cfg.setValue(kv[0], kv[1]); err != nil {
				return nil, fmt.Errorf("config %s: %w", configPath, err)
			}
		}
	}

	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			if err := cfg.setValue(key, value); err != nil {
				return nil, fmt.Errorf("environment: %w", err)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readKeyValue(configPath string) ([][2]string, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var out [][2]string
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := unquote(strings.TrimSpace(parts[1]))
		out = append(out, [2]string{key, value})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return out, nil
}

func readYAML(configPath string) ([][2]string, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml %s: %w", configPath, err)
	}
	out := make([][2]string, 0, len(raw))
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if v == nil {
			out = append(out, [2]string{key, ""})
			continue
		}
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			return nil, fmt.Errorf("config key %s must be a scalar", key)
		}
		out = append(out, [2]string{key, fmt.Sprint(v)})
	}
	return out, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// setValue sets a config value based on the key. Keys the relay does not
// own are ignored; the same .env is shared with the log uploader.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Serial
	case "SERIAL_PORT", "UART_PORT":
		c.SerialPort = value
	case "BAUD_RATE":
		c.BaudRate, err = parseInt(key, value)

	// TCP broadcast
	case "TCP_HOST":
		c.TCPHost = value
	case "TCP_PORT":
		c.TCPPort, err = parseInt(key, value)
	case "TCP_MAX_CLIENTS":
		c.TCPMaxClients, err = parseInt(key, value)
	case "TCP_ALLOW":
		c.TCPAllow = value
	case "TCP_ALLOW_PATTERNS":
		c.TCPAllowGlobs = value
	case "TCP_ONLY_RTK_FIXED":
		c.TCPOnlyRTK, err = parseBool(key, value)
	case "TCP_ACCEPT_RATE":
		c.TCPAcceptRate, err = parseInt(key, value)
	case "SUBSCRIBER_QUEUE":
		c.SubscriberQueue, err = parseInt(key, value)
	case "WRITE_TIMEOUT_MS":
		c.WriteTimeout, err = parseDuration(key, value, time.Millisecond)

	// NTRIP
	case "NTRIP_HOST":
		c.NTRIPHost = value
	case "NTRIP_PORT":
		c.NTRIPPort, err = parseInt(key, value)
	case "NTRIP_MOUNTPOINT":
		c.NTRIPMountpoint = strings.TrimPrefix(value, "/")
	case "NTRIP_USERNAME":
		c.NTRIPUsername = value
	case "NTRIP_PASSWORD":
		c.NTRIPPassword = value
	case "NTRIP_USE_HTTPS":
		c.NTRIPUseHTTPS, err = parseBool(key, value)
	case "NTRIP_USER_AGENT":
		c.NTRIPUserAgent = value
	case "NTRIP_GGA_INTERVAL_SECONDS":
		c.NTRIPGGAInterval, err = parseDuration(key, value, time.Second)
	case "NTRIP_RECONNECT_SECONDS":
		c.NTRIPReconnectDelay, err = parseDuration(key, value, time.Second)

	// Timing
	case "STATUS_LOG_INTERVAL_SECONDS":
		c.StatusLogInterval, err = parseDuration(key, value, time.Second)
	case "SHUTDOWN_TIMEOUT_SECONDS":
		c.ShutdownTimeout, err = parseDuration(key, value, time.Second)

	// Web / MQTT
	case "WEB_ADDR":
		c.WebAddr = value
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_TOPIC_FIX":
		c.TopicFix = value

	default:
		log.Printf("config: ignoring unknown key %q", key)
	}
	return err
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseDuration(key, value string, unit time.Duration) (time.Duration, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, v)
	}
	return time.Duration(v * float64(unit)), nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("BAUD_RATE must be positive, got %d", c.BaudRate)
	}
	if c.TCPPort < 0 || c.TCPPort > 65535 {
		return fmt.Errorf("TCP_PORT must be 0-65535, got %d", c.TCPPort)
	}
	if c.TCPMaxClients < 1 {
		return fmt.Errorf("TCP_MAX_CLIENTS must be at least 1, got %d", c.TCPMaxClients)
	}
	if c.TCPAcceptRate < 1 {
		return fmt.Errorf("TCP_ACCEPT_RATE must be at least 1, got %d", c.TCPAcceptRate)
	}
	if c.SubscriberQueue < 1 {
		return fmt.Errorf("SUBSCRIBER_QUEUE must be at least 1, got %d", c.SubscriberQueue)
	}
	if _, err := gps.ParsePatterns(c.TCPAllowGlobs); err != nil {
		return fmt.Errorf("TCP_ALLOW_PATTERNS: %w", err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT_SECONDS must be positive")
	}
	if c.StatusLogInterval <= 0 {
		return fmt.Errorf("STATUS_LOG_INTERVAL_SECONDS must be positive")
	}
	if c.NTRIPEnabled() {
		if c.NTRIPMountpoint == "" {
			return fmt.Errorf("NTRIP_MOUNTPOINT is required when NTRIP_HOST is set")
		}
		if c.NTRIPUsername == "" {
			return fmt.Errorf("NTRIP_USERNAME is required when NTRIP_HOST is set")
		}
		if c.NTRIPPassword == "" {
			return fmt.Errorf("NTRIP_PASSWORD is required when NTRIP_HOST is set")
		}
		if c.NTRIPPort < 1 || c.NTRIPPort > 65535 {
			return fmt.Errorf("NTRIP_PORT must be 1-65535, got %d", c.NTRIPPort)
		}
		if c.NTRIPGGAInterval <= 0 {
			return fmt.Errorf("NTRIP_GGA_INTERVAL_SECONDS must be positive")
		}
	}
	if c.MQTTBroker != "" && c.TopicFix == "" {
		return fmt.Errorf("MQTT_TOPIC_FIX is required when MQTT_BROKER is set")
	}
	return nil
}

// NTRIPEnabled reports whether the correction client should run.
func (c *Config) NTRIPEnabled() bool {
	return c.NTRIPHost != ""
}

// ListenAddr is the TCP broadcast address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.TCPHost, c.TCPPort)
}

// Filter builds the sentence filter configuration.
func (c *Config) Filter() gps.FilterConfig {
	patterns, _ := gps.ParsePatterns(c.TCPAllowGlobs)
	return gps.FilterConfig{
		AllowedTypes:    gps.ParseAllowList(c.TCPAllow),
		AllowedPatterns: patterns,
		RTKFixedOnly:    c.TCPOnlyRTK,
	}
}
