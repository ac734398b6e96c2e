package main

import (
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	c := &appConfig{
		listenAddr:    ":20000",
		tickInterval:  50 * time.Millisecond,
		logFormat:     "text",
		logLevel:      "info",
		readTimeout:   20 * time.Second,
		writeQueue:    256,
		dispatchQueue: 256,
		poolHeadroom:  64,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badTickInterval", func(c *appConfig) { c.tickInterval = 0 }},
		{"badReadTimeout", func(c *appConfig) { c.readTimeout = 0 }},
		{"badWriteQueue", func(c *appConfig) { c.writeQueue = 0 }},
		{"badDispatchQueue", func(c *appConfig) { c.dispatchQueue = 0 }},
		{"badPoolHeadroom", func(c *appConfig) { c.poolHeadroom = -1 }},
		{"mismatchedTLS", func(c *appConfig) { c.tlsCert = "cert.pem" }},
	}
	for _, tc := range tests {
		base := &appConfig{
			listenAddr:    ":20000",
			tickInterval:  50 * time.Millisecond,
			logFormat:     "text",
			logLevel:      "info",
			readTimeout:   20 * time.Second,
			writeQueue:    256,
			dispatchQueue: 256,
			poolHeadroom:  64,
		}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidate_NilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
