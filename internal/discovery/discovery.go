// Package discovery advertises the running server over LAN mDNS so
// clients on the same network segment can find it without a configured
// address. Entirely optional: when disabled, Start is a no-op.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const serviceType = "_ironclad._tcp"

// Config controls whether and how the service is advertised.
type Config struct {
	Enabled bool
	Name    string // instance name; defaults to "ironclad-<hostname>"
	Meta    []string
}

// Start registers the service via mDNS for port and returns a shutdown
// function. When cfg.Enabled is false, Start returns a no-op shutdown and
// a nil error.
func Start(ctx context.Context, cfg Config, port int) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	instance := cfg.Name
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("ironclad-%s", host)
	}

	svc, err := zeroconf.Register(instance, serviceType, "local.", port, cfg.Meta, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: mdns register: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()

	return func() {
		close(done)
		svc.Shutdown()
		time.Sleep(50 * time.Millisecond)
	}, nil
}
