// Package gameloop drives the fixed-cadence simulation tick: snapshot the
// clock, publish the new GameTime, run World.Update, sleep to the next
// tick boundary, then yield. The monotonic source is wall-clock
// milliseconds since the Unix epoch; diffs are clamped at zero so a
// backward clock jump never produces a negative elapsed time.
package gameloop

import (
	"context"
	"runtime"
	"time"

	"github.com/forgenet/ironclad/internal/gametime"
	"github.com/forgenet/ironclad/internal/metrics"
	"github.com/forgenet/ironclad/internal/world"
)

// SleepMode selects how the loop waits out the remainder of a tick.
type SleepMode int

const (
	// SleepCooperative parks the goroutine on a timer (woken early by
	// cancellation), yielding the OS thread to other work. The default; fine for most deployments.
	SleepCooperative SleepMode = iota
	// SleepPrecise busy-waits in short bursts with runtime.Gosched
	// between them, trading CPU for tighter tick jitter. Opt in for
	// latency-sensitive simulations.
	SleepPrecise
)

// Loop runs World.Update on a fixed interval and publishes GameTime into
// a shared Cell handlers can read from.
type Loop struct {
	interval time.Duration
	sleep    SleepMode
	cell     *gametime.Cell
	w        world.World

	startMs int64
	lastMs  int64
}

// New creates a Loop with the given tick interval. cell may be nil if no
// caller needs to read GameTime directly (World.Update still receives it
// as an argument either way).
func New(interval time.Duration, w world.World, cell *gametime.Cell, sleep SleepMode) *Loop {
	if cell == nil {
		cell = gametime.NewCell(gametime.GameTime{})
	}
	return &Loop{interval: interval, sleep: sleep, cell: cell, w: w}
}

// Cell returns the loop's shared GameTime cell.
func (l *Loop) Cell() *gametime.Cell { return l.cell }

// Run executes ticks until ctx is cancelled. World.OnStart is expected to
// have already been called by the owner before Run starts (spec's
// accept-loop ordering: on_start fires once, before the accept loop
// begins, which itself begins before or alongside the first tick).
func (l *Loop) Run(ctx context.Context) {
	now := nowMs()
	l.startMs = now
	l.lastMs = now

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tickStart := time.Now()
		now := nowMs()
		diff := now - l.lastMs
		if diff < 0 {
			diff = 0
		}
		l.lastMs = now

		gt := gametime.GameTime{
			SystemTime:        time.Now(),
			TimestampMs:       now,
			ElapsedSinceStart: now - l.startMs,
		}
		l.cell.Store(gt)

		l.w.Update(diff, gt)
		metrics.ObserveTickDuration(time.Since(tickStart).Seconds())

		l.sleepRemainder(ctx, tickStart)
		runtime.Gosched()
	}
}

// sleepRemainder waits out whatever is left of the tick interval after
// Update ran, per getSleepTime = max(0, interval-(now-last)). A tick that
// already overran its interval skips sleeping entirely.
func (l *Loop) sleepRemainder(ctx context.Context, tickStart time.Time) {
	remaining := l.interval - time.Since(tickStart)
	if remaining <= 0 {
		return
	}

	switch l.sleep {
	case SleepPrecise:
		spinUntil(ctx, tickStart.Add(l.interval))
	default:
		t := time.NewTimer(remaining)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
}

// spinUntil busy-waits in short yielding bursts until deadline, trading
// CPU time for tighter wakeup precision than the OS timer wheel offers.
func spinUntil(ctx context.Context, deadline time.Time) {
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		runtime.Gosched()
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
