// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package scheduler provides per-plugin one-shot timers. Firing timers are
// surfaced to plugins as timer events through the host's fan-out; the
// scheduler itself knows nothing about contexts or bridges.
package scheduler

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// maxTimersPerPlugin bounds how many timers one plugin may hold pending.
const maxTimersPerPlugin = 64

// FireFunc receives a timer that has elapsed. Called on the timer's own
// goroutine; implementations must not block for long.
type FireFunc func(pluginID, timerID string, payload json.RawMessage)

// Scheduler tracks pending timers keyed by owning plugin, so disposal of a
// plugin cancels everything it scheduled.
type Scheduler struct {
	fire   FireFunc
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]map[string]*time.Timer // plugin id -> timer id
	closed bool
}

// New creates a scheduler that reports elapsed timers through fire.
func New(fire FireFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fire:   fire,
		logger: logger,
		timers: make(map[string]map[string]*time.Timer),
	}
}

// Schedule arms a one-shot timer owned by pluginID and returns its id.
func (s *Scheduler) Schedule(pluginID string, delay time.Duration, payload json.RawMessage) (string, error) {
	if delay <= 0 {
		return "", oops.Errorf("timer delay must be positive, got %s", delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", oops.Errorf("scheduler is closed")
	}
	owned := s.timers[pluginID]
	if owned == nil {
		owned = make(map[string]*time.Timer)
		s.timers[pluginID] = owned
	}
	if len(owned) >= maxTimersPerPlugin {
		return "", oops.With("plugin", pluginID).
			Errorf("plugin has %d pending timers, limit is %d", len(owned), maxTimersPerPlugin)
	}

	id := ulid.Make().String()
	owned[id] = time.AfterFunc(delay, func() {
		s.elapsed(pluginID, id, payload)
	})

	s.logger.Debug("timer scheduled", "plugin", pluginID, "timer", id, "delay", delay)
	return id, nil
}

func (s *Scheduler) elapsed(pluginID, id string, payload json.RawMessage) {
	s.mu.Lock()
	owned, ok := s.timers[pluginID]
	if ok {
		// Absent means Cancel or DisposePlugin raced the firing; drop it.
		if _, pending := owned[id]; !pending {
			s.mu.Unlock()
			return
		}
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.timers, pluginID)
		}
	}
	closed := s.closed
	s.mu.Unlock()

	if closed || !ok {
		return
	}
	s.fire(pluginID, id, payload)
}

// Cancel stops one pending timer. Cancelling an unknown or already-fired
// timer reports false and is not an error.
func (s *Scheduler) Cancel(pluginID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, ok := s.timers[pluginID]
	if !ok {
		return false
	}
	timer, ok := owned[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(owned, id)
	if len(owned) == 0 {
		delete(s.timers, pluginID)
	}
	return true
}

// DisposePlugin cancels every timer the plugin still holds.
func (s *Scheduler) DisposePlugin(pluginID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, timer := range s.timers[pluginID] {
		timer.Stop()
	}
	delete(s.timers, pluginID)
}

// Close cancels all timers and refuses further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, owned := range s.timers {
		for _, timer := range owned {
			timer.Stop()
		}
	}
	s.timers = make(map[string]map[string]*time.Timer)
}
