// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/command"
	"github.com/quiltchat/quilt/internal/plugin/capability"
	"github.com/quiltchat/quilt/internal/plugin/sandbox"
	"github.com/quiltchat/quilt/internal/scheduler"
	"github.com/quiltchat/quilt/internal/storage"
)

var tracer = otel.Tracer("quilt/plugin")

// deliveryTimeout bounds one event delivery into one plugin context. A slow
// or wedged plugin loses the event; its siblings are unaffected.
const deliveryTimeout = 5 * time.Second

// HostConfig assembles a plugin host.
type HostConfig struct {
	// Accounts is the live account registry. Required.
	Accounts *account.Registry
	// Storage backs plugin namespaces. Defaults to in-memory.
	Storage storage.KV
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// ActivationTimeout is forwarded to bridges; zero means the default.
	ActivationTimeout time.Duration
	// Metrics enables prometheus counters on bridges and command execution.
	Metrics bool
}

// Host is the long-lived coordinator owning every plugin handle. One Host per
// running client; all mutation goes through it.
type Host struct {
	accounts *account.Registry
	commands *command.Registry
	enforcer *capability.Enforcer
	store    storage.KV
	sched    *scheduler.Scheduler
	logger   *slog.Logger
	recorder sandbox.Recorder

	activationTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool

	deliveries sync.WaitGroup
}

// NewHost creates a plugin host with no plugins registered.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Accounts == nil {
		return nil, oops.Errorf("account registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Storage
	if store == nil {
		store = storage.NewMemory()
	}

	h := &Host{
		accounts:          cfg.Accounts,
		commands:          command.NewRegistry(),
		enforcer:          capability.NewEnforcer(),
		store:             store,
		logger:            logger,
		activationTimeout: cfg.ActivationTimeout,
		handles:           make(map[string]*Handle),
	}
	if cfg.Metrics {
		h.recorder = metricsRecorder{}
	}
	h.sched = scheduler.New(h.timerFired, logger)
	return h, nil
}

// Enforcer exposes the capability enforcer for inspection surfaces.
func (h *Host) Enforcer() *capability.Enforcer {
	return h.enforcer
}

// Commands returns the definitions plugins have registered, ordered by name.
func (h *Host) Commands() []command.Definition {
	return h.commands.All()
}

// RegisterPlugin validates the manifest, verifies the entry source against
// the manifest's integrity hash, resolves permissions, and activates the
// plugin in a fresh isolated context. No plugin code runs before the
// integrity check passes.
//
// Activation failure leaves a failed handle in place so the failure is
// inspectable; the id stays taken until UnregisterPlugin.
func (h *Host) RegisterPlugin(ctx context.Context, m *Manifest, entrySource []byte) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := VerifyIntegrity(m, entrySource); err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHostClosed()
	}
	if _, exists := h.handles[m.ID]; exists {
		h.mu.Unlock()
		return ErrDuplicatePlugin(m.ID)
	}
	// Reserve the id while activation runs outside the lock.
	handle := &Handle{manifest: m}
	handle.dispose = func() { _ = h.UnregisterPlugin(m.ID) }
	h.handles[m.ID] = handle
	h.mu.Unlock()

	actions, events := ResolvePermissions(m)
	if err := h.enforcer.SetGrants(m.ID, actions, events); err != nil {
		h.dropHandle(m.ID)
		return ErrValidation(m.ID, err.Error())
	}

	bridge, err := sandbox.New(sandbox.Config{
		PluginID:          m.ID,
		Entry:             string(entrySource),
		AllowedEvents:     events,
		Enforcer:          h.enforcer,
		Services:          h,
		Storage:           h.store,
		Logger:            h.logger,
		Recorder:          h.recorder,
		ActivationTimeout: h.activationTimeout,
	})
	if err != nil {
		h.enforcer.RemoveGrants(m.ID)
		h.dropHandle(m.ID)
		return ErrContextFailure(m.ID, err)
	}

	handle.actions = actions
	handle.events = events
	handle.bridge = bridge

	if err := bridge.Activate(ctx); err != nil {
		// Commands registered during the failed activation must not
		// remain routable.
		h.commands.RemoveOwner(m.ID)
		h.enforcer.RemoveGrants(m.ID)
		handle.failure = err
		PluginsLoaded.WithLabelValues(sandbox.StateFailed.String()).Inc()
		h.logger.Error("plugin activation failed", "plugin", m.ID, "error", err)
		return err
	}

	handle.loadedAt = time.Now()
	PluginsLoaded.WithLabelValues(sandbox.StateReady.String()).Inc()
	h.logger.Info("plugin registered",
		"plugin", m.ID,
		"version", m.Version,
		"permissions", len(m.Permissions))
	return nil
}

// UnregisterPlugin disposes a plugin and releases everything it holds: its
// grants, its commands, and its pending timers. The storage namespace is
// kept so state survives a reload. Unregistering an absent id is a no-op,
// not an error; disposal itself never fails.
func (h *Host) UnregisterPlugin(id string) error {
	h.mu.Lock()
	handle, ok := h.handles[id]
	if ok {
		delete(h.handles, id)
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}

	state := handle.State()
	if handle.bridge != nil {
		handle.bridge.Dispose()
	}
	h.enforcer.RemoveGrants(id)
	h.commands.RemoveOwner(id)
	h.sched.DisposePlugin(id)
	PluginsLoaded.WithLabelValues(state.String()).Dec()

	h.logger.Info("plugin unregistered", "plugin", id)
	return nil
}

// Plugin returns the handle for a registered plugin id.
func (h *Host) Plugin(id string) (*Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	handle, ok := h.handles[id]
	return handle, ok
}

// PluginIDs returns all registered plugin ids, sorted.
func (h *Host) PluginIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.handles))
	for id := range h.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FailedPlugins returns the ids of plugins whose activation failed, sorted.
func (h *Host) FailedPlugins() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	for id, handle := range h.handles {
		if handle.State() == sandbox.StateFailed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *Host) dropHandle(id string) {
	h.mu.Lock()
	delete(h.handles, id)
	h.mu.Unlock()
}

// readyBridges snapshots the bridges eligible for delivery.
func (h *Host) readyBridges() []*sandbox.Bridge {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*sandbox.Bridge, 0, len(h.handles))
	for _, handle := range h.handles {
		if handle.bridge != nil && handle.bridge.State() == sandbox.StateReady {
			out = append(out, handle.bridge)
		}
	}
	return out
}

// Emit fans one event out to every ready, subscribed plugin concurrently and
// waits for all deliveries to land. Per-plugin failures are logged and
// isolated, never propagated; Emit itself fails only when the payload cannot
// be encoded. Handing the event to a plugin's context counts as delivered;
// the plugin's own handler runs asynchronously inside its context.
func (h *Host) Emit(ctx context.Context, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return oops.With("event", event).Wrapf(err, "encode event payload")
	}

	ctx, span := tracer.Start(ctx, "plugin.emit",
		trace.WithAttributes(attribute.String("event.name", event)))
	defer span.End()

	bridges := h.readyBridges()
	span.SetAttributes(attribute.Int("event.targets", len(bridges)))

	var wg sync.WaitGroup
	for _, bridge := range bridges {
		wg.Add(1)
		h.deliveries.Add(1)
		go func(b *sandbox.Bridge) {
			defer wg.Done()
			defer h.deliveries.Done()

			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliveryTimeout)
			defer cancel()

			if err := b.DeliverEvent(dctx, event, raw); err != nil {
				h.logger.Warn("event delivery failed",
					"plugin", b.PluginID(),
					"event", event,
					"error", err)
			}
		}(bridge)
	}
	wg.Wait()
	return nil
}

// timerFired is the scheduler's callback. Timer events go only to the plugin
// that scheduled the timer, never through the global fan-out.
func (h *Host) timerFired(pluginID, timerID string, payload json.RawMessage) {
	h.mu.RLock()
	handle, ok := h.handles[pluginID]
	h.mu.RUnlock()
	if !ok || handle.bridge == nil {
		return
	}

	body, err := json.Marshal(map[string]any{
		"timer_id": timerID,
		"payload":  payload,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()
	if err := handle.bridge.DeliverEvent(ctx, EventTimer, body); err != nil {
		h.logger.Warn("timer delivery failed", "plugin", pluginID, "timer", timerID, "error", err)
	}
}

// ExecuteCommand routes one typed command line ("/echo hi there") to its
// owning plugin and reports the outcome. A command-invoked event is emitted
// for every attempt, including misses, so auditing plugins see everything.
func (h *Host) ExecuteCommand(ctx context.Context, input, accountID, roomID string) command.ExecutionResult {
	name, args := splitCommand(input)

	ctx, span := tracer.Start(ctx, "plugin.command",
		trace.WithAttributes(attribute.String("command.name", name)))
	defer span.End()

	result := h.executeCommand(ctx, name, args, accountID, roomID)

	span.SetAttributes(attribute.String("command.status", string(result.Status)))
	if result.Status == command.StatusError {
		span.SetStatus(codes.Error, result.Message)
	}
	CommandExecutions.WithLabelValues(name, string(result.Status)).Inc()

	// Fire-and-forget; command execution does not wait on observers.
	_ = h.Emit(ctx, EventCommandInvoked, map[string]string{
		"command":    name,
		"account_id": accountID,
		"room_id":    roomID,
		"status":     string(result.Status),
	})
	return result
}

func (h *Host) executeCommand(ctx context.Context, name, args, accountID, roomID string) command.ExecutionResult {
	def, ok := h.commands.Resolve(name)
	if !ok {
		return command.ExecutionResult{Status: command.StatusNotFound}
	}

	h.mu.RLock()
	handle, registered := h.handles[def.Owner]
	h.mu.RUnlock()
	if !registered || handle.State() != sandbox.StateReady {
		return command.ExecutionResult{
			Status:  command.StatusNotAvailable,
			Message: "the plugin providing this command is not running",
		}
	}

	message, err := def.Handler(ctx, command.Invocation{
		Command:   name,
		Args:      args,
		AccountID: accountID,
		RoomID:    roomID,
	})
	if err != nil {
		h.logger.Warn("command handler failed", "command", name, "plugin", def.Owner, "error", err)
		return command.ExecutionResult{Status: command.StatusError, Message: err.Error()}
	}
	return command.ExecutionResult{Status: command.StatusOK, Message: message}
}

// splitCommand separates the command word from its raw argument string.
func splitCommand(input string) (name, args string) {
	input = strings.TrimSpace(input)
	if i := strings.IndexByte(input, ' '); i >= 0 {
		return input[:i], strings.TrimSpace(input[i+1:])
	}
	return input, ""
}

// Close disposes every plugin and shuts the host down. Idempotent.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	handles := make([]*Handle, 0, len(h.handles))
	for _, handle := range h.handles {
		handles = append(handles, handle)
	}
	h.handles = make(map[string]*Handle)
	h.mu.Unlock()

	h.sched.Close()
	for _, handle := range handles {
		if handle.bridge != nil {
			handle.bridge.Dispose()
		}
		h.enforcer.RemoveGrants(handle.ID())
		h.commands.RemoveOwner(handle.ID())
	}
	h.deliveries.Wait()
	h.logger.Info("plugin host closed")
}
