// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/quiltchat/quilt/internal/plugin/capability"
	"github.com/quiltchat/quilt/internal/storage"
)

// HostServices is the surface the bridge invokes privileged operations
// through. The plugin host implements it; test doubles spy on it.
type HostServices interface {
	// InvokeAction performs one already-authorized action on behalf of a
	// plugin and returns the result payload.
	InvokeAction(ctx context.Context, pluginID, action string, payload json.RawMessage) (json.RawMessage, error)
}

// Recorder receives bridge-level metrics. Optional.
type Recorder interface {
	RecordEventDelivery(pluginID, event string)
	RecordActionRequest(pluginID, action, outcome string)
}

// State is the bridge lifecycle state.
type State int32

// Lifecycle states. Pending transitions to Ready or Failed; Ready
// transitions to Disposed; Failed and Disposed are terminal.
const (
	StatePending State = iota
	StateReady
	StateFailed
	StateDisposed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Defaults for bridge timeouts.
const (
	DefaultActivationTimeout = 10 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	disposeDrainTimeout      = 2 * time.Second
	channelCapacity          = 64
)

// Config assembles a bridge for one plugin instance.
type Config struct {
	// PluginID namespaces authorization, storage, and logging.
	PluginID string
	// Entry is the plugin's verified source code. Integrity verification
	// happens before the bridge is constructed; the bridge never fetches.
	Entry string
	// AllowedEvents is the manifest's permitted event list, forwarded to
	// the context in the init message. Actions are deliberately absent:
	// they are authorized per request, host-side.
	AllowedEvents []string
	// Enforcer holds the plugin's resolved permission set.
	Enforcer *capability.Enforcer
	// Services performs privileged operations.
	Services HostServices
	// Storage backs storage requests, namespaced by plugin id.
	Storage storage.KV
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Recorder is optional.
	Recorder Recorder
	// ActivationTimeout bounds the init/ready handshake.
	ActivationTimeout time.Duration
	// RequestTimeout bounds one privileged host call.
	RequestTimeout time.Duration
}

// Bridge owns one isolated execution context and is the only component that
// exchanges Messages with it. It enforces the plugin's action allow-list and
// subscription set; the host performs the privileged calls.
type Bridge struct {
	pluginID      string
	entry         string
	allowedEvents map[string]bool
	enforcer      *capability.Enforcer
	services      HostServices
	store         storage.KV
	logger        *slog.Logger
	recorder      Recorder

	activationTimeout time.Duration
	requestTimeout    time.Duration

	toCtx   chan Message
	fromCtx chan Message
	runtime *Runtime

	state   atomic.Int32
	readyCh chan struct{}
	done    chan struct{}

	mu       sync.RWMutex
	subs     map[string]bool
	executed map[int64]bool

	pending     sync.WaitGroup
	disposeOnce sync.Once
	loopDone    chan struct{}
}

// New creates a bridge in the pending state. Call Activate to start it.
func New(cfg Config) (*Bridge, error) {
	if cfg.PluginID == "" {
		return nil, oops.Errorf("sandbox: plugin id is required")
	}
	if cfg.Entry == "" {
		return nil, oops.Errorf("sandbox: entry source is required")
	}
	if cfg.Enforcer == nil {
		return nil, oops.Errorf("sandbox: enforcer is required")
	}
	if cfg.Services == nil {
		return nil, oops.Errorf("sandbox: host services are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(cfg.AllowedEvents))
	for _, name := range cfg.AllowedEvents {
		allowed[name] = true
	}

	activation := cfg.ActivationTimeout
	if activation <= 0 {
		activation = DefaultActivationTimeout
	}
	request := cfg.RequestTimeout
	if request <= 0 {
		request = DefaultRequestTimeout
	}

	return &Bridge{
		pluginID:          cfg.PluginID,
		entry:             cfg.Entry,
		allowedEvents:     allowed,
		enforcer:          cfg.Enforcer,
		services:          cfg.Services,
		store:             cfg.Storage,
		logger:            logger.With("plugin", cfg.PluginID),
		recorder:          cfg.Recorder,
		activationTimeout: activation,
		requestTimeout:    request,
		toCtx:             make(chan Message, channelCapacity),
		fromCtx:           make(chan Message, channelCapacity),
		readyCh:           make(chan struct{}),
		done:              make(chan struct{}),
		loopDone:          make(chan struct{}),
		subs:              make(map[string]bool),
		executed:          make(map[int64]bool),
	}, nil
}

// PluginID returns the plugin this bridge serves.
func (b *Bridge) PluginID() string {
	return b.pluginID
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Subscriptions returns the event names the context has subscribed to.
func (b *Bridge) Subscriptions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for name := range b.subs {
		out = append(out, name)
	}
	return out
}

// Activate instantiates the isolated context, sends init, and waits for the
// ready acknowledgment. Any failure releases the context and leaves the
// bridge in the failed state.
func (b *Bridge) Activate(ctx context.Context) error {
	if b.State() != StatePending {
		return oops.Errorf("sandbox: activate on %s bridge", b.State())
	}

	b.runtime = NewRuntime(b.pluginID, b.toCtx, b.fromCtx, b.logger)
	go b.runtime.Run()
	go b.loop()

	init := Message{
		Kind:          KindInit,
		Entry:         b.entry,
		AllowedEvents: b.sortedAllowedEvents(),
	}
	select {
	case b.toCtx <- init:
	case <-ctx.Done():
		return b.failActivation(ctx.Err())
	case <-b.runtime.Done():
		return b.failActivation(b.runtime.Err())
	}

	select {
	case <-b.readyCh:
		b.state.Store(int32(StateReady))
		b.logger.Info("plugin context activated")
		return nil
	case <-b.runtime.Done():
		return b.failActivation(b.runtime.Err())
	case <-ctx.Done():
		return b.failActivation(ctx.Err())
	case <-time.After(b.activationTimeout):
		return b.failActivation(fmt.Errorf("context did not acknowledge init within %s", b.activationTimeout))
	}
}

func (b *Bridge) failActivation(cause error) error {
	b.state.Store(int32(StateFailed))
	b.runtime.Terminate()
	<-b.runtime.Done()
	<-b.loopDone
	if cause == nil {
		cause = fmt.Errorf("context exited during activation")
	}
	return oops.Code("CONTEXT_FAILURE").
		With("plugin", b.pluginID).
		Wrapf(cause, "plugin activation failed")
}

func (b *Bridge) sortedAllowedEvents() []string {
	out := make([]string, 0, len(b.allowedEvents))
	for name := range b.allowedEvents {
		out = append(out, name)
	}
	return out
}

// DeliverEvent sends one event into the context if and only if the plugin
// subscribed to it. Unsubscribed events are silently dropped, never queued.
func (b *Bridge) DeliverEvent(ctx context.Context, event string, payload json.RawMessage) error {
	if b.State() != StateReady {
		return oops.Code("PLUGIN_NOT_LOADED").
			With("plugin", b.pluginID).
			With("state", b.State().String()).
			Errorf("plugin context is not ready")
	}

	b.mu.RLock()
	subscribed := b.subs[event]
	b.mu.RUnlock()
	if !subscribed {
		return nil
	}

	if b.recorder != nil {
		b.recorder.RecordEventDelivery(b.pluginID, event)
	}

	select {
	case b.toCtx <- Message{Kind: KindEvent, Event: event, Payload: payload}:
		return nil
	case <-ctx.Done():
		return oops.Wrapf(ctx.Err(), "event delivery to %s", b.pluginID)
	case <-b.done:
		return oops.Code("PLUGIN_NOT_LOADED").Errorf("plugin %s disposed during delivery", b.pluginID)
	case <-b.runtime.Done():
		return oops.Code("CONTEXT_FAILURE").Errorf("plugin %s context exited", b.pluginID)
	}
}

// DeliverCommand sends a command invocation to the owning plugin. Command
// delivery bypasses the subscription set: registering the command is the
// opt-in.
func (b *Bridge) DeliverCommand(ctx context.Context, payload json.RawMessage) error {
	if b.State() != StateReady {
		return oops.Code("PLUGIN_NOT_LOADED").
			With("plugin", b.pluginID).
			Errorf("plugin context is not ready")
	}

	select {
	case b.toCtx <- Message{Kind: KindEvent, Event: commandEventName, Payload: payload}:
		return nil
	case <-ctx.Done():
		return oops.Wrapf(ctx.Err(), "command delivery to %s", b.pluginID)
	case <-b.done:
		return oops.Code("PLUGIN_NOT_LOADED").Errorf("plugin %s disposed during delivery", b.pluginID)
	case <-b.runtime.Done():
		return oops.Code("CONTEXT_FAILURE").Errorf("plugin %s context exited", b.pluginID)
	}
}

// Dispose tears the context down: best-effort dispose message, forced
// termination regardless of acknowledgment, subscription state cleared, and
// every request still pending correlation failed rather than left unsettled.
// Idempotent and never returns an error.
func (b *Bridge) Dispose() {
	b.disposeOnce.Do(func() {
		b.state.Store(int32(StateDisposed))

		if b.runtime == nil {
			// Never activated.
			close(b.done)
			return
		}

		// The context may be mid-execution and not reading; don't block.
		select {
		case b.toCtx <- Message{Kind: KindDispose}:
		default:
		}

		close(b.done)
		b.runtime.Terminate()

		select {
		case <-b.runtime.Done():
			<-b.loopDone
		case <-time.After(disposeDrainTimeout):
			b.logger.Warn("context did not exit promptly on dispose")
		}

		b.mu.Lock()
		b.subs = make(map[string]bool)
		b.mu.Unlock()

		b.pending.Wait()
		b.logger.Info("plugin context disposed")
	})
}

// loop services messages from the context until its channel closes.
func (b *Bridge) loop() {
	defer close(b.loopDone)

	for msg := range b.fromCtx {
		switch msg.Kind {
		case KindReady:
			select {
			case <-b.readyCh:
			default:
				close(b.readyCh)
			}
		case KindSubscribe:
			b.handleSubscribe(msg.Event)
		case KindActionRequest, KindStorageRequest, KindMatrixRequest:
			b.handleRequest(msg)
		default:
			// Exhaustive over context-originated kinds; anything else is
			// a protocol violation worth logging, not crashing over.
			b.logger.Warn("unexpected message from context", "kind", string(msg.Kind))
		}
	}
}

func (b *Bridge) handleSubscribe(event string) {
	if !b.allowedEvents[event] {
		b.logger.Warn("subscription outside allowed events ignored", "event", event)
		return
	}

	b.mu.Lock()
	b.subs[event] = true
	b.mu.Unlock()
	b.logger.Debug("plugin subscribed", "event", event)
}

// handleRequest authorizes and executes one correlated request. The
// authorization decision is made here, host-side, so it is auditable and
// outside the plugin's reach. A given request id executes at most once.
func (b *Bridge) handleRequest(msg Message) {
	respKind := responseKind(msg.Kind)

	b.mu.Lock()
	duplicate := b.executed[msg.RequestID]
	if !duplicate {
		b.executed[msg.RequestID] = true
	}
	b.mu.Unlock()

	if duplicate {
		b.respond(Message{
			Kind:      respKind,
			RequestID: msg.RequestID,
			Error:     fmt.Sprintf("request id %d already executed", msg.RequestID),
		})
		return
	}

	if !b.enforcer.CheckAction(b.pluginID, msg.Action) {
		b.recordAction(msg.Action, "denied")
		b.logger.Warn("action denied", "action", msg.Action)
		b.respond(Message{
			Kind:      respKind,
			RequestID: msg.RequestID,
			Error:     fmt.Sprintf("action %q is not permitted", msg.Action),
		})
		return
	}

	b.pending.Add(1)
	go func() {
		defer b.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.requestTimeout)
		defer cancel()

		result, err := b.execute(ctx, msg)
		resp := Message{Kind: respKind, RequestID: msg.RequestID}
		if err != nil {
			b.recordAction(msg.Action, "error")
			b.logger.Warn("action failed", "action", msg.Action, "error", err)
			resp.Error = err.Error()
		} else {
			b.recordAction(msg.Action, "ok")
			resp.Success = true
			resp.Result = result
		}
		b.respond(resp)
	}()
}

// execute performs one authorized request. Storage requests are served
// directly against the plugin's namespace; everything else goes to the host.
func (b *Bridge) execute(ctx context.Context, msg Message) (json.RawMessage, error) {
	if msg.Kind == KindStorageRequest {
		return b.executeStorage(ctx, msg)
	}
	return b.services.InvokeAction(ctx, b.pluginID, msg.Action, msg.Payload)
}

func (b *Bridge) executeStorage(ctx context.Context, msg Message) (json.RawMessage, error) {
	if b.store == nil {
		return nil, fmt.Errorf("storage is not available")
	}

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, fmt.Errorf("malformed storage payload: %w", err)
	}
	if req.Key == "" {
		return nil, fmt.Errorf("storage key is required")
	}

	// The namespace is supplied here, never by the plugin: one plugin can
	// never name another's namespace.
	switch msg.Action {
	case ActionStorageGet:
		value, err := b.store.Get(ctx, b.pluginID, req.Key)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return json.Marshal(map[string]any{"value": nil})
		}
		return json.Marshal(map[string]string{"value": string(value)})
	case ActionStorageSet:
		if err := b.store.Set(ctx, b.pluginID, req.Key, []byte(req.Value)); err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	case ActionStorageDelete:
		if err := b.store.Delete(ctx, b.pluginID, req.Key); err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	default:
		return nil, fmt.Errorf("unknown storage action %q", msg.Action)
	}
}

// respond sends a response toward the context, dropping it if the bridge is
// disposed or the context has exited.
func (b *Bridge) respond(msg Message) {
	select {
	case b.toCtx <- msg:
	case <-b.done:
	case <-b.runtime.Done():
	}
}

func (b *Bridge) recordAction(action, outcome string) {
	if b.recorder != nil {
		b.recorder.RecordActionRequest(b.pluginID, action, outcome)
	}
}
