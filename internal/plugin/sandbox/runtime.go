// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library safe to load in a sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// safeLibraries lists the libraries loaded into every context.
// Blocked: os, io, debug, package, coroutine.
var safeLibraries = []safeLibrary{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeBaseFunctions are base-library functions that reach the filesystem
// or load arbitrary code; they are removed after opening base.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// errDisposed is returned to in-flight requests when the context is torn
// down before their response arrives.
var errDisposed = errors.New("context disposed")

// Runtime is the isolated execution context for one plugin instance: a
// sandboxed Lua state driven by a single goroutine that exchanges Messages
// with the Bridge over a pair of FIFO channels.
//
// The context has no ambient access to host memory, credentials, or the
// filesystem; everything it can do flows through the message protocol.
type Runtime struct {
	pluginID string
	in       <-chan Message // host -> context
	out      chan<- Message // context -> host
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Single-goroutine state below; only the run goroutine touches it.
	state         *lua.LState
	pendingEvents []Message
	nextRequestID int64
	disposed      bool

	failMu  sync.Mutex
	failErr error
}

// NewRuntime creates a context runtime. Call Run exactly once, on its own
// goroutine.
func NewRuntime(pluginID string, in <-chan Message, out chan<- Message, logger *slog.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		pluginID: pluginID,
		in:       in,
		out:      out,
		logger:   logger.With("plugin", pluginID),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Done is closed when the runtime goroutine has exited and its Lua state is
// released.
func (r *Runtime) Done() <-chan struct{} {
	return r.done
}

// Err reports why the runtime exited, if it failed. Valid after Done.
func (r *Runtime) Err() error {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	return r.failErr
}

// Terminate forcibly stops the runtime, interrupting any executing Lua code.
// Safe to call multiple times and concurrently with Run.
func (r *Runtime) Terminate() {
	r.cancel()
}

func (r *Runtime) fail(err error) {
	r.failMu.Lock()
	defer r.failMu.Unlock()
	if r.failErr == nil {
		r.failErr = err
	}
}

// Run executes the context until disposal, termination, or failure. The
// outbound channel is closed on exit; the runtime is its only sender.
func (r *Runtime) Run() {
	defer close(r.done)
	defer close(r.out)
	defer r.cancel()

	init, err := r.awaitInit()
	if err != nil {
		r.fail(err)
		return
	}

	state, err := r.newState(init.AllowedEvents)
	if err != nil {
		r.fail(err)
		return
	}
	r.state = state
	defer state.Close()

	// Load the plugin's code. Top-level code may subscribe to events and
	// issue requests (e.g., registering commands) before acknowledging.
	if err := state.DoString(init.Entry); err != nil {
		r.fail(fmt.Errorf("entry execution: %w", err))
		return
	}

	if !r.send(Message{Kind: KindReady}) {
		return
	}

	r.loop()
}

func (r *Runtime) awaitInit() (Message, error) {
	select {
	case msg, ok := <-r.in:
		if !ok {
			return Message{}, errors.New("channel closed before init")
		}
		if msg.Kind != KindInit {
			return Message{}, fmt.Errorf("expected init, got %q", msg.Kind)
		}
		if msg.Entry == "" {
			return Message{}, errors.New("init carries no entry source")
		}
		return msg, nil
	case <-r.ctx.Done():
		return Message{}, r.ctx.Err()
	}
}

func (r *Runtime) loop() {
	for {
		// Events deferred while a request was awaiting its response are
		// processed before new inbound messages, preserving order.
		if len(r.pendingEvents) > 0 {
			msg := r.pendingEvents[0]
			r.pendingEvents = r.pendingEvents[1:]
			r.handleEvent(msg)
			continue
		}

		select {
		case msg, ok := <-r.in:
			if !ok {
				return
			}
			switch msg.Kind {
			case KindEvent:
				r.handleEvent(msg)
			case KindDispose:
				r.disposed = true
				return
			case KindInit:
				r.logger.Warn("duplicate init ignored")
			default:
				if msg.Kind.isResponse() {
					// Response for a request that already failed out.
					continue
				}
				r.logger.Warn("unexpected message kind in context", "kind", string(msg.Kind))
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// handleEvent calls the plugin's handler. Handler errors are contained: they
// are logged and the context keeps running.
func (r *Runtime) handleEvent(msg Message) {
	if r.disposed {
		return
	}

	handler := r.state.GetGlobal("on_event")
	if msg.Event == commandEventName {
		if onCommand := r.state.GetGlobal("on_command"); onCommand.Type() == lua.LTFunction {
			handler = onCommand
		}
	}
	if handler.Type() != lua.LTFunction {
		r.logger.Debug("plugin has no event handler", "event", msg.Event)
		return
	}

	payload, err := jsonToLua(r.state, msg.Payload)
	if err != nil {
		r.logger.Warn("dropping event with undecodable payload", "event", msg.Event, "error", err)
		return
	}

	if err := r.state.CallByParam(lua.P{
		Fn:      handler,
		NRet:    0,
		Protect: true,
	}, lua.LString(msg.Event), payload); err != nil {
		r.logger.Error("plugin event handler failed", "event", msg.Event, "error", err)
	}
}

// send delivers a message to the host, giving up on termination.
func (r *Runtime) send(msg Message) bool {
	select {
	case r.out <- msg:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// request issues a correlated request and blocks the context until its
// response arrives. Events arriving meanwhile are deferred, not dropped;
// disposal fails the request instead of leaving it pending.
func (r *Runtime) request(kind Kind, action string, payload json.RawMessage) (json.RawMessage, error) {
	if r.disposed {
		return nil, errDisposed
	}

	r.nextRequestID++
	id := r.nextRequestID

	if !r.send(Message{
		Kind:      kind,
		RequestID: id,
		Action:    action,
		Payload:   payload,
	}) {
		return nil, errDisposed
	}

	for {
		select {
		case msg, ok := <-r.in:
			if !ok {
				r.disposed = true
				return nil, errDisposed
			}
			switch {
			case msg.Kind.isResponse() && msg.RequestID == id:
				if !msg.Success {
					return nil, errors.New(msg.Error)
				}
				return msg.Result, nil
			case msg.Kind.isResponse():
				// Stale response from a request that already failed out.
			case msg.Kind == KindEvent:
				r.pendingEvents = append(r.pendingEvents, msg)
			case msg.Kind == KindDispose:
				r.disposed = true
				return nil, errDisposed
			default:
				r.logger.Warn("unexpected message kind during request", "kind", string(msg.Kind))
			}
		case <-r.ctx.Done():
			r.disposed = true
			return nil, errDisposed
		}
	}
}

// newState creates the sandboxed Lua state and installs the quilt API.
func (r *Runtime) newState(allowedEvents []string) (*lua.LState, error) {
	state := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range safeLibraries {
		if err := state.CallByParam(lua.P{
			Fn:      state.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			state.Close()
			return nil, fmt.Errorf("open library %s: %w", lib.name, err)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		state.SetGlobal(fn, lua.LNil)
	}

	// Cancelling the runtime context interrupts executing Lua code.
	state.SetContext(r.ctx)

	r.registerAPI(state, allowedEvents)
	return state, nil
}
