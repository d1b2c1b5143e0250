// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package sandbox

import (
	"encoding/json"

	lua "github.com/yuin/gopher-lua"
)

// commandEventName is the event delivered to a plugin when one of its
// registered commands is invoked. It is not part of the subscribable
// enumeration; it reaches only the owning plugin.
const commandEventName = "command"

// registerAPI installs the quilt table: the only surface the plugin code can
// reach the host through. Every function translates to protocol messages;
// nothing here touches host state directly.
func (r *Runtime) registerAPI(state *lua.LState, allowedEvents []string) {
	mod := state.NewTable()

	state.SetField(mod, "log", state.NewFunction(r.logFn()))
	state.SetField(mod, "subscribe", state.NewFunction(r.subscribeFn(allowedEvents)))
	state.SetField(mod, "request", state.NewFunction(r.requestFn(KindActionRequest)))
	state.SetField(mod, "matrix_request", state.NewFunction(r.requestFn(KindMatrixRequest)))
	state.SetField(mod, "storage_get", state.NewFunction(r.storageGetFn()))
	state.SetField(mod, "storage_set", state.NewFunction(r.storageSetFn()))
	state.SetField(mod, "storage_delete", state.NewFunction(r.storageDeleteFn()))
	state.SetField(mod, "register_command", state.NewFunction(r.registerCommandFn()))

	allowed := state.NewTable()
	for i, name := range allowedEvents {
		allowed.RawSetInt(i+1, lua.LString(name))
	}
	state.SetField(mod, "allowed_events", allowed)

	state.SetGlobal("quilt", mod)
}

// logFn routes plugin log lines into the host's structured logger.
func (r *Runtime) logFn() lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		switch level {
		case "debug":
			r.logger.Debug(message)
		case "warn":
			r.logger.Warn(message)
		case "error":
			r.logger.Error(message)
		default:
			r.logger.Info(message)
		}
		return 0
	}
}

// subscribeFn sends a subscribe message. Subscribing to an event outside the
// manifest's allowed list raises a Lua error at the call site so the plugin
// author sees the mistake immediately.
func (r *Runtime) subscribeFn(allowedEvents []string) lua.LGFunction {
	allowed := make(map[string]bool, len(allowedEvents))
	for _, name := range allowedEvents {
		allowed[name] = true
	}

	return func(L *lua.LState) int {
		name := L.CheckString(1)
		if !allowed[name] {
			L.RaiseError("event %q is not in the plugin's allowed events", name)
			return 0
		}
		if !r.send(Message{Kind: KindSubscribe, Event: name}) {
			L.RaiseError("context disposed")
			return 0
		}
		return 0
	}
}

// requestFn issues a correlated request of the given kind.
// Lua: result, err = quilt.request(action, payload_table)
func (r *Runtime) requestFn(kind Kind) lua.LGFunction {
	return func(L *lua.LState) int {
		action := L.CheckString(1)

		var payload json.RawMessage
		if L.GetTop() >= 2 {
			var err error
			payload, err = luaToJSON(L.Get(2))
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
		}

		result, err := r.request(kind, action, payload)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		lv, err := jsonToLua(L, result)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lv)
		L.Push(lua.LNil)
		return 2
	}
}

// storageGetFn reads one key from the plugin's namespace.
// Lua: value, err = quilt.storage_get(key); value is nil when absent.
func (r *Runtime) storageGetFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		payload, _ := json.Marshal(map[string]string{"key": key})
		result, err := r.request(KindStorageRequest, ActionStorageGet, payload)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}

		var resp struct {
			Value *string `json:"value"`
		}
		if err := json.Unmarshal(result, &resp); err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		if resp.Value == nil {
			L.Push(lua.LNil)
			L.Push(lua.LNil)
			return 2
		}
		L.Push(lua.LString(*resp.Value))
		L.Push(lua.LNil)
		return 2
	}
}

// storageSetFn writes one key in the plugin's namespace.
// Lua: err = quilt.storage_set(key, value)
func (r *Runtime) storageSetFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)

		payload, _ := json.Marshal(map[string]string{"key": key, "value": value})
		if _, err := r.request(KindStorageRequest, ActionStorageSet, payload); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// storageDeleteFn removes one key from the plugin's namespace.
// Lua: err = quilt.storage_delete(key)
func (r *Runtime) storageDeleteFn() lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)

		payload, _ := json.Marshal(map[string]string{"key": key})
		if _, err := r.request(KindStorageRequest, ActionStorageDelete, payload); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}

// registerCommandFn registers a chat command owned by this plugin.
// Lua: err = quilt.register_command{name="/echo", aliases={"/e"}, help="...", usage="..."}
func (r *Runtime) registerCommandFn() lua.LGFunction {
	return func(L *lua.LState) int {
		spec := L.CheckTable(1)

		payload, err := luaToJSON(spec)
		if err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		if _, err := r.request(KindActionRequest, ActionRegisterCommand, payload); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}
