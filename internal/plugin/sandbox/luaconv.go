// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package sandbox

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// maxConvDepth bounds table nesting when crossing the boundary, so a cyclic
// or absurdly deep table cannot hang the host.
const maxConvDepth = 32

// luaToJSON converts a Lua value to its JSON encoding.
func luaToJSON(lv lua.LValue) (json.RawMessage, error) {
	v, err := toGoValue(lv, 0)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// jsonToLua converts a JSON document to a Lua value on the given state.
func jsonToLua(state *lua.LState, raw json.RawMessage) (lua.LValue, error) {
	if len(raw) == 0 {
		return lua.LNil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return lua.LNil, fmt.Errorf("decode payload: %w", err)
	}
	return fromGoValue(state, v), nil
}

func toGoValue(lv lua.LValue, depth int) (any, error) {
	if depth > maxConvDepth {
		return nil, fmt.Errorf("payload nesting exceeds %d levels", maxConvDepth)
	}

	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		return float64(v), nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		return tableToGoValue(v, depth)
	default:
		return nil, fmt.Errorf("unsupported payload type %s", lv.Type())
	}
}

// tableToGoValue maps a Lua table to a JSON array when it has contiguous
// 1-based integer keys, and to a JSON object otherwise.
func tableToGoValue(t *lua.LTable, depth int) (any, error) {
	maxN := t.MaxN()
	if maxN > 0 {
		arr := make([]any, 0, maxN)
		for i := 1; i <= maxN; i++ {
			item, err := toGoValue(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]any)
	var convErr error
	t.ForEach(func(k, v lua.LValue) {
		if convErr != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			convErr = fmt.Errorf("unsupported table key type %s", k.Type())
			return
		}
		item, err := toGoValue(v, depth+1)
		if err != nil {
			convErr = err
			return
		}
		obj[string(key)] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return obj, nil
}

func fromGoValue(state *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := state.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, fromGoValue(state, item))
		}
		return t
	case map[string]any:
		t := state.NewTable()
		for k, item := range val {
			t.RawSetString(k, fromGoValue(state, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
