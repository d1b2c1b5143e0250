// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/command"
	"github.com/quiltchat/quilt/internal/matrix"
	"github.com/quiltchat/quilt/internal/plugin/sandbox"
)

// Request and response shapes for the privileged actions. These cross the
// sandbox boundary as JSON; field names are part of the plugin-facing API.

type sendMessageRequest struct {
	AccountID string `json:"account_id"`
	RoomID    string `json:"room_id"`
	Body      string `json:"body"`
	// Markdown renders Body to an HTML formatted body alongside the
	// plain-text fallback.
	Markdown bool `json:"markdown,omitempty"`
}

type sendEventRequest struct {
	AccountID string          `json:"account_id"`
	RoomID    string          `json:"room_id"`
	EventType string          `json:"event_type"`
	Content   json.RawMessage `json:"content"`
}

type redactEventRequest struct {
	AccountID string `json:"account_id"`
	RoomID    string `json:"room_id"`
	EventID   string `json:"event_id"`
	Reason    string `json:"reason,omitempty"`
}

type roomQueryRequest struct {
	AccountID string `json:"account_id"`
	RoomID    string `json:"room_id"`
	EventType string `json:"event_type,omitempty"`
	StateKey  string `json:"state_key,omitempty"`
}

type timerScheduleRequest struct {
	DelayMS int64           `json:"delay_ms"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type timerCancelRequest struct {
	TimerID string `json:"timer_id"`
}

type registerCommandRequest struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Help    string   `json:"help,omitempty"`
	Usage   string   `json:"usage,omitempty"`
}

type eventIDResponse struct {
	EventID string `json:"event_id"`
}

// InvokeAction performs one privileged operation on behalf of a plugin. The
// bridge has already authorized the action against the plugin's allow-list;
// this is pure dispatch plus input validation.
func (h *Host) InvokeAction(ctx context.Context, pluginID, action string, payload json.RawMessage) (json.RawMessage, error) {
	switch action {
	case sandbox.ActionSendMessage:
		return h.sendMessage(ctx, payload)
	case sandbox.ActionSendEvent:
		return h.sendEvent(ctx, payload)
	case sandbox.ActionRedactEvent:
		return h.redactEvent(ctx, payload)
	case sandbox.ActionMatrixMembers:
		return h.roomMembers(ctx, payload)
	case sandbox.ActionMatrixState:
		return h.roomState(ctx, payload)
	case sandbox.ActionTimerSchedule:
		return h.scheduleTimer(pluginID, payload)
	case sandbox.ActionTimerCancel:
		return h.cancelTimer(pluginID, payload)
	case sandbox.ActionRegisterCommand:
		return h.registerCommand(pluginID, payload)
	default:
		return nil, ErrUnknownAction(action)
	}
}

// session resolves an account id to its live session.
func (h *Host) session(accountID string) (matrix.Session, error) {
	if accountID == "" {
		return nil, ErrAccountNotFound("(empty)")
	}
	session, ok := h.accounts.Session(accountID)
	if !ok {
		return nil, ErrAccountNotFound(accountID)
	}
	return session, nil
}

func decodeRequest[T any](payload json.RawMessage) (T, error) {
	var req T
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, ErrValidation("", "malformed action payload: "+err.Error())
	}
	return req, nil
}

func (h *Host) sendMessage(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[sendMessageRequest](payload)
	if err != nil {
		return nil, err
	}
	session, err := h.session(req.AccountID)
	if err != nil {
		return nil, err
	}

	content := matrix.NewTextMessage(req.Body)
	if req.Markdown {
		html, err := matrix.RenderMarkdown(req.Body)
		if err == nil && html != "" {
			content = matrix.NewFormattedMessage(req.Body, html)
		}
	}

	eventID, err := session.SendMessage(ctx, req.RoomID, content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventIDResponse{EventID: eventID})
}

func (h *Host) sendEvent(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[sendEventRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.EventType == "" {
		return nil, ErrValidation("", "event_type is required")
	}
	session, err := h.session(req.AccountID)
	if err != nil {
		return nil, err
	}

	eventID, err := session.SendEvent(ctx, req.RoomID, req.EventType, req.Content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventIDResponse{EventID: eventID})
}

func (h *Host) redactEvent(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[redactEventRequest](payload)
	if err != nil {
		return nil, err
	}
	session, err := h.session(req.AccountID)
	if err != nil {
		return nil, err
	}

	redactionID, err := session.RedactEvent(ctx, req.RoomID, req.EventID, req.Reason)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventIDResponse{EventID: redactionID})
}

func (h *Host) roomMembers(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[roomQueryRequest](payload)
	if err != nil {
		return nil, err
	}
	session, err := h.session(req.AccountID)
	if err != nil {
		return nil, err
	}

	members, err := session.RoomMembers(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string][]matrix.RoomMember{"members": members})
}

func (h *Host) roomState(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[roomQueryRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.EventType == "" {
		return nil, ErrValidation("", "event_type is required")
	}
	session, err := h.session(req.AccountID)
	if err != nil {
		return nil, err
	}

	content, err := session.StateEvent(ctx, req.RoomID, req.EventType, req.StateKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]json.RawMessage{"content": content})
}

func (h *Host) scheduleTimer(pluginID string, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[timerScheduleRequest](payload)
	if err != nil {
		return nil, err
	}

	id, err := h.sched.Schedule(pluginID, time.Duration(req.DelayMS)*time.Millisecond, req.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"timer_id": id})
}

func (h *Host) cancelTimer(pluginID string, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[timerCancelRequest](payload)
	if err != nil {
		return nil, err
	}

	cancelled := h.sched.Cancel(pluginID, req.TimerID)
	return json.Marshal(map[string]bool{"cancelled": cancelled})
}

// registerCommand installs a command owned by the requesting plugin. The
// handler delivers a command event to the owning plugin's bridge, bypassing
// the subscription set: registering the command is the opt-in.
func (h *Host) registerCommand(pluginID string, payload json.RawMessage) (json.RawMessage, error) {
	req, err := decodeRequest[registerCommandRequest](payload)
	if err != nil {
		return nil, err
	}

	def := command.Definition{
		Name:    req.Name,
		Aliases: req.Aliases,
		Help:    req.Help,
		Usage:   req.Usage,
		Owner:   pluginID,
		Handler: h.commandHandler(pluginID),
	}
	if err := h.commands.Register(def); err != nil {
		return nil, err
	}

	h.logger.Info("command registered", "command", req.Name, "plugin", pluginID)
	return json.RawMessage(`{}`), nil
}

func (h *Host) commandHandler(pluginID string) command.Handler {
	return func(ctx context.Context, inv command.Invocation) (string, error) {
		h.mu.RLock()
		handle, ok := h.handles[pluginID]
		h.mu.RUnlock()
		if !ok || handle.bridge == nil {
			return "", ErrContextFailure(pluginID, nil)
		}

		body, err := json.Marshal(inv)
		if err != nil {
			return "", err
		}
		return "", handle.bridge.DeliverCommand(ctx, body)
	}
}

// RegisterAccount binds an account and announces it to subscribed plugins.
func (h *Host) RegisterAccount(ctx context.Context, meta account.Metadata, session matrix.Session) {
	h.accounts.Register(meta, session)
	_ = h.Emit(ctx, EventAccount, map[string]any{
		"change":  "registered",
		"account": meta,
	})
}

// UpdateAccount replaces an account's metadata in place and announces the
// change. Updating an unknown account changes nothing and announces nothing.
func (h *Host) UpdateAccount(ctx context.Context, meta account.Metadata) {
	if !h.accounts.Update(meta) {
		return
	}
	_ = h.Emit(ctx, EventAccount, map[string]any{
		"change":  "updated",
		"account": meta,
	})
}

// UnregisterAccount detaches an account and announces the removal.
func (h *Host) UnregisterAccount(ctx context.Context, accountID string) {
	h.accounts.Unregister(accountID)
	_ = h.Emit(ctx, EventAccount, map[string]any{
		"change":     "unregistered",
		"account_id": accountID,
	})
}

// Accounts returns the registered account metadata, ordered by id.
func (h *Host) Accounts() []account.Metadata {
	return h.accounts.List()
}
