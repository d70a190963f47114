// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
	"github.com/AleutianAI/AleutianWatch/services/engine/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleStreamWebSocket serves one observer: engine events flow out,
// operator actions flow in. The observer's queue decouples it from the
// broadcast path; falling too far behind drops the connection rather
// than stalling the engine.
func HandleStreamWebSocket(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		obs := eng.Hub().Register()
		defer eng.Hub().Unregister(obs.ID)
		observability.Default().ConnectedObservers.Inc()
		defer observability.Default().ConnectedObservers.Dec()
		slog.Info("stream observer connected", "observer", obs.ID)

		if err := sendJSON(ws, datatypes.StreamEnvelope{
			Type:    datatypes.MsgConnected,
			Payload: gin.H{"observer_id": obs.ID, "allocation": eng.Allocator().Current()},
		}); err != nil {
			return
		}

		// Writer pump: hub queue to socket.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for raw := range obs.C {
				if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
			}
		}()

		// Reader loop: operator actions.
		for {
			var req datatypes.OperatorRequest
			if err := ws.ReadJSON(&req); err != nil {
				slog.Info("stream observer disconnected", "observer", obs.ID, "error", err.Error())
				break
			}
			handleOperatorRequest(eng, obs.ID, req)
		}

		eng.Hub().Unregister(obs.ID)
		<-done
	}
}

// handleOperatorRequest applies one operator action frame. Unknown
// types and stale decision ids are logged no-ops, never errors back to
// the socket.
func handleOperatorRequest(eng *engine.Engine, observerID string, req datatypes.OperatorRequest) {
	switch req.Type {
	case datatypes.ActionApplyFix:
		if req.DecisionID == "" {
			slog.Warn("apply_fix without decision id", "observer", observerID)
			return
		}
		if eng.ApplyFix(req.DecisionID, req.Command, req.ThrottleValue) {
			slog.Info("operator applied fix", "observer", observerID, "decision", req.DecisionID)
		}
	case datatypes.ActionDismiss:
		if req.DecisionID == "" {
			slog.Warn("dismiss without decision id", "observer", observerID)
			return
		}
		if eng.Dismiss(req.DecisionID) {
			slog.Info("operator dismissed anomaly", "observer", observerID, "decision", req.DecisionID)
		}
	case datatypes.ActionSetAllocation:
		if req.Allocation == nil {
			slog.Warn("set_allocation without value", "observer", observerID)
			return
		}
		eng.SetAllocation(*req.Allocation)
	default:
		slog.Warn("unknown operator action", "observer", observerID, "type", req.Type)
	}
}

// HandleCommandsWebSocket streams dispatched commands to the connected
// collector. One collector consumes the command channel; delivery
// assurance past this socket is the collector transport's problem.
func HandleCommandsWebSocket(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		slog.Info("collector command channel connected")

		// Drain reads so pings and close frames are processed.
		go func() {
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-eng.Dispatcher().Commands():
				payload := gin.H{
					"entity_id": cmd.EntityID,
					"action":    cmd.Action,
					"command":   cmd.Encode(),
				}
				if cmd.Value != nil {
					payload["value"] = *cmd.Value
				}
				if err := sendJSON(ws, payload); err != nil {
					slog.Info("collector command channel disconnected")
					return
				}
			}
		}
	}
}
