// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

func dialWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env map[string]interface{}
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

func TestHandleStreamWebSocket_GreetsWithObserverIDAndAllocation(t *testing.T) {
	eng := newTestEngine(t)
	router := gin.New()
	router.GET("/v1/stream/ws", HandleStreamWebSocket(eng))
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialWS(t, server, "/v1/stream/ws")

	env := readEnvelope(t, ws)
	assert.Equal(t, datatypes.MsgConnected, env["type"])
	payload, ok := env["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, payload["observer_id"])
	assert.Equal(t, 0.5, payload["allocation"])
}

func TestHandleStreamWebSocket_SetAllocationActionFansOut(t *testing.T) {
	eng := newTestEngine(t)
	router := gin.New()
	router.GET("/v1/stream/ws", HandleStreamWebSocket(eng))
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialWS(t, server, "/v1/stream/ws")
	readEnvelope(t, ws) // connected greeting

	alloc := 0.7
	require.NoError(t, ws.WriteJSON(datatypes.OperatorRequest{
		Type:       datatypes.ActionSetAllocation,
		Allocation: &alloc,
	}))

	env := readEnvelope(t, ws)
	assert.Equal(t, datatypes.MsgAllocationUpdate, env["type"])
	payload := env["payload"].(map[string]interface{})
	assert.Equal(t, 0.7, payload["allocation"])
	assert.Equal(t, string(datatypes.SourceOperator), payload["source"])
}

func TestHandleStreamWebSocket_UnknownActionKeepsConnectionAlive(t *testing.T) {
	eng := newTestEngine(t)
	router := gin.New()
	router.GET("/v1/stream/ws", HandleStreamWebSocket(eng))
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialWS(t, server, "/v1/stream/ws")
	readEnvelope(t, ws)

	require.NoError(t, ws.WriteJSON(datatypes.OperatorRequest{Type: "self_destruct"}))

	// The connection survives: a follow-up action still works.
	alloc := 0.2
	require.NoError(t, ws.WriteJSON(datatypes.OperatorRequest{
		Type:       datatypes.ActionSetAllocation,
		Allocation: &alloc,
	}))
	env := readEnvelope(t, ws)
	assert.Equal(t, datatypes.MsgAllocationUpdate, env["type"])
}

func TestHandleCommandsWebSocket_StreamsDispatchedCommands(t *testing.T) {
	eng := newTestEngine(t)
	router := gin.New()
	router.GET("/v1/commands/ws", HandleCommandsWebSocket(eng))
	server := httptest.NewServer(router)
	defer server.Close()

	ws := dialWS(t, server, "/v1/commands/ws")

	v := 0.3
	require.NoError(t, eng.Dispatcher().Dispatch(datatypes.AnomalyDecision{
		ID:            "dec-1",
		EntityID:      "worker",
		Action:        datatypes.ActionThrottleCPU,
		ThrottleValue: &v,
	}))

	msg := readEnvelope(t, ws)
	assert.Equal(t, "worker", msg["entity_id"])
	assert.Equal(t, string(datatypes.ActionThrottleCPU), msg["action"])
	assert.Equal(t, "throttle:worker:0.3", msg["command"])
	assert.Equal(t, 0.3, msg["value"])
}

func TestHandleStreamWebSocket_ApplyFixOverSocket(t *testing.T) {
	eng := newTestEngine(t)
	router := gin.New()
	router.GET("/v1/stream/ws", HandleStreamWebSocket(eng))
	server := httptest.NewServer(router)
	defer server.Close()

	// Open a decision by running a cycle over breaching telemetry.
	eng.Buffer().Ingest(datatypes.MetricSample{
		EntityID: "worker", DisplayName: "worker", CPUPercent: 97, MemMB: 400, ObservedAt: time.Now(),
	})
	eng.Cycle(context.Background())
	decision, ok := eng.Decisions().OpenDecision("worker")
	require.True(t, ok)

	ws := dialWS(t, server, "/v1/stream/ws")
	readEnvelope(t, ws)

	override := 0.25
	require.NoError(t, ws.WriteJSON(datatypes.OperatorRequest{
		Type:          datatypes.ActionApplyFix,
		DecisionID:    decision.ID,
		ThrottleValue: &override,
	}))

	// The fix lands asynchronously; poll the feedback store.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, err := eng.Feedback().Lookup("worker")
		require.NoError(t, err)
		if rec.UsualThrottleValue != nil {
			assert.Equal(t, 0.25, *rec.UsualThrottleValue)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("apply_fix never reached the feedback store")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
