// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianWatch/services/advisor"
	"github.com/AleutianAI/AleutianWatch/services/engine"
	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, err := engine.OpenInMemoryFeedbackStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	eng := engine.New(engine.Options{
		Context:  datatypes.DefaultContext(),
		Advisor:  advisor.NewRuleAdvisor(),
		Feedback: store,
	})
	t.Cleanup(eng.Hub().Close)

	router := gin.New()
	SetupRoutes(router, eng, advisor.NewRuleAdvisor())
	return router
}

func TestSetupRoutes_RegistersAllSurfaces(t *testing.T) {
	router := newTestRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/telemetry"},
		{"GET", "/v1/metrics/snapshot"},
		{"GET", "/v1/context"},
		{"PUT", "/v1/context"},
		{"PUT", "/v1/allocation"},
		{"POST", "/v1/anomaly/rephrase"},
		{"GET", "/v1/stream/ws"},
		{"GET", "/v1/commands/ws"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_HealthAndMetricsServe(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "GET %s", path)
	}
}

func TestSetupRoutes_UnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/nope", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
