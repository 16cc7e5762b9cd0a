package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/naohq/queryguard/settings"
)

func TestSettingsHandler_GetReturnsDefaults(t *testing.T) {
	env := setupHandlerEnv(t)
	h := NewSettingsHandler(env.svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/settings", nil)
	rec := httptest.NewRecorder()
	h.HandleSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    settings.Settings `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, settings.Default(), resp.Data)
}

func TestSettingsHandler_PutClampsAndPersists(t *testing.T) {
	env := setupHandlerEnv(t)
	h := NewSettingsHandler(env.svc, zap.NewNop())

	in := settings.Default()
	in.MaxQueryLength = 999999
	data, err := json.Marshal(in)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/p1/settings", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	h.HandleSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data settings.Settings `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, settings.MaxQueryLength, resp.Data.MaxQueryLength)

	// GET 回读与 PUT 响应一致
	req = httptest.NewRequest(http.MethodGet, "/api/v1/projects/p1/settings", nil)
	rec = httptest.NewRecorder()
	h.HandleSettings(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Data settings.Settings `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, resp.Data, got.Data)
}

func TestSettingsHandler_PutPartialBodyKeepsOtherFields(t *testing.T) {
	env := setupHandlerEnv(t)
	h := NewSettingsHandler(env.svc, zap.NewNop())

	// 只改一个字段，其余开关必须保持现值而不是归零
	req := httptest.NewRequest(http.MethodPut, "/api/v1/projects/p1/settings",
		bytes.NewReader([]byte(`{"max_query_length": 200}`)))
	rec := httptest.NewRecorder()
	h.HandleSettings(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data settings.Settings `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 200, resp.Data.MaxQueryLength)
	assert.True(t, resp.Data.EnablePromptInjectionDetection)
	assert.True(t, resp.Data.EnablePIIDetection)
	assert.True(t, resp.Data.BlockOnError)
	assert.True(t, resp.Data.RateLimitEnabled)

	// 再改另一个字段，前一次的改动仍然在
	req = httptest.NewRequest(http.MethodPut, "/api/v1/projects/p1/settings",
		bytes.NewReader([]byte(`{"enable_profanity_filter": true}`)))
	rec = httptest.NewRecorder()
	h.HandleSettings(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.EnableProfanityFilter)
	assert.Equal(t, 200, resp.Data.MaxQueryLength)
}

func TestSettingsHandler_BadPath(t *testing.T) {
	env := setupHandlerEnv(t)
	h := NewSettingsHandler(env.svc, zap.NewNop())

	for _, path := range []string{
		"/api/v1/projects//settings",
		"/api/v1/projects/p1/other",
		"/api/v1/projects/a/b/settings",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.HandleSettings(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s", path)
	}
}

func TestSettingsHandler_MethodNotAllowed(t *testing.T) {
	env := setupHandlerEnv(t)
	h := NewSettingsHandler(env.svc, zap.NewNop())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/projects/p1/settings", nil)
	rec := httptest.NewRecorder()
	h.HandleSettings(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, PUT", rec.Header().Get("Allow"))
}

func TestProjectIDFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/projects/p1/settings", "p1"},
		{"/api/v1/projects/team-42/settings", "team-42"},
		{"/api/v1/projects//settings", ""},
		{"/api/v1/projects/p1", ""},
		{"/other", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, projectIDFromPath(tt.path), "path %s", tt.path)
	}
}
