package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/p-arndt/pyexec/internal/config"
)

// TestConfig returns a Config with sensible test defaults rooted in a
// per-test temporary directory.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	return &config.Config{
		EnvsDir:               filepath.Join(base, "envs"),
		UVPath:                "uv",
		EnvPolicy:             config.PolicyLazy,
		ExecTimeoutSeconds:    30,
		MaxReadSize:           "10MiB",
		MaxReadBytes:          10 * 1024 * 1024,
		Transport:             config.TransportHTTP,
		Listen:                "127.0.0.1:0",
		APIKey:                "test-api-key",
		DBPath:                filepath.Join(base, "pyexec.db"),
		HistoryRetentionHours: 1,
		ReaperIntervalSeconds: 60,
		LogLevel:              "error",
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MCPRequest builds a JSON-RPC 2.0 POST to path the way a streamable-HTTP
// MCP client sends it, including the Accept header the transport requires.
func MCPRequest(t *testing.T, path string, id int, method string, params any) *http.Request {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		body["params"] = params
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	return req
}

// InitializeRequest is the MCP handshake request for path.
func InitializeRequest(t *testing.T, path string) *http.Request {
	t.Helper()
	return MCPRequest(t, path, 1, "initialize", map[string]any{
		"protocolVersion": "2025-06-18",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "pyexec-test", "version": "1.0"},
	})
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body: %s)", err, rec.Body.String())
	}
}
