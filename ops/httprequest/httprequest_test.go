package httprequest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowrunner/operation"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		ok     bool
	}{
		{"minimal", map[string]any{"url": "http://example.com"}, true},
		{"full", map[string]any{
			"url":     "https://example.com/api",
			"method":  "post",
			"headers": map[string]any{"X-Token": "abc"},
			"body":    map[string]any{"k": "v"},
		}, true},
		{"missing url", map[string]any{"method": "GET"}, false},
		{"bad scheme", map[string]any{"url": "ftp://example.com"}, false},
		{"bad method", map[string]any{"url": "http://example.com", "method": "YEET"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Op{}
			err := op.Validate(tt.params)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRunJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Token"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v", body["k"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"echo": true}`))
	}))
	defer srv.Close()

	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{
		"url":     srv.URL,
		"method":  "POST",
		"headers": map[string]any{"X-Token": "abc"},
		"body":    map[string]any{"k": "v"},
	}))

	res := op.Run(context.Background(), "test", nil, nil)
	require.Equal(t, operation.StatusOk, res.Status)

	output := res.Output.(map[string]any)
	assert.Equal(t, float64(200), output["status_code"])
	assert.Equal(t, map[string]any{"echo": true}, output["body"])
}

func TestRunTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("gone"))
	}))
	defer srv.Close()

	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{"url": srv.URL}))

	res := op.Run(context.Background(), "test", nil, nil)
	require.Equal(t, operation.StatusOk, res.Status, "HTTP errors are data, not failures")

	output := res.Output.(map[string]any)
	assert.Equal(t, float64(404), output["status_code"])
	assert.Equal(t, "gone", output["body"])
}

func TestRunRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{"url": srv.URL, "retries": 3}))

	res := op.Run(context.Background(), "test", nil, nil)
	require.Equal(t, operation.StatusOk, res.Status)
	assert.Equal(t, float64(200), res.Output.(map[string]any)["status_code"])
	assert.Equal(t, int32(3), hits.Load())
}

func TestRunTransportFailure(t *testing.T) {
	op := &Op{}
	require.NoError(t, op.Validate(map[string]any{
		"url":             "http://127.0.0.1:1",
		"retries":         0,
		"timeout_seconds": 1,
	}))

	res := op.Run(context.Background(), "test", nil, nil)
	assert.Equal(t, operation.StatusKo, res.Status)
	assert.NotEmpty(t, res.Error)
}
