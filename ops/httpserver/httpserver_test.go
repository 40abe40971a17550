package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

func routesParam(payload string) map[string]any {
	return map[string]any{
		"addr": "127.0.0.1:0",
		"routes": []any{
			map[string]any{
				"path": "/orders",
				"result": map[string]any{
					"job":     "orders",
					"task":    "create",
					"payload": payload,
				},
			},
		},
		"timeout_seconds": 2,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{"missing addr", map[string]any{"routes": []any{}}},
		{"missing routes", map[string]any{"addr": ":0"}},
		{"route without path", map[string]any{
			"addr":   ":0",
			"routes": []any{map[string]any{"result": map[string]any{"job": "j", "task": "t"}}},
		}},
		{"relative path", map[string]any{
			"addr":   ":0",
			"routes": []any{map[string]any{"path": "orders", "result": map[string]any{"job": "j", "task": "t"}}},
		}},
		{"route without result", map[string]any{
			"addr":   ":0",
			"routes": []any{map[string]any{"path": "/orders"}},
		}},
		{"result without job", map[string]any{
			"addr":   ":0",
			"routes": []any{map[string]any{"path": "/orders", "result": map[string]any{"task": "t"}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, (&Op{}).Validate(tt.params))
		})
	}

	assert.NoError(t, (&Op{}).Validate(routesParam("id")))
}

// startServer runs the op with a fake job behind it. answer builds the
// job's result map from the request value; a nil answer leaves requests
// unanswered.
func startServer(t *testing.T, payload string, answer func(value any) map[string]any) string {
	t.Helper()

	op := &Op{}
	require.NoError(t, op.Validate(routesParam(payload)))

	reply := message.NewChan("reply", 8)
	jobIn := message.NewChan("job", 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan operation.Result, 1)
	go func() {
		done <- op.Run(ctx, "api", []*message.Chan{reply}, []*message.Chan{jobIn})
	}()
	t.Cleanup(func() {
		cancel()
		reply.Close()
		res := <-done
		assert.Equal(t, operation.StatusOk, res.Status, res.Error)
	})

	go func() {
		for {
			msg, err := jobIn.Recv(ctx)
			if err != nil {
				return
			}
			if answer == nil {
				continue
			}
			out := message.NewWithSender(msg.UUID, "orders", "", answer(msg.Value))
			_ = reply.Send(ctx, out)
		}
	}()

	require.Eventually(t, func() bool { return op.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	return op.Addr()
}

func TestRequestResponse(t *testing.T) {
	addr := startServer(t, "id", func(value any) map[string]any {
		payload := value.(map[string]any)["payload"].(map[string]any)
		return map[string]any{
			"create": map[string]any{
				"status": "Ok",
				"error":  "",
				"output": map[string]any{"id": "order-1", "sku": payload["sku"]},
			},
		}
	})

	resp, err := http.Post(
		fmt.Sprintf("http://%s/orders", addr),
		"application/json",
		bytes.NewBufferString(`{"sku": "ABC"}`),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "order-1", body)
}

func TestWholeOutputWhenNoPayload(t *testing.T) {
	addr := startServer(t, "", func(any) map[string]any {
		return map[string]any{
			"create": map[string]any{
				"status": "Ok",
				"error":  "",
				"output": map[string]any{"id": "order-2"},
			},
		}
	})

	resp, err := http.Post(fmt.Sprintf("http://%s/orders", addr), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "order-2", body["id"])
}

func TestBadResultShape(t *testing.T) {
	addr := startServer(t, "id", func(any) map[string]any {
		return map[string]any{"unrelated": map[string]any{}}
	})

	resp, err := http.Post(fmt.Sprintf("http://%s/orders", addr), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTimeout(t *testing.T) {
	addr := startServer(t, "id", nil)

	resp, err := http.Post(fmt.Sprintf("http://%s/orders", addr), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestNonJSONBody(t *testing.T) {
	addr := startServer(t, "id", nil)

	resp, err := http.Post(
		fmt.Sprintf("http://%s/orders", addr),
		"text/plain",
		bytes.NewBufferString("not json"),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
