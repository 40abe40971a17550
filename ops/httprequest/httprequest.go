// Package httprequest implements the http-request operation: an
// outbound HTTP call with retries, returning status, headers and a
// JSON-decoded body when the response is JSON.
package httprequest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "http-request"

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 2
	maxBodyBytes   = 10 << 20
)

// Op performs one HTTP request per run.
type Op struct {
	operation.Base

	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
	retries int
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Performs an HTTP request with retries",
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	url, err := operation.RequiredString(params, "url")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("url must be http(s), got %q", url)
	}

	method := strings.ToUpper(operation.StringOr(params, "method", http.MethodGet))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		return fmt.Errorf("unsupported method %q", method)
	}

	var body []byte
	if raw, ok := params["body"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = []byte(v)
		default:
			body, err = json.Marshal(v)
			if err != nil {
				return fmt.Errorf("body is not serialisable: %w", err)
			}
		}
	}

	o.Params = params
	o.url = url
	o.method = method
	o.headers = operation.StringMap(params, "headers")
	o.body = body
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	o.retries = operation.IntOr(params, "retries", defaultRetries)
	return nil
}

// Run implements operation.Operation. Transport failures are Ko; an
// HTTP error status is reported in the output, not as a failure, so
// flows can branch on status_code.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	client := retryablehttp.NewClient()
	client.RetryMax = o.retries
	client.HTTPClient.Timeout = o.timeout
	client.Logger = nil

	var reqBody io.Reader
	if len(o.body) > 0 {
		reqBody = bytes.NewReader(o.body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, o.method, o.url, reqBody)
	if err != nil {
		return operation.Ko(fmt.Errorf("build request: %w", err))
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	if len(o.body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return operation.Ko(fmt.Errorf("%s %s: %w", o.method, o.url, err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return operation.Ko(fmt.Errorf("read response body: %w", err))
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return operation.Ok(map[string]any{
		"status_code": float64(resp.StatusCode),
		"headers":     headers,
		"body":        decodeBody(resp.Header.Get("Content-Type"), data),
	})
}

// decodeBody parses JSON responses into a value tree and leaves
// everything else as text.
func decodeBody(contentType string, data []byte) any {
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v
		}
	}
	return string(data)
}
