package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// WebhookName is the registry name of the fire-and-forget receiver.
const WebhookName = "webhook"

// WebhookOp accepts POSTs on one path, emits each body as a flow
// message and immediately answers 202. No reply is awaited.
type WebhookOp struct {
	operation.Base

	addr string
	path string

	listenAddr chan string
}

// RegisterWebhook adds the operation to reg.
func RegisterWebhook(reg *operation.Registry) {
	reg.Register(WebhookName, func() operation.Operation { return &WebhookOp{} })
}

// Metadata implements operation.Operation.
func (o *WebhookOp) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:        WebhookName,
		Version:     "1.0.0",
		Description: "Accepts webhooks and emits them as messages",
	}
}

// Validate implements operation.Operation.
func (o *WebhookOp) Validate(params map[string]any) error {
	addr, err := operation.RequiredString(params, "addr")
	if err != nil {
		return err
	}
	path := operation.StringOr(params, "path", "/webhook")
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path must start with /")
	}

	o.Params = params
	o.addr = addr
	o.path = path
	o.listenAddr = make(chan string, 1)
	return nil
}

// Addr blocks until the server is bound and reports its address.
func (o *WebhookOp) Addr() string {
	return <-o.listenAddr
}

// Run implements operation.Operation.
func (o *WebhookOp) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	logger := slog.With("source", sender, "addr", o.addr)

	listener, err := net.Listen("tcp", o.addr)
	if err != nil {
		return operation.Ko(fmt.Errorf("listen %s: %w", o.addr, err))
	}
	o.listenAddr <- listener.Addr().String()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Post(o.path, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		var payload any
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "body must be JSON")
				return
			}
		}

		msg := message.NewWithSender(uuid.NewString(), sender, o.path, payload)
		message.Broadcast(r.Context(), logger, outbound, msg)
		w.WriteHeader(http.StatusAccepted)
	})

	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	logger.Info("Webhook source listening", "path", o.path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return operation.Ok(nil)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return operation.Ok(nil)
		}
		return operation.Ko(fmt.Errorf("serve: %w", err))
	}
}
