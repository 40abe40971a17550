// Package httpserver implements the request/response HTTP source: each
// configured route turns a request into a flow message, waits for the
// owning job's reply and answers with a selected slice of the result.
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
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/c360studio/flowrunner/jsonmap"
	"github.com/c360studio/flowrunner/message"
	"github.com/c360studio/flowrunner/operation"
)

// Name is the registry name of the operation.
const Name = "httpserver"

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

type route struct {
	path    string
	method  string
	job     string
	task    string
	payload string
}

// Op serves configured routes until the context ends. It is
// bidirectional: replies from jobs arrive on its inbound endpoint and
// are matched to waiting requests by UUID.
type Op struct {
	operation.Base

	addr    string
	routes  []route
	timeout time.Duration

	mu      sync.Mutex
	actual  string
	pending map[string]*waiter
}

type waiter struct {
	job string
	ch  chan message.Message
}

// Register adds the operation to reg.
func Register(reg *operation.Registry) {
	reg.Register(Name, func() operation.Operation { return &Op{} })
}

// Metadata implements operation.Operation.
func (o *Op) Metadata() operation.Metadata {
	return operation.Metadata{
		Name:          Name,
		Version:       "1.0.0",
		Description:   "Serves HTTP routes backed by flow jobs",
		Bidirectional: true,
	}
}

// Validate implements operation.Operation.
func (o *Op) Validate(params map[string]any) error {
	addr, err := operation.RequiredString(params, "addr")
	if err != nil {
		return err
	}
	rawRoutes, ok := operation.ListParam(params, "routes")
	if !ok || len(rawRoutes) == 0 {
		return fmt.Errorf("param %q is required", "routes")
	}

	routes := make([]route, 0, len(rawRoutes))
	for i, item := range rawRoutes {
		m, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("routes[%d] must be a mapping", i)
		}
		path, err := operation.RequiredString(m, "path")
		if err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("routes[%d]: path must start with /", i)
		}
		result, ok := m["result"].(map[string]any)
		if !ok {
			return fmt.Errorf("routes[%d]: %q mapping is required", i, "result")
		}
		job, err := operation.RequiredString(result, "job")
		if err != nil {
			return fmt.Errorf("routes[%d].result: %w", i, err)
		}
		task, err := operation.RequiredString(result, "task")
		if err != nil {
			return fmt.Errorf("routes[%d].result: %w", i, err)
		}
		routes = append(routes, route{
			path:    path,
			method:  strings.ToUpper(operation.StringOr(m, "method", http.MethodPost)),
			job:     job,
			task:    task,
			payload: operation.StringOr(result, "payload", ""),
		})
	}

	o.Params = params
	o.addr = addr
	o.routes = routes
	o.timeout = operation.DurationOr(params, "timeout_seconds", defaultTimeout)
	o.pending = map[string]*waiter{}
	return nil
}

// Addr reports the bound listen address once the server is up.
func (o *Op) Addr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actual
}

// Run implements operation.Operation.
func (o *Op) Run(ctx context.Context, sender string, inbound, outbound []*message.Chan) operation.Result {
	if len(inbound) == 0 {
		return operation.Kof("httpserver needs an inbound reply channel")
	}
	logger := slog.With("source", sender, "addr", o.addr)

	listener, err := net.Listen("tcp", o.addr)
	if err != nil {
		return operation.Ko(fmt.Errorf("listen %s: %w", o.addr, err))
	}
	o.mu.Lock()
	o.actual = listener.Addr().String()
	o.mu.Unlock()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	for _, rt := range o.routes {
		rt := rt
		router.Method(rt.method, rt.path, o.handler(ctx, sender, rt, outbound, logger))
	}

	// Dispatcher: route job replies to the request waiting on the UUID.
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for {
			msg, err := inbound[0].Recv(ctx)
			if err != nil {
				return
			}
			o.dispatch(msg)
		}
	}()

	server := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	logger.Info("HTTP source listening", "routes", len(o.routes))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		<-dispatchDone
		return operation.Ok(nil)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return operation.Ok(nil)
		}
		return operation.Ko(fmt.Errorf("serve: %w", err))
	}
}

func (o *Op) dispatch(msg message.Message) {
	o.mu.Lock()
	w, ok := o.pending[msg.UUID]
	if ok && w.job == msg.Sender {
		delete(o.pending, msg.UUID)
	} else {
		// A reply from another job sharing the UUID; not ours.
		w = nil
	}
	o.mu.Unlock()
	if w != nil {
		w.ch <- msg
	}
}

func (o *Op) await(id, job string) *waiter {
	w := &waiter{job: job, ch: make(chan message.Message, 1)}
	o.mu.Lock()
	o.pending[id] = w
	o.mu.Unlock()
	return w
}

func (o *Op) abandon(id string) {
	o.mu.Lock()
	delete(o.pending, id)
	o.mu.Unlock()
}

func (o *Op) handler(ctx context.Context, sender string, rt route, outbound []*message.Chan, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload any
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, "body must be JSON")
				return
			}
		}

		id := uuid.NewString()
		waiter := o.await(id, rt.job)
		defer o.abandon(id)

		msg := message.NewWithSender(id, sender, rt.path, map[string]any{
			"route":   rt.path,
			"method":  rt.method,
			"payload": payload,
		})
		if delivered := message.Broadcast(r.Context(), logger, outbound, msg); delivered == 0 {
			writeError(w, http.StatusServiceUnavailable, "no job available")
			return
		}

		select {
		case reply := <-waiter.ch:
			o.respond(w, rt, reply)
		case <-time.After(o.timeout):
			writeError(w, http.StatusGatewayTimeout, "timed out waiting for result")
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "shutting down")
		case <-r.Context().Done():
		}
	}
}

// respond selects result[task].output[payload] from the job reply.
// Shape mismatches are client-visible errors: the flow produced no
// value at the configured location.
func (o *Op) respond(w http.ResponseWriter, rt route, reply message.Message) {
	taskResult := jsonmap.Get(reply.Value, rt.task)
	if taskResult == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no result for task %q", rt.task))
		return
	}
	selected := jsonmap.Get(taskResult, "output")
	if rt.payload != "" {
		selected = jsonmap.Get(taskResult, "output."+rt.payload)
	}
	if selected == nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no payload %q in task %q output", rt.payload, rt.task))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(selected)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
