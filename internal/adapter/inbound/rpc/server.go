// Package rpc exposes the daemon's JSON-RPC 2.0 front end.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agen-co/agenshield/internal/domain/event"
	"github.com/agen-co/agenshield/internal/service"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// Authentication headers. The broker token is authoritative; the profile
// id header is consulted only when no token is present.
const (
	BrokerTokenHeader = "x-shield-broker-token"
	ProfileIDHeader   = "x-shield-profile-id"
)

// JSON-RPC error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInternal       = -32000
	codeBadToken       = -32001
)

// Server is the inbound JSON-RPC adapter. It serves POST /rpc plus
// /healthz and /metrics, and resolves caller profiles from headers.
type Server struct {
	decisions *service.DecisionService
	tokens    *service.TokenCache
	bus       *event.Bus

	addr     string
	logger   *slog.Logger
	registry prometheus.Registerer
	gatherer prometheus.Gatherer
	poolSize func() int
	client   *http.Client
	metrics  *Metrics

	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:47850".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRegistry sets the Prometheus registry backing /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
		s.gatherer = reg
	}
}

// WithPoolSizeFunc wires the proxy pool size gauge.
func WithPoolSizeFunc(f func() int) Option {
	return func(s *Server) { s.poolSize = f }
}

// WithHTTPClient sets the client used for daemon-side http_request
// forwarding. Mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.client = c }
}

// NewServer creates the JSON-RPC front end.
func NewServer(decisions *service.DecisionService, tokens *service.TokenCache, bus *event.Bus, opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		decisions: decisions,
		tokens:    tokens,
		bus:       bus,
		addr:      "127.0.0.1:47850",
		logger:    slog.Default(),
		registry:  reg,
		gatherer:  reg,
		poolSize:  func() int { return 0 },
		client:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = NewMetrics(s.registry, s.poolSize, bus.Drops)
	return s
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting RPC server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down RPC server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during RPC server shutdown", "error", err)
		return err
	}
	return nil
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	return s.shutdown()
}

// handleRPC serves POST /rpc. A request never produces a panic escape or
// an HTTP-level error for protocol faults; everything is reported as a
// JSON-RPC error object.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, nil, codeInvalidRequest, "malformed request: cannot read body")
		return
	}

	id := rawID(body)

	msg, err := jsonrpc.DecodeMessage(body)
	if err != nil {
		writeError(w, id, codeInvalidRequest, "malformed request: "+err.Error())
		return
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || req.Method == "" {
		writeError(w, id, codeInvalidRequest, "malformed request: not a JSON-RPC request")
		return
	}

	profileID, err := s.resolveProfile(r)
	if err != nil {
		writeError(w, id, codeBadToken, "unknown broker token")
		return
	}

	start := time.Now()
	status := s.dispatch(w, r, req, id, profileID)
	s.metrics.RPCRequestsTotal.WithLabelValues(req.Method, status).Inc()
	s.metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
}

// dispatch routes a decoded request to its method handler and returns a
// status label for metrics. Panics are converted to -32000; the daemon
// never fails a request without a response.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, id json.RawMessage, profileID string) (status string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("rpc handler panicked", "method", req.Method, "panic", rec)
			writeError(w, id, codeInternal, "internal error")
			status = "error"
		}
	}()

	switch req.Method {
	case "policy_check":
		return s.handlePolicyCheck(w, r, req.Params, id, profileID)
	case "events_batch":
		return s.handleEventsBatch(w, req.Params, id, profileID)
	case "http_request":
		return s.handleHTTPRequest(w, r, req.Params, id, profileID)
	case "ping":
		writeResult(w, id, map[string]string{"status": "ok"})
		return "ok"
	default:
		writeError(w, id, codeMethodNotFound, "method not found: "+req.Method)
		return "error"
	}
}

// resolveProfile maps authentication headers to a profile id. A present
// broker token is authoritative and must resolve; the profile id header
// is only consulted when no token is sent.
func (s *Server) resolveProfile(r *http.Request) (string, error) {
	if token := r.Header.Get(BrokerTokenHeader); token != "" {
		profileID, err := s.tokens.Resolve(r.Context(), token)
		if err != nil {
			return "", fmt.Errorf("resolve broker token: %w", err)
		}
		return profileID, nil
	}
	return r.Header.Get(ProfileIDHeader), nil
}

// rawID extracts the request id straight from the wire bytes. The SDK's
// jsonrpc.ID does not round-trip through interface{}, so responses echo
// the original raw value (number, string, or null).
func rawID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}

type rpcErrorField struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		writeError(w, id, codeInternal, "internal error: encode result")
		return
	}
	writeEnvelope(w, id, payload, nil)
}

func writeError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeEnvelope(w, id, nil, &rpcErrorField{Code: code, Message: message})
}

// writeEnvelope writes a JSON-RPC 2.0 response. JSON-RPC errors still
// return HTTP 200; the error lives in the envelope.
func writeEnvelope(w http.ResponseWriter, id json.RawMessage, result json.RawMessage, rpcErr *rpcErrorField) {
	if id == nil {
		id = json.RawMessage("null")
	}
	envelope := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *rpcErrorField  `json:"error,omitempty"`
	}{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope)
}
