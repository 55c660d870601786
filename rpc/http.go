package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mintmgr/core"
	"mintmgr/crypto"
	"mintmgr/native/mint"
	"mintmgr/observability"
	"mintmgr/storage/receipts"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

const (
	MethodExecute  = "mint_execute"
	MethodQuery    = "mint_query"
	MethodReceipts = "mint_receipts"
	MethodStatus   = "mint_status"
)

// Runtime is the slice of core.Runtime the server drives.
type Runtime interface {
	Execute(ctx context.Context, sender [20]byte, msg core.ExecuteMsg) (*core.ExecuteResponse, error)
	Query(ctx context.Context, msg core.QueryMsg) (*core.MintInfoResponse, error)
	Receipts(ctx context.Context, viewer core.ViewerInfo, filter receipts.Filter) ([]receipts.Receipt, error)
	Height() uint64
	Halted() bool
}

// Config tunes the server edge.
type Config struct {
	// JWTSecret enables HS256 caller assertion on mint_execute. Empty trusts the
	// sender named in the request and is only suitable for local development.
	JWTSecret         string
	JWTIssuer         string
	RequestsPerMinute float64
	Burst             int
	// TrustProxyHeaders keys rate limiting on X-Real-IP / X-Forwarded-For.
	// Leave unset unless a reverse proxy overwrites those headers.
	TrustProxyHeaders bool
	ReadTimeout       time.Duration
	ShutdownTimeout   time.Duration
	Logger            *slog.Logger
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ExecuteParams is the single parameter of mint_execute.
type ExecuteParams struct {
	Sender string          `json:"sender"`
	Msg    json.RawMessage `json:"msg"`
}

// ReceiptsParams is the single parameter of mint_receipts.
type ReceiptsParams struct {
	Viewer    core.ViewerInfo `json:"viewer"`
	Recipient string          `json:"recipient,omitempty"`
	Action    string          `json:"action,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// StatusResult answers mint_status and /healthz.
type StatusResult struct {
	Height uint64 `json:"height"`
	Halted bool   `json:"halted"`
}

type Server struct {
	runtime Runtime
	auth    *callerAuth
	limiter *sourceLimiter
	proxied bool
	logger  *slog.Logger
	router  http.Handler

	readTimeout     time.Duration
	shutdownTimeout time.Duration
}

func NewServer(runtime Runtime, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runtime: runtime,
		auth:    newCallerAuth(cfg.JWTSecret, cfg.JWTIssuer),
		limiter: newSourceLimiter(cfg.RequestsPerMinute, cfg.Burst),
		proxied: cfg.TrustProxyHeaders,
		logger:  logger,

		readTimeout:     cfg.ReadTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.readTimeout <= 0 {
		s.readTimeout = 10 * time.Second
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 15 * time.Second
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Post("/", s.handle)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(r, "mintd.rpc")
}

// Start serves addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: s.readTimeout,
		ReadTimeout:       s.readTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	s.logger.Info("stopping JSON-RPC server", "timeout", s.shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeRuntimeError maps engine and runtime failures onto JSON-RPC codes.
func writeRuntimeError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, mint.ErrUnauthorized), errors.Is(err, mint.ErrNotOwner):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, core.ErrReceiptsDisabled):
		writeError(w, http.StatusNotImplemented, id, codeServerError, err.Error(), nil)
	case core.IsClientError(err):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := StatusResult{Height: s.runtime.Height(), Halted: s.runtime.Halted()}
	if status.Halted {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// handle is the JSON-RPC entry point.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r, s.proxied)) {
		observability.MintMetrics().RecordThrottle("rate")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case MethodExecute:
		s.handleExecute(w, r, req)
	case MethodQuery:
		s.handleQuery(w, r, req)
	case MethodReceipts:
		s.handleReceipts(w, r, req)
	case MethodStatus:
		writeResult(w, req.ID, StatusResult{Height: s.runtime.Height(), Halted: s.runtime.Halted()})
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
	}
}

func singleParam(w http.ResponseWriter, req *RPCRequest, what string) (json.RawMessage, bool) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, what+" parameter required", nil)
		return nil, false
	}
	return req.Params[0], true
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	raw, ok := singleParam(w, req, "execute")
	if !ok {
		return
	}
	var params ExecuteParams
	if err := json.Unmarshal(raw, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid execute parameter", err.Error())
		return
	}
	sender, err := crypto.ParseIdentity(strings.TrimSpace(params.Sender))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid sender", err.Error())
		return
	}
	if authErr := s.auth.assert(r, params.Sender); authErr != nil {
		observability.MintMetrics().RecordThrottle("auth")
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(params.Msg, &variants); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid execute message", err.Error())
		return
	}
	if preload, ok := variants["pre_load"]; ok {
		if err := ValidatePreLoad(preload); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "pre_load does not match schema", err.Error())
			return
		}
	}
	var msg core.ExecuteMsg
	if err := json.Unmarshal(params.Msg, &msg); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid execute message", err.Error())
		return
	}
	resp, err := s.runtime.Execute(r.Context(), sender, msg)
	if err != nil {
		writeRuntimeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, resp)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	raw, ok := singleParam(w, req, "query")
	if !ok {
		return
	}
	var msg core.QueryMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid query message", err.Error())
		return
	}
	resp, err := s.runtime.Query(r.Context(), msg)
	if err != nil {
		writeRuntimeError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, resp)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	raw, ok := singleParam(w, req, "receipts")
	if !ok {
		return
	}
	var params ReceiptsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receipts parameter", err.Error())
		return
	}
	list, err := s.runtime.Receipts(r.Context(), params.Viewer, receipts.Filter{
		Recipient: params.Recipient,
		Action:    params.Action,
		Limit:     params.Limit,
	})
	if err != nil {
		writeRuntimeError(w, req.ID, err)
		return
	}
	if list == nil {
		list = []receipts.Receipt{}
	}
	writeResult(w, req.ID, list)
}
