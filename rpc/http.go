package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"creditnet/journal"
	"creditnet/observability"
	"creditnet/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	defaultMutationsPerSecond = 5
	defaultMutationBurst      = 10
	shutdownGrace             = 5 * time.Second
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

// Server terminates the JSON-RPC surface for the lending ledger. Mutating
// methods require a bearer token and are rate limited per source address;
// reads are open.
type Server struct {
	credit  *modules.CreditModule
	journal *journal.Journal
	logger  *slog.Logger

	authToken string
	perSecond float64
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// ServerOption adjusts server construction.
type ServerOption func(*Server)

// WithAuthToken overrides the bearer token read from CREDITNET_RPC_TOKEN.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = strings.TrimSpace(token) }
}

// WithRateLimit tunes the per-source mutation limiter. A non-positive
// perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) ServerOption {
	return func(s *Server) {
		s.perSecond = perSecond
		s.burst = burst
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer wires the credit module and the event journal used by the
// websocket stream. The journal may be nil when event streaming is disabled.
func NewServer(credit *modules.CreditModule, j *journal.Journal, opts ...ServerOption) *Server {
	s := &Server{
		credit:    credit,
		journal:   j,
		logger:    slog.Default(),
		authToken: strings.TrimSpace(os.Getenv("CREDITNET_RPC_TOKEN")),
		perSecond: defaultMutationsPerSecond,
		burst:     defaultMutationBurst,
		limiters:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the complete route set: the JSON-RPC endpoint at /, the
// health probe, the Prometheus scrape endpoint, and the event stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/events", s.handleEventStream)
	return mux
}

// Run serves the RPC endpoint until ctx is cancelled, then drains in-flight
// requests within the shutdown grace period.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("rpc server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
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

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	method := "unknown"
	defer func() {
		observability.ModuleMetrics().Observe(moduleLabel(method), method, recorder.status, time.Since(start))
	}()

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(recorder, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(recorder, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(recorder, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(recorder, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	method = req.Method

	switch req.Method {
	case "credit_updateCreditLine":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditUpdateCreditLine(recorder, r, req)
	case "credit_deposit":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditDeposit(recorder, r, req)
	case "credit_withdraw":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditWithdraw(recorder, r, req)
	case "credit_borrow":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditBorrow(recorder, r, req)
	case "credit_repay":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditRepay(recorder, r, req)
	case "credit_forgivePrincipal":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditForgivePrincipal(recorder, r, req)
	case "credit_forgiveInterest":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditForgiveInterest(recorder, r, req)
	case "credit_transferLoan":
		if !s.allowMutation(recorder, r, req) {
			return
		}
		s.handleCreditTransferLoan(recorder, r, req)
	case "credit_getLoan":
		s.handleCreditGetLoan(recorder, r, req)
	case "credit_getCreditLine":
		s.handleCreditGetCreditLine(recorder, r, req)
	case "credit_getPoolBalance":
		s.handleCreditGetPoolBalance(recorder, r, req)
	case "credit_getBorrowingSummary":
		s.handleCreditGetBorrowingSummary(recorder, r, req)
	case "credit_getAccruedInterest":
		s.handleCreditGetAccruedInterest(recorder, r, req)
	case "credit_ownerOf":
		s.handleCreditOwnerOf(recorder, r, req)
	default:
		writeError(recorder, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
	}
}

// allowMutation gates state-changing methods behind bearer auth and the
// per-source limiter.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	if !s.allowSource(clientSource(r)) {
		observability.ModuleMetrics().RecordThrottle(moduleLabel(req.Method), "rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "mutation rate limit exceeded", nil)
		return false
	}
	return true
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if s.perSecond <= 0 {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		burst := s.burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.perSecond), burst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func moduleLabel(method string) string {
	if i := strings.Index(method, "_"); i > 0 {
		return method[:i]
	}
	return "rpc"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
