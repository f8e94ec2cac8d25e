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
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"optionclear/core"
	"optionclear/core/eventstore"
	"optionclear/native/clearing"
	"optionclear/observability"
	"optionclear/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	rpcModule       = "clearing"
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

// Engine error categories map onto their own codes so clients can react
// without parsing messages.
const (
	codeClearingValidation    = -32030
	codeClearingAuthorization = -32031
	codeClearingTemporal      = -32032
	codeClearingInvariant     = -32033
	codeClearingCustody       = -32034
)

// EventJournal serves clearing_events.
type EventJournal interface {
	List(ctx context.Context, filter eventstore.Filter) ([]eventstore.Record, error)
}

// ServerConfig controls authentication and throttling.
type ServerConfig struct {
	// AuthToken is the operator credential. It authorizes mutating methods
	// that act on no caller's behalf, such as clearing_sweepFees.
	AuthToken string
	// JWT verifies caller tokens. Methods acting for an address take it from
	// the token subject and are disabled while no secret is configured.
	JWT       JWTConfig
	RateLimit RateLimit
	// MutatingRateLimit is charged in addition to RateLimit for methods that
	// change state.
	MutatingRateLimit RateLimit
	ReadHeaderTimeout time.Duration
	// Tracing wraps the handler with OpenTelemetry HTTP instrumentation.
	Tracing bool
	Logger  *slog.Logger
}

type handlerFunc func(s *Server, ctx context.Context, params json.RawMessage) (interface{}, error)

type method struct {
	handler  handlerFunc
	mutating bool
	// identity methods act for the address in the caller token.
	identity bool
}

// Server exposes the clearinghouse over JSON-RPC 2.0.
type Server struct {
	host      *core.Clearinghouse
	journal   EventJournal
	authToken string
	auth      *authenticator
	limiter   *RateLimiter
	logger    *slog.Logger
	cfg       ServerConfig
	methods   map[string]method

	serverMu   sync.Mutex
	httpServer *http.Server
}

// NewServer builds a server. journal may be nil, in which case
// clearing_events reports the method as unavailable.
func NewServer(host *core.Clearinghouse, journal EventJournal, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rpc")
	return &Server{
		host:      host,
		journal:   journal,
		authToken: strings.TrimSpace(cfg.AuthToken),
		auth:      newAuthenticator(cfg.JWT),
		limiter: NewRateLimiter(map[string]RateLimit{
			limitKeyAll:      cfg.RateLimit,
			limitKeyMutating: cfg.MutatingRateLimit,
		}, logger),
		logger:  logger,
		cfg:     cfg,
		methods: clearingMethods(),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.With(s.limiter.Middleware(limitKeyAll, func(w http.ResponseWriter, req *http.Request) {
		observability.ModuleMetrics().RecordThrottle(rpcModule, "rate_limit")
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", clientID(req))
	})).Post("/", s.handle)
	if s.cfg.Tracing {
		return otelhttp.NewHandler(r, "clearing-rpc")
	}
	return r
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	timeout := s.cfg.ReadHeaderTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: timeout}
	s.serverMu.Lock()
	s.httpServer = srv
	s.serverMu.Unlock()
	s.logger.Info("json-rpc server listening", "address", listener.Addr().String())
	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.serverMu.Lock()
	srv := s.httpServer
	s.serverMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
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

func (e *RPCError) Error() string { return e.Message }

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: "invalid_params", Data: fmt.Sprintf(format, args...)}
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
	start := time.Now()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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

	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	status := s.dispatch(w, r, req, m)
	observability.ModuleMetrics().Observe(rpcModule, req.Method, status, time.Since(start))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest, m method) int {
	ctx := r.Context()
	if m.mutating {
		authCtx, authErr := s.authenticate(r, m)
		if authErr != nil {
			s.logger.Warn("rejected unauthenticated call",
				"method", req.Method,
				"remote", clientID(r),
				logging.MaskField("authorization", r.Header.Get("Authorization")))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return http.StatusUnauthorized
		}
		ctx = authCtx
		if source := clientID(r); !s.limiter.Allow(limitKeyMutating, source) {
			observability.ModuleMetrics().RecordThrottle(rpcModule, "mutating_rate_limit")
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", source)
			return http.StatusTooManyRequests
		}
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at most one parameter object expected")
		return http.StatusBadRequest
	}
	var params json.RawMessage
	if len(req.Params) == 1 {
		params = req.Params[0]
	}
	if s.host == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "clearinghouse unavailable", nil)
		return http.StatusServiceUnavailable
	}

	result, err := m.handler(s, ctx, params)
	if err != nil {
		status, rpcErr := s.classifyError(req.Method, err)
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return status
	}
	writeResult(w, req.ID, result)
	return http.StatusOK
}

// classifyError maps handler errors to an HTTP status and a JSON-RPC error.
func (s *Server) classifyError(methodName string, err error) (int, *RPCError) {
	if errors.Is(err, errCallerMismatch) || errors.Is(err, errCallerTokenRequired) {
		return http.StatusForbidden, &RPCError{Code: codeClearingAuthorization, Message: err.Error()}
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadRequest, rpcErr
	}
	switch clearing.Classify(err) {
	case clearing.CategoryValidation:
		return http.StatusBadRequest, &RPCError{Code: codeClearingValidation, Message: err.Error()}
	case clearing.CategoryAuthorization:
		return http.StatusForbidden, &RPCError{Code: codeClearingAuthorization, Message: err.Error()}
	case clearing.CategoryTemporal:
		return http.StatusConflict, &RPCError{Code: codeClearingTemporal, Message: err.Error()}
	case clearing.CategoryCustody:
		return http.StatusConflict, &RPCError{Code: codeClearingCustody, Message: err.Error()}
	case clearing.CategoryInvariant:
		s.logger.Error("clearing invariant violated", "method", methodName, "error", err)
		return http.StatusInternalServerError, &RPCError{Code: codeClearingInvariant, Message: err.Error()}
	default:
		s.logger.Error("rpc handler failed", "method", methodName, "error", err)
		return http.StatusInternalServerError, &RPCError{Code: codeServerError, Message: "internal error", Data: err.Error()}
	}
}

// authenticate checks the bearer credential of a mutating call. A valid
// caller token places its subject in the returned context; the operator
// token is accepted only by methods that act for no address.
func (s *Server) authenticate(r *http.Request, m method) (context.Context, *RPCError) {
	if s.authToken == "" && !s.auth.enabled() {
		return nil, &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return nil, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if s.auth.enabled() && looksLikeJWT(token) {
		caller, err := s.auth.subject(token)
		if err != nil {
			s.logger.Warn("caller token rejected", "remote", clientID(r), "error", err)
			return nil, &RPCError{Code: codeUnauthorized, Message: "invalid caller token"}
		}
		return withCaller(r.Context(), caller), nil
	}
	if s.authToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return nil, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	if m.identity {
		return nil, &RPCError{Code: codeUnauthorized, Message: "method requires a signed caller token"}
	}
	return r.Context(), nil
}
