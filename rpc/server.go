// Package rpc exposes the settlement engines over JSON-RPC and a small set of
// REST endpoints.
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
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetmech/native/exchange"
	"assetmech/native/factory"
	"assetmech/native/ledger"
	"assetmech/native/random"
	"assetmech/native/vesting"
	"assetmech/storage/journal"
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
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeForbidden      = -32003
	codeNotFound       = -32004
	codePaused         = -32005
	codeEngineError    = -32010
	codeRateLimited    = -32020
)

// EventQuery pages through committed events.
type EventQuery interface {
	Recent(ctx context.Context, limit int, eventType string) ([]journal.Entry, error)
}

// StateAccess runs handlers against the shared state manager: mutating
// methods inside one atomic frame, reads under View.
type StateAccess interface {
	Atomic(fn func() error) error
	View(fn func() error) error
}

// Config wires the engines served by the server.
type Config struct {
	State       StateAccess
	Exchange    *exchange.Engine
	Factory     *factory.Engine
	Vesting     *vesting.Engine
	Coordinator *random.Coordinator
	Ledger      *ledger.Ledger
	Events      EventQuery
	Logger      *slog.Logger
	// AuthSecret verifies HS256 bearer tokens whose subject is the caller
	// account of mutating methods.
	AuthSecret        []byte
	RequestsPerSecond float64
	Burst             int
}

// Server serves JSON-RPC on POST / and REST reads under /v1.
type Server struct {
	exchange    *exchange.Engine
	factory     *factory.Engine
	vesting     *vesting.Engine
	coordinator *random.Coordinator
	ledger      *ledger.Ledger
	events      EventQuery
	log         *slog.Logger
	auth        *authenticator
	limiter     *rateLimiter
	state       StateAccess

	methods map[string]method
	router  http.Handler
}

type methodHandler func(s *Server, r *http.Request, req *RPCRequest) (interface{}, *RPCError)

type method struct {
	handler methodHandler
	mutates bool
}

func read(h methodHandler) method  { return method{handler: h} }
func write(h methodHandler) method { return method{handler: h, mutates: true} }

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

	status int
}

func (e *RPCError) Error() string { return e.Message }

// NewServer builds the server and its router.
func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		exchange:    cfg.Exchange,
		factory:     cfg.Factory,
		vesting:     cfg.Vesting,
		coordinator: cfg.Coordinator,
		ledger:      cfg.Ledger,
		events:      cfg.Events,
		log:         log,
		auth:        newAuthenticator(cfg.AuthSecret),
		limiter:     newRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		state:       cfg.State,
	}
	s.methods = s.registerMethods()
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(limited chi.Router) {
		limited.Use(s.limiter.middleware)
		limited.Post("/", s.handle)
		limited.Route("/v1", func(v1 chi.Router) {
			v1.Get("/events", s.handleEvents)
			v1.Get("/staking/{engine}/rules", s.handleStakingRules)
			v1.Get("/staking/{engine}/stakes/{id}", s.handleStakingStake)
			v1.Get("/vesting/{address}", s.handleVestingSchedule)
			v1.Get("/random/pending", s.handleRandomPending)
			v1.Get("/factory/instances", s.handleFactoryInstances)
		})
	})
	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("rpc listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
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
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}

	result, rpcErr := s.invoke(m, r, req)
	if rpcErr != nil {
		s.log.Debug("rpc call failed", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) registerMethods() map[string]method {
	return map[string]method{
		"exchange_domain":          read((*Server).exchangeDomain),
		"exchange_purchase":        write((*Server).exchangePurchase),
		"exchange_claim":           write((*Server).exchangeClaim),
		"exchange_grade":           write((*Server).exchangeGrade),
		"exchange_releasable":      read((*Server).exchangeReleasable),
		"exchange_release":         write((*Server).exchangeRelease),
		"exchange_referralBalance": read((*Server).exchangeReferralBalance),
		"exchange_withdrawReward":  write((*Server).exchangeWithdrawReward),
		"staking_rules":            read((*Server).stakingRules),
		"staking_stake":            read((*Server).stakingStake),
		"staking_stakesOf":         read((*Server).stakingStakesOf),
		"staking_deposit":          write((*Server).stakingDeposit),
		"staking_receiveReward":    write((*Server).stakingReceiveReward),
		"vesting_schedule":         read((*Server).vestingSchedule),
		"vesting_releaseable":      read((*Server).vestingReleaseable),
		"vesting_release":          write((*Server).vestingRelease),
		"factory_domain":           read((*Server).factoryDomain),
		"factory_instances":        read((*Server).factoryInstances),
		"factory_deployVesting":    write((*Server).factoryDeployVesting),
		"factory_deployStaking":    write((*Server).factoryDeployStaking),
		"factory_deployToken":      write((*Server).factoryDeployToken),
		"random_pending":           read((*Server).randomPending),
		"random_fulfill":           write((*Server).randomFulfill),
		"ledger_balanceOf":         read((*Server).ledgerBalanceOf),
		"ledger_approve":           write((*Server).ledgerApprove),
		"ledger_setApprovalForAll": write((*Server).ledgerSetApprovalForAll),
		"ledger_transfer":          write((*Server).ledgerTransfer),
	}
}

// invoke runs a method against state. A mutating method commits or rolls
// back as a whole; a failed call leaves no trace.
func (s *Server) invoke(m method, r *http.Request, req *RPCRequest) (result interface{}, rpcErr *RPCError) {
	run := func() error {
		result, rpcErr = m.handler(s, r, req)
		if rpcErr != nil {
			return rpcErr
		}
		return nil
	}
	var err error
	if m.mutates {
		err = s.state.Atomic(run)
	} else {
		err = s.state.View(run)
	}
	if err != nil && rpcErr == nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusInternalServerError}
	}
	return result, rpcErr
}

// view runs a REST read under the state manager.
func (s *Server) view(fn func() (interface{}, *RPCError)) (result interface{}, rpcErr *RPCError) {
	err := s.state.View(func() error {
		result, rpcErr = fn()
		return nil
	})
	if err != nil && rpcErr == nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error(), status: http.StatusInternalServerError}
	}
	return result, rpcErr
}
