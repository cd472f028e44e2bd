package rpc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendora/core/events"
	"lendora/core/types"
	"lendora/native/lending"
	"lendora/observability/metrics"
)

// JSON-RPC error codes. Application failures map from the engine's error
// kinds.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeConfigFault    = -32010
	codePolicyFault    = -32020
	codeSolvencyFault  = -32030
	codeFundsFault     = -32040
	codeOracleFault    = -32050
)

// scopeAdmin gates reserve administration, pause control and price updates.
const scopeAdmin = "admin"

// Funder seeds underlying balances. The pool never mints; funding exists so
// operators can stand in for the external token plumbing.
type Funder interface {
	Credit(asset string, addr common.Address, amount *big.Int) error
}

// Server exposes the pool controller over HTTP JSON-RPC.
type Server struct {
	engine  *lending.Engine
	oracle  *lending.StaticOracle
	funder  Funder
	ring    *events.Ring
	logger  *slog.Logger
	metrics *metrics.LendingMetrics
	auth    *Authenticator
	limiter *RateLimiter
	// adminOpen permits admin methods without a bearer token; meant for
	// development setups only.
	adminOpen bool
}

// Config collects the server's collaborators.
type Config struct {
	Engine             *lending.Engine
	Oracle             *lending.StaticOracle
	Funder             Funder
	Events             *events.Ring
	Logger             *slog.Logger
	JWTSecret          string
	RateLimitPerMinute int
}

// NewServer wires the RPC surface. Admin methods are open when no JWT secret
// is configured.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    cfg.Engine,
		oracle:    cfg.Oracle,
		funder:    cfg.Funder,
		ring:      cfg.Events,
		logger:    logger,
		metrics:   metrics.Lending(),
		auth:      NewAuthenticator(cfg.JWTSecret, logger),
		limiter:   NewRateLimiter(cfg.RateLimitPerMinute),
		adminOpen: strings.TrimSpace(cfg.JWTSecret) == "",
	}
}

// Handler builds the HTTP router: POST / for JSON-RPC, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(s.limiter.Middleware)
	r.Use(s.auth.Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/events", s.handleEventsWS)
	r.Post("/", s.handleRPC)
	return r
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "malformed request"}})
		return
	}
	if strings.TrimSpace(req.Method) == "" {
		s.writeResponse(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "method required"}})
		return
	}

	started := time.Now()
	result, rpcErr := s.dispatch(r, req.Method, req.Params)
	var obsErr error
	if rpcErr != nil {
		obsErr = fmt.Errorf("%s", rpcErr.Message)
		s.logger.Warn("rpc call failed",
			"method", req.Method,
			"code", rpcErr.Code,
			"err", rpcErr.Message,
			"request_id", requestIDFrom(r.Context()),
		)
	}
	s.metrics.ObserveOperation(req.Method, obsErr, started)

	s.writeResponse(w, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode rpc response", "err", err)
	}
}

func (s *Server) dispatch(r *http.Request, method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "lending_deposit":
		return s.handleDeposit(params)
	case "lending_withdraw":
		return s.handleWithdraw(params)
	case "lending_borrow":
		return s.handleBorrow(params)
	case "lending_repay":
		return s.handleRepay(params)
	case "lending_liquidate":
		return s.handleLiquidate(params)
	case "lending_approveDelegation":
		return s.handleApproveDelegation(params)
	case "lending_getUserAccountData":
		return s.handleUserAccountData(params)
	case "lending_getHealthFactor":
		return s.handleHealthFactor(params)
	case "lending_getReserveData":
		return s.handleReserveData(params)
	case "lending_recentEvents":
		return s.handleRecentEvents()
	case "lending_initReserve",
		"lending_freezeReserve",
		"lending_unfreezeReserve",
		"lending_pause",
		"lending_unpause",
		"lending_setPrice",
		"lending_fund":
		if !s.adminOpen && !hasScope(r.Context(), scopeAdmin) {
			return nil, &rpcError{Code: codePolicyFault, Message: "admin scope required"}
		}
		return s.dispatchAdmin(method, params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func (s *Server) dispatchAdmin(method string, params json.RawMessage) (any, *rpcError) {
	switch method {
	case "lending_initReserve":
		return s.handleInitReserve(params)
	case "lending_freezeReserve":
		return s.handleSetFrozen(params, true)
	case "lending_unfreezeReserve":
		return s.handleSetFrozen(params, false)
	case "lending_pause":
		return s.handleSetPaused(params, true)
	case "lending_unpause":
		return s.handleSetPaused(params, false)
	case "lending_setPrice":
		return s.handleSetPrice(params)
	case "lending_fund":
		return s.handleFund(params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

type depositParams struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf"`
}

func (s *Server) handleDeposit(params json.RawMessage) (any, *rpcError) {
	var p depositParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	beneficiary := caller
	if strings.TrimSpace(p.OnBehalfOf) != "" {
		if beneficiary, err = parseAddress("onBehalfOf", p.OnBehalfOf); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	minted, engineErr := s.engine.Deposit(caller, p.Asset, amount, beneficiary)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"claimMinted": minted.String()}, nil
}

type withdrawParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

func (s *Server) handleWithdraw(params json.RawMessage) (any, *rpcError) {
	var p withdrawParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	to := caller
	if strings.TrimSpace(p.To) != "" {
		if to, err = parseAddress("to", p.To); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	actual, engineErr := s.engine.Withdraw(caller, p.Asset, amount, to)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"amount": actual.String()}, nil
}

type borrowParams struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf"`
}

func (s *Server) handleBorrow(params json.RawMessage) (any, *rpcError) {
	var p borrowParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	onBehalfOf := caller
	if strings.TrimSpace(p.OnBehalfOf) != "" {
		if onBehalfOf, err = parseAddress("onBehalfOf", p.OnBehalfOf); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if engineErr := s.engine.Borrow(caller, p.Asset, amount, onBehalfOf); engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"amount": amount.String()}, nil
}

type repayParams struct {
	Caller     string `json:"caller"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	OnBehalfOf string `json:"onBehalfOf"`
}

func (s *Server) handleRepay(params json.RawMessage) (any, *rpcError) {
	var p repayParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	onBehalfOf := caller
	if strings.TrimSpace(p.OnBehalfOf) != "" {
		if onBehalfOf, err = parseAddress("onBehalfOf", p.OnBehalfOf); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	actual, engineErr := s.engine.Repay(caller, p.Asset, amount, onBehalfOf)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"amount": actual.String()}, nil
}

type liquidateParams struct {
	Caller          string `json:"caller"`
	CollateralAsset string `json:"collateralAsset"`
	DebtAsset       string `json:"debtAsset"`
	Borrower        string `json:"borrower"`
	DebtToCover     string `json:"debtToCover"`
}

func (s *Server) handleLiquidate(params json.RawMessage) (any, *rpcError) {
	var p liquidateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	borrower, err := parseAddress("borrower", p.Borrower)
	if err != nil {
		return nil, err
	}
	debtToCover, err := parseAmount("debtToCover", p.DebtToCover)
	if err != nil {
		return nil, err
	}
	covered, seized, engineErr := s.engine.Liquidate(caller, p.CollateralAsset, p.DebtAsset, borrower, debtToCover)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{
		"debtCovered":      covered.String(),
		"collateralSeized": seized.String(),
	}, nil
}

type delegationParams struct {
	Caller   string `json:"caller"`
	Asset    string `json:"asset"`
	Delegate string `json:"delegate"`
	Amount   string `json:"amount"`
}

func (s *Server) handleApproveDelegation(params json.RawMessage) (any, *rpcError) {
	var p delegationParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	delegate, err := parseAddress("delegate", p.Delegate)
	if err != nil {
		return nil, err
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(p.Amount) != "" {
		if amount, err = parseAmount("amount", p.Amount); err != nil {
			return nil, err
		}
	}
	if engineErr := s.engine.ApproveDelegation(caller, p.Asset, delegate, amount); engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"amount": amount.String()}, nil
}

type accountParams struct {
	Account string `json:"account"`
}

func (s *Server) handleUserAccountData(params json.RawMessage) (any, *rpcError) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress("account", p.Account)
	if err != nil {
		return nil, err
	}
	data, engineErr := s.engine.UserAccountData(account)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]any{
		"collateralUSD":        data.CollateralUSD.String(),
		"debtUSD":              data.DebtUSD.String(),
		"ltv":                  data.LTV,
		"liquidationThreshold": data.LiquidationThreshold,
		"healthFactor":         data.HealthFactor.String(),
	}, nil
}

func (s *Server) handleHealthFactor(params json.RawMessage) (any, *rpcError) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress("account", p.Account)
	if err != nil {
		return nil, err
	}
	hf, engineErr := s.engine.HealthFactor(account)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"healthFactor": hf.String()}, nil
}

type assetParams struct {
	Asset string `json:"asset"`
}

func (s *Server) handleReserveData(params json.RawMessage) (any, *rpcError) {
	var p assetParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	snap, engineErr := s.engine.ReserveData(p.Asset)
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]any{
		"asset":                     snap.Asset,
		"liquidityIndex":            snap.LiquidityIndex.String(),
		"variableBorrowIndex":       snap.VariableBorrowIndex.String(),
		"currentLiquidityRate":      snap.CurrentLiquidityRate.String(),
		"currentVariableBorrowRate": snap.CurrentVariableBorrowRate.String(),
		"lastUpdateTimestamp":       snap.LastUpdateTimestamp,
		"ltv":                       snap.LTV,
		"liquidationThreshold":      snap.LiquidationThreshold,
		"liquidationBonus":          snap.LiquidationBonus,
		"totalSupply":               snap.TotalSupplyUnderlying.String(),
		"totalDebt":                 snap.TotalDebtUnderlying.String(),
		"availableCash":             snap.AvailableCash.String(),
		"frozen":                    snap.Frozen,
	}, nil
}

func (s *Server) handleRecentEvents() (any, *rpcError) {
	if s.ring == nil {
		return []any{}, nil
	}
	recent := s.ring.Recent()
	out := make([]*types.Event, 0, len(recent))
	for _, evt := range recent {
		carrier, ok := evt.(interface{ Event() *types.Event })
		if !ok {
			continue
		}
		out = append(out, carrier.Event().Clone())
	}
	return out, nil
}

type initReserveParams struct {
	Caller   string                  `json:"caller"`
	Reserve  lending.ReserveSettings `json:"reserve"`
	PriceWad string                  `json:"priceWad"`
}

func (s *Server) handleInitReserve(params json.RawMessage) (any, *rpcError) {
	var p initReserveParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	cfg, cfgErr := p.Reserve.ReserveConfig()
	if cfgErr != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: cfgErr.Error()}
	}
	if strings.TrimSpace(p.PriceWad) != "" {
		price, err := parseAmount("priceWad", p.PriceWad)
		if err != nil {
			return nil, err
		}
		if oErr := s.oracle.SetPrice(p.Reserve.Asset, price); oErr != nil {
			return nil, &rpcError{Code: codeInvalidParams, Message: oErr.Error()}
		}
	}
	if engineErr := s.engine.InitReserve(caller, p.Reserve.Asset, cfg); engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]string{"asset": p.Reserve.Asset}, nil
}

type freezeParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
}

func (s *Server) handleSetFrozen(params json.RawMessage, frozen bool) (any, *rpcError) {
	var p freezeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	var engineErr error
	if frozen {
		engineErr = s.engine.FreezeReserve(caller, p.Asset)
	} else {
		engineErr = s.engine.UnfreezeReserve(caller, p.Asset)
	}
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]bool{"frozen": frozen}, nil
}

type pauseParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleSetPaused(params json.RawMessage, paused bool) (any, *rpcError) {
	var p pauseParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	caller, err := parseAddress("caller", p.Caller)
	if err != nil {
		return nil, err
	}
	var engineErr error
	if paused {
		engineErr = s.engine.Pause(caller)
	} else {
		engineErr = s.engine.Unpause(caller)
	}
	if engineErr != nil {
		return nil, translateEngineError(engineErr)
	}
	return map[string]bool{"paused": paused}, nil
}

type setPriceParams struct {
	Asset    string `json:"asset"`
	PriceWad string `json:"priceWad"`
}

func (s *Server) handleSetPrice(params json.RawMessage) (any, *rpcError) {
	var p setPriceParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	price, err := parseAmount("priceWad", p.PriceWad)
	if err != nil {
		return nil, err
	}
	if oErr := s.oracle.SetPrice(p.Asset, price); oErr != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: oErr.Error()}
	}
	return map[string]string{"asset": p.Asset, "priceWad": price.String()}, nil
}

type fundParams struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFund(params json.RawMessage) (any, *rpcError) {
	var p fundParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if s.funder == nil {
		return nil, &rpcError{Code: codeServerError, Message: "funding not available"}
	}
	account, err := parseAddress("account", p.Account)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	if fundErr := s.funder.Credit(p.Asset, account, amount); fundErr != nil {
		return nil, &rpcError{Code: codeServerError, Message: fundErr.Error()}
	}
	return map[string]string{"amount": amount.String()}, nil
}

func decodeParams(raw json.RawMessage, dst any) *rpcError {
	if len(raw) == 0 {
		return &rpcError{Code: codeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func parseAddress(field, value string) (common.Address, *rpcError) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, &rpcError{Code: codeInvalidParams, Message: field + " must be a 20-byte hex address"}
	}
	return common.HexToAddress(trimmed), nil
}

// parseAmount accepts a decimal string or the literal "max" for the full
// position sentinel.
func parseAmount(field, value string) (*big.Int, *rpcError) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "max") {
		return lending.MaxAmount(), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: field + " must be a non-negative decimal integer"}
	}
	return parsed, nil
}

func translateEngineError(err error) *rpcError {
	code := codeServerError
	switch lending.Classify(err) {
	case lending.ErrKindConfig:
		code = codeConfigFault
	case lending.ErrKindPolicy:
		code = codePolicyFault
	case lending.ErrKindSolvency:
		code = codeSolvencyFault
	case lending.ErrKindFunds:
		code = codeFundsFault
	case lending.ErrKindOracle:
		code = codeOracleFault
	}
	return &rpcError{Code: code, Message: err.Error()}
}
