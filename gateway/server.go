package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stakestream/core/events"
	"stakestream/crypto"
	"stakestream/gateway/middleware"
	"stakestream/native/rewards"
	"stakestream/native/token"
	"stakestream/native/vesting"
)

// Scopes required by the privileged routes.
const (
	ScopeRewardsNotify = "rewards:notify"
	ScopeRewardsAdmin  = "rewards:admin"
	ScopeTokenMint     = "token:mint"
	ScopeVestingAdmin  = "vesting:admin"
	// ScopeParticipant guards the self-service routes. The token subject
	// must additionally match the address acting in the request body.
	ScopeParticipant = "participant"
)

// Config assembles every component the HTTP surface exposes.
type Config struct {
	Engine        *rewards.Engine
	Ledger        *vesting.Ledger
	Gate          *token.Gate
	Bus           *events.Bus
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
}

// Server routes HTTP requests onto the rewards engine, the allocation ledger
// and the wrapped-token gate.
type Server struct {
	engine *rewards.Engine
	ledger *vesting.Ledger
	gate   *token.Gate
	bus    *events.Bus
	logger *slog.Logger
}

// NewRouter builds the chi router with auth, rate limiting and observability
// middleware applied per route group.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine: cfg.Engine,
		ledger: cfg.Ledger,
		gate:   cfg.Gate,
		bus:    cfg.Bus,
		logger: logger,
	}
	obs := middleware.NewObservability(logger)

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}
	authed := func(scopes ...string) func(http.Handler) http.Handler {
		if cfg.Authenticator == nil {
			return passthrough
		}
		return cfg.Authenticator.Middleware(scopes...)
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/pool", func(pr chi.Router) {
		pr.Use(obs.Middleware("pool"))
		pr.Use(limit("pool"))
		pr.Get("/", srv.handlePoolSnapshot)
		pr.With(authed(ScopeParticipant)).Post("/stake", srv.handleStake)
		pr.With(authed(ScopeParticipant)).Post("/withdraw", srv.handleWithdraw)
		pr.Get("/participants/{address}", srv.handleParticipant)
		pr.Get("/participants/{address}/earned", srv.handleEarned)
	})

	r.Route("/v1/rewards", func(rr chi.Router) {
		rr.Use(obs.Middleware("rewards"))
		rr.Use(limit("rewards"))
		rr.With(authed(ScopeParticipant)).Post("/claim", srv.handleClaim)
		rr.With(authed(ScopeRewardsNotify)).Post("/notify", srv.handleNotify)
		rr.With(authed(ScopeRewardsAdmin)).Post("/authority", srv.handleSetAuthority)
	})

	r.Route("/v1/vesting", func(vr chi.Router) {
		vr.Use(obs.Middleware("vesting"))
		vr.Use(limit("vesting"))
		vr.Get("/allocations/{address}", srv.handleAllocation)
		vr.Get("/grants/{address}", srv.handleGrant)
		vr.With(authed(ScopeVestingAdmin)).Post("/roles", srv.handleGrantRole)
		vr.With(authed(ScopeVestingAdmin)).Post("/assign", srv.handleAssign)
	})

	r.Route("/v1/token", func(tr chi.Router) {
		tr.Use(obs.Middleware("token"))
		tr.Use(limit("token"))
		tr.With(authed(ScopeTokenMint)).Post("/mint", srv.handleMint)
		tr.With(authed(ScopeParticipant)).Post("/redeem", srv.handleRedeem)
		tr.With(authed(ScopeParticipant)).Post("/transfer", srv.handleTransfer)
		tr.Get("/balances/{address}", srv.handleBalance)
		tr.Get("/supply", srv.handleSupply)
	})

	r.With(obs.Middleware("events")).Get("/v1/events", srv.handleEvents)

	return r
}

func passthrough(next http.Handler) http.Handler { return next }

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeEngineError maps authorization failures to 403 and everything else to
// 400; the engines already phrase their errors for callers.
func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, rewards.ErrNotAuthority),
		errors.Is(err, rewards.ErrNotOwner),
		errors.Is(err, vesting.ErrNotDistributor),
		errors.Is(err, vesting.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, vesting.ErrBudgetExceeded),
		errors.Is(err, rewards.ErrStakeUnderflow):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("amount must be a base-10 integer")
	}
	return amount, nil
}

func pathAddress(r *http.Request) (crypto.Address, error) {
	return crypto.DecodeAddress(chi.URLParam(r, "address"))
}

var errSubjectMismatch = errors.New("token subject does not match the acting address")

// requireSubject binds a self-service request to the caller's identity: the
// authenticated token's subject must decode to the address the body acts on.
// With auth disabled no subject is present and the check passes. It reports
// whether the handler may proceed.
func requireSubject(w http.ResponseWriter, r *http.Request, addr crypto.Address) bool {
	subject, authenticated := middleware.Subject(r.Context())
	if !authenticated {
		return true
	}
	decoded, err := crypto.DecodeAddress(subject)
	if err != nil || !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		writeError(w, http.StatusForbidden, errSubjectMismatch)
		return false
	}
	return true
}

type stakeRequest struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !requireSubject(w, r, addr) {
		return
	}
	if err := s.engine.Stake(addr, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "staked"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !requireSubject(w, r, addr) {
		return
	}
	if err := s.engine.Withdraw(addr, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

type claimRequest struct {
	Participant string `json:"participant"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, err := crypto.DecodeAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !requireSubject(w, r, addr) {
		return
	}
	paid, err := s.engine.GetReward(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

type notifyRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.NotifyReward(caller, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

type authorityRequest struct {
	Caller    string `json:"caller"`
	Authority string `json:"authority"`
}

func (s *Server) handleSetAuthority(w http.ResponseWriter, r *http.Request) {
	var req authorityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	authority, err := crypto.DecodeAddress(req.Authority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.SetRewardAuthority(caller, authority); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type poolResponse struct {
	TotalStaked         string `json:"totalStaked"`
	RewardRate          string `json:"rewardRate"`
	RewardPerUnitStored string `json:"rewardPerUnitStored"`
	LastUpdateTime      uint64 `json:"lastUpdateTime"`
	PeriodFinish        uint64 `json:"periodFinish"`
}

func (s *Server) handlePoolSnapshot(w http.ResponseWriter, _ *http.Request) {
	pool, err := s.engine.PoolSnapshot()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		TotalStaked:         pool.TotalStaked.String(),
		RewardRate:          pool.RewardRate.String(),
		RewardPerUnitStored: pool.RewardPerUnitStored.String(),
		LastUpdateTime:      pool.LastUpdateTime,
		PeriodFinish:        pool.PeriodFinish,
	})
}

type participantResponse struct {
	Address           string `json:"address"`
	Staked            string `json:"staked"`
	RewardPerUnitPaid string `json:"rewardPerUnitPaid"`
	Owed              string `json:"owed"`
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	participant, err := s.engine.ParticipantSnapshot(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participantResponse{
		Address:           addr.String(),
		Staked:            participant.Staked.String(),
		RewardPerUnitPaid: participant.RewardPerUnitPaid.String(),
		Owed:              participant.Owed.String(),
	})
}

func (s *Server) handleEarned(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	earned, err := s.engine.Earned(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"earned": earned.String()})
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	total, err := s.ledger.AllocatedTo(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"allocated": total.String()})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	budget, err := s.ledger.BudgetOf(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	hasRole, err := s.ledger.HasDistributorRole(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"budget":  budget.String(),
		"hasRole": hasRole,
	})
}

type roleRequest struct {
	Caller      string `json:"caller"`
	Distributor string `json:"distributor"`
	Revoke      bool   `json:"revoke,omitempty"`
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	distributor, err := crypto.DecodeAddress(req.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Revoke {
		err = s.ledger.RevokeDistributorRole(caller, distributor)
	} else {
		err = s.ledger.GrantDistributorRole(caller, distributor)
	}
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type assignRequest struct {
	Caller      string `json:"caller"`
	Distributor string `json:"distributor"`
	Amount      string `json:"amount"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	distributor, err := crypto.DecodeAddress(req.Distributor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.ledger.Assign(caller, distributor, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "assigned"})
}

type mintRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.DecodeAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := crypto.DecodeAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.gate.Mint(caller, to, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "minted"})
}

type redeemRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := crypto.DecodeAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !requireSubject(w, r, from) {
		return
	}
	if err := s.gate.Redeem(from, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redeemed"})
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := crypto.DecodeAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := crypto.DecodeAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !requireSubject(w, r, from) {
		return
	}
	if err := s.gate.Transfer(from, to, amount); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.gate.BalanceOf(addr)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

func (s *Server) handleSupply(w http.ResponseWriter, _ *http.Request) {
	supply, err := s.gate.Supply()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"supply": supply.String()})
}
