package gateway

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"stakestream/core/events"
	"stakestream/crypto"
	"stakestream/gateway/middleware"
	"stakestream/native/rewards"
	"stakestream/native/token"
	"stakestream/native/vesting"
	"stakestream/storage"
)

type testEnv struct {
	handler   http.Handler
	engine    *rewards.Engine
	ledger    *vesting.Ledger
	clock     *int64
	owner     crypto.Address
	authority crypto.Address
	minter    crypto.Address
	holder    crypto.Address
}

func envAddr(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.MustNewAddress(crypto.StakePrefix, raw[:])
}

func newTestEnv(t *testing.T, auth middleware.AuthConfig, limits map[string]middleware.RateLimit) *testEnv {
	t.Helper()
	state := storage.NewState(storage.NewMemDB())
	clock := int64(1_000_000)
	now := func() int64 { return clock }

	owner := envAddr(0xa0)
	authority := envAddr(0xa1)
	minter := envAddr(0xa2)
	counterparty := envAddr(0xa3)
	holder := envAddr(1)

	ledger := vesting.NewLedger(owner)
	ledger.SetState(state)
	ledger.SetNowFunc(now)
	for _, distributor := range []crypto.Address{authority, counterparty} {
		require.NoError(t, ledger.GrantDistributorRole(owner, distributor))
		require.NoError(t, ledger.Assign(owner, distributor, big.NewInt(1_000_000)))
	}

	engine := rewards.NewEngine(100)
	engine.SetState(state)
	engine.SetNowFunc(now)
	engine.SetOwner(owner)
	engine.SetAuthority(authority)
	engine.SetAllocator(ledger.BoundAllocator(authority))

	gate := token.NewGate(minter, counterparty)
	gate.SetState(state)
	gate.SetPool(engine)
	gate.SetAllocator(ledger.BoundAllocator(counterparty))

	handler := NewRouter(Config{
		Engine:        engine,
		Ledger:        ledger,
		Gate:          gate,
		Bus:           events.NewBus(),
		Authenticator: middleware.NewAuthenticator(auth, nil),
		RateLimiter:   middleware.NewRateLimiter(limits),
	})

	return &testEnv{
		handler:   handler,
		engine:    engine,
		ledger:    ledger,
		clock:     &clock,
		owner:     owner,
		authority: authority,
		minter:    minter,
		holder:    holder,
	}
}

func (env *testEnv) request(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	return recorder
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)
	rec := env.request(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStakeWithdrawAndPoolView(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)

	rec := env.request(t, http.MethodPost, "/v1/pool/stake", map[string]string{
		"participant": env.holder.String(),
		"amount":      "1000",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodPost, "/v1/pool/withdraw", map[string]string{
		"participant": env.holder.String(),
		"amount":      "400",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pool struct {
		TotalStaked string `json:"totalStaked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pool))
	require.Equal(t, "600", pool.TotalStaked)

	rec = env.request(t, http.MethodGet, "/v1/pool/participants/"+env.holder.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var participant struct {
		Staked string `json:"staked"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &participant))
	require.Equal(t, "600", participant.Staked)
}

func TestWithdrawBeyondStakeConflicts(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)

	rec := env.request(t, http.MethodPost, "/v1/pool/withdraw", map[string]string{
		"participant": env.holder.String(),
		"amount":      "1",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestBadAddressRejected(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)

	rec := env.request(t, http.MethodGet, "/v1/pool/participants/garbage", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/pool/stake", map[string]string{
		"participant": "garbage",
		"amount":      "10",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/pool/stake", map[string]string{
		"participant": env.holder.String(),
		"amount":      "ten",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyClaimFlow(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)

	rec := env.request(t, http.MethodPost, "/v1/pool/stake", map[string]string{
		"participant": env.holder.String(),
		"amount":      "1000",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/rewards/notify", map[string]string{
		"caller": env.authority.String(),
		"amount": "10000",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A stranger is rejected by the engine even with auth disabled.
	rec = env.request(t, http.MethodPost, "/v1/rewards/notify", map[string]string{
		"caller": env.holder.String(),
		"amount": "10000",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	*env.clock += 50
	rec = env.request(t, http.MethodGet, "/v1/pool/participants/"+env.holder.String()+"/earned", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var earned struct {
		Earned string `json:"earned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &earned))
	require.Equal(t, "5000", earned.Earned)

	rec = env.request(t, http.MethodPost, "/v1/rewards/claim", map[string]string{
		"participant": env.holder.String(),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var claim struct {
		Paid string `json:"paid"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claim))
	require.Equal(t, "5000", claim.Paid)

	rec = env.request(t, http.MethodGet, "/v1/vesting/allocations/"+env.holder.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var allocation struct {
		Allocated string `json:"allocated"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &allocation))
	require.Equal(t, "5000", allocation.Allocated)
}

func TestTokenRoutes(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{}, nil)

	rec := env.request(t, http.MethodPost, "/v1/token/mint", map[string]string{
		"caller": env.minter.String(),
		"to":     env.holder.String(),
		"amount": "500",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodGet, "/v1/token/balances/"+env.holder.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	require.Equal(t, "500", balance.Balance)

	rec = env.request(t, http.MethodPost, "/v1/token/redeem", map[string]string{
		"from":   env.holder.String(),
		"amount": "200",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.request(t, http.MethodGet, "/v1/token/supply", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var supply struct {
		Supply string `json:"supply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &supply))
	require.Equal(t, "300", supply.Supply)
}

func signToken(t *testing.T, secret, scope string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"scope": scope,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestNotifyScopeEnforcement(t *testing.T) {
	auth := middleware.AuthConfig{Enabled: true, HMACSecret: "test-secret"}
	env := newTestEnv(t, auth, nil)

	body := map[string]string{
		"caller": env.authority.String(),
		"amount": "10000",
	}

	rec := env.request(t, http.MethodPost, "/v1/rewards/notify", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/rewards/notify", body, map[string]string{
		"Authorization": "Bearer " + signToken(t, "test-secret", "rewards:read"),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/rewards/notify", body, map[string]string{
		"Authorization": "Bearer " + signToken(t, "wrong-secret", ScopeRewardsNotify),
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/rewards/notify", body, map[string]string{
		"Authorization": "Bearer " + signToken(t, "test-secret", ScopeRewardsNotify),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Unprivileged routes stay open.
	rec = env.request(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func signParticipantToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"scope": ScopeParticipant,
		"sub":   subject,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParticipantRoutesBoundToSubject(t *testing.T) {
	auth := middleware.AuthConfig{Enabled: true, HMACSecret: "test-secret"}
	env := newTestEnv(t, auth, nil)
	other := envAddr(2)

	stakeBody := map[string]string{
		"participant": env.holder.String(),
		"amount":      "1000",
	}

	rec := env.request(t, http.MethodPost, "/v1/pool/stake", stakeBody, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	holderAuth := map[string]string{
		"Authorization": "Bearer " + signParticipantToken(t, "test-secret", env.holder.String()),
	}
	rec = env.request(t, http.MethodPost, "/v1/pool/stake", stakeBody, holderAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A valid token issued to someone else must not move the holder's stake.
	otherAuth := map[string]string{
		"Authorization": "Bearer " + signParticipantToken(t, "test-secret", other.String()),
	}
	rec = env.request(t, http.MethodPost, "/v1/pool/withdraw", stakeBody, otherAuth)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/rewards/claim", map[string]string{
		"participant": env.holder.String(),
	}, otherAuth)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// A participant token without a subject carries no identity to bind to.
	rec = env.request(t, http.MethodPost, "/v1/pool/withdraw", stakeBody, map[string]string{
		"Authorization": "Bearer " + signToken(t, "test-secret", ScopeParticipant),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/pool/withdraw", stakeBody, holderAuth)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRedeemBoundToSubject(t *testing.T) {
	auth := middleware.AuthConfig{Enabled: true, HMACSecret: "test-secret"}
	env := newTestEnv(t, auth, nil)
	other := envAddr(2)

	rec := env.request(t, http.MethodPost, "/v1/token/mint", map[string]string{
		"caller": env.minter.String(),
		"to":     env.holder.String(),
		"amount": "500",
	}, map[string]string{
		"Authorization": "Bearer " + signToken(t, "test-secret", ScopeTokenMint),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	redeemBody := map[string]string{
		"from":   env.holder.String(),
		"amount": "200",
	}
	rec = env.request(t, http.MethodPost, "/v1/token/redeem", redeemBody, map[string]string{
		"Authorization": "Bearer " + signParticipantToken(t, "test-secret", other.String()),
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/v1/token/redeem", redeemBody, map[string]string{
		"Authorization": "Bearer " + signParticipantToken(t, "test-secret", env.holder.String()),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRateLimitAppliesPerRoute(t *testing.T) {
	limits := map[string]middleware.RateLimit{
		"pool": {RequestsPerMinute: 1, Burst: 1},
	}
	env := newTestEnv(t, middleware.AuthConfig{}, limits)

	rec := env.request(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.request(t, http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other route groups are unaffected.
	rec = env.request(t, http.MethodGet, "/v1/token/supply", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
