package token

import (
	"bytes"
	"errors"
	"math/big"
	"sync"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/crypto"
)

var (
	errNilState            = errors.New("token gate: state not configured")
	errNilPool             = errors.New("token gate: staking pool not configured")
	errNilAllocator        = errors.New("token gate: allocation ledger not configured")
	errInvalidAmount       = errors.New("token gate: amount must be positive")
	errNotMinter           = errors.New("token gate: caller is not the minter")
	errRestrictedTransfer  = errors.New("token gate: transfers are restricted to the designated counter-party")
	errInsufficientBalance = errors.New("token gate: insufficient wrapped balance")
)

// gateState describes the persistence surface the gate requires.
type gateState interface {
	TokenBalanceGet(addr crypto.Address) (*big.Int, error)
	TokenBalancePut(addr crypto.Address, balance *big.Int) error
	TokenSupplyGet() (*big.Int, error)
	TokenSupplyPut(supply *big.Int) error
}

// PoolHooks is the notification surface of the staking pool. The gate reports
// every supply change so pool stake mirrors wrapped balances exactly.
type PoolHooks interface {
	OnTokenMint(to crypto.Address, amount *big.Int) error
	OnTokenBurn(from crypto.Address, amount *big.Int) error
	OnTokenTransfer(from, to crypto.Address, amount *big.Int) error
}

// Allocator is the vesting-ledger surface redeemed value flows through.
// Preflight validates an allocation without applying it, so a redeem can
// refuse before any pool or ledger state lands.
type Allocator interface {
	Allocate(recipient crypto.Address, amount *big.Int) error
	Preflight(amount *big.Int) error
}

// Gate implements the wrapped-token mint/burn surface. Minted value never
// transfers directly: redeeming forwards the underlying through the vesting
// ledger, and holders may only transfer against the designated counter-party.
type Gate struct {
	mu           sync.Mutex
	state        gateState
	pool         PoolHooks
	allocator    Allocator
	emitter      events.Emitter
	minter       crypto.Address
	counterparty crypto.Address
}

// NewGate constructs a gate with the authorized minter and the single address
// wrapped tokens may be transferred to or from.
func NewGate(minter, counterparty crypto.Address) *Gate {
	return &Gate{
		emitter:      events.NoopEmitter{},
		minter:       minter,
		counterparty: counterparty,
	}
}

// SetState wires the gate to the external persistence layer.
func (g *Gate) SetState(state gateState) { g.state = state }

// SetPool wires the staking pool notified on every supply change.
func (g *Gate) SetPool(pool PoolHooks) { g.pool = pool }

// SetAllocator configures the vesting ledger that receives redeemed value.
func (g *Gate) SetAllocator(allocator Allocator) { g.allocator = allocator }

// SetEmitter configures the event emitter used by the gate.
func (g *Gate) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		g.emitter = events.NoopEmitter{}
		return
	}
	g.emitter = emitter
}

func (g *Gate) emit(evt *types.Event) {
	if g == nil || evt == nil || g.emitter == nil {
		return
	}
	g.emitter.Emit(wrapEvent(evt))
}

func sameAddress(a, b crypto.Address) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (g *Gate) balanceOf(addr crypto.Address) (*big.Int, error) {
	if g == nil || g.state == nil {
		return nil, errNilState
	}
	balance, err := g.state.TokenBalanceGet(addr)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}

func (g *Gate) supply() (*big.Int, error) {
	if g == nil || g.state == nil {
		return nil, errNilState
	}
	supply, err := g.state.TokenSupplyGet()
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(supply), nil
}

// Mint credits freshly wrapped tokens to the recipient and stakes them in the
// pool. Only the configured minter may call it.
func (g *Gate) Mint(caller, to crypto.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !sameAddress(caller, g.minter) {
		return errNotMinter
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if g.pool == nil {
		return errNilPool
	}
	balance, err := g.balanceOf(to)
	if err != nil {
		return err
	}
	supply, err := g.supply()
	if err != nil {
		return err
	}

	// The pool mutation runs first so a rejected stake aborts the mint
	// before any token state lands.
	if err := g.pool.OnTokenMint(to, amount); err != nil {
		return err
	}

	if err := g.state.TokenBalancePut(to, balance.Add(balance, amount)); err != nil {
		return err
	}
	if err := g.state.TokenSupplyPut(supply.Add(supply, amount)); err != nil {
		return err
	}
	g.emit(mintedEvent(to, amount))
	return nil
}

// Redeem burns wrapped tokens and forwards the underlying value to the holder
// through the vesting ledger. A ledger rejection on either the principal or a
// full-exit reward payout aborts the redeem with nothing committed.
func (g *Gate) Redeem(from crypto.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if g.pool == nil {
		return errNilPool
	}
	if g.allocator == nil {
		return errNilAllocator
	}
	balance, err := g.balanceOf(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	supply, err := g.supply()
	if err != nil {
		return err
	}

	// The principal must not be scheduled if the burn cannot complete: a
	// full exit pays the accrued reward inside the burn, and a rejected
	// payout aborts it with the pool rolled back. Preflighting the
	// principal first keeps that abort side-effect free. The counterparty
	// budget is only ever debited under this mutex, so a passing preflight
	// still holds when the allocation below runs.
	if err := g.allocator.Preflight(amount); err != nil {
		return err
	}
	if err := g.pool.OnTokenBurn(from, amount); err != nil {
		return err
	}
	if err := g.allocator.Allocate(from, amount); err != nil {
		return err
	}

	if err := g.state.TokenBalancePut(from, balance.Sub(balance, amount)); err != nil {
		return err
	}
	if err := g.state.TokenSupplyPut(supply.Sub(supply, amount)); err != nil {
		return err
	}
	g.emit(burnedEvent(from, amount))
	return nil
}

// Transfer moves wrapped tokens between the designated counter-party and a
// holder; any other pairing is rejected. Stake follows the balance.
func (g *Gate) Transfer(from, to crypto.Address, amount *big.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if !sameAddress(from, g.counterparty) && !sameAddress(to, g.counterparty) {
		return errRestrictedTransfer
	}
	if g.pool == nil {
		return errNilPool
	}
	fromBalance, err := g.balanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	toBalance, err := g.balanceOf(to)
	if err != nil {
		return err
	}

	if err := g.pool.OnTokenTransfer(from, to, amount); err != nil {
		return err
	}

	// A self-transfer moves nothing; writing both legs from the stale reads
	// would inflate the balance.
	if !sameAddress(from, to) {
		if err := g.state.TokenBalancePut(from, fromBalance.Sub(fromBalance, amount)); err != nil {
			return err
		}
		if err := g.state.TokenBalancePut(to, toBalance.Add(toBalance, amount)); err != nil {
			return err
		}
	}
	g.emit(transferredEvent(from, to, amount))
	return nil
}

// BalanceOf reports the wrapped balance for the address.
func (g *Gate) BalanceOf(addr crypto.Address) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceOf(addr)
}

// Supply reports the total wrapped supply.
func (g *Gate) Supply() (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.supply()
}
