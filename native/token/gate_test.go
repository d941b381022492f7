package token

import (
	"errors"
	"math/big"
	"testing"

	"stakestream/core/events"
	"stakestream/crypto"
	"stakestream/native/rewards"
	"stakestream/native/vesting"
	"stakestream/storage"
)

type mockGateState struct {
	balances map[string]*big.Int
	supply   *big.Int
	puts     int
}

func newMockGateState() *mockGateState {
	return &mockGateState{balances: make(map[string]*big.Int), supply: big.NewInt(0)}
}

func (m *mockGateState) TokenBalanceGet(addr crypto.Address) (*big.Int, error) {
	if balance, ok := m.balances[string(addr.Bytes())]; ok {
		return new(big.Int).Set(balance), nil
	}
	return nil, nil
}

func (m *mockGateState) TokenBalancePut(addr crypto.Address, balance *big.Int) error {
	m.balances[string(addr.Bytes())] = new(big.Int).Set(balance)
	m.puts++
	return nil
}

func (m *mockGateState) TokenSupplyGet() (*big.Int, error) {
	return new(big.Int).Set(m.supply), nil
}

func (m *mockGateState) TokenSupplyPut(supply *big.Int) error {
	m.supply = new(big.Int).Set(supply)
	m.puts++
	return nil
}

type poolCall struct {
	kind   string
	amount *big.Int
}

type mockPool struct {
	calls []poolCall
	err   error
}

func (m *mockPool) OnTokenMint(to crypto.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{kind: "mint", amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockPool) OnTokenBurn(from crypto.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{kind: "burn", amount: new(big.Int).Set(amount)})
	return nil
}

func (m *mockPool) OnTokenTransfer(from, to crypto.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, poolCall{kind: "transfer", amount: new(big.Int).Set(amount)})
	return nil
}

type mockAllocator struct {
	allocations map[string]*big.Int
	err         error
}

func newMockAllocator() *mockAllocator {
	return &mockAllocator{allocations: make(map[string]*big.Int)}
}

func (m *mockAllocator) Allocate(recipient crypto.Address, amount *big.Int) error {
	if m.err != nil {
		return m.err
	}
	key := string(recipient.Bytes())
	current, ok := m.allocations[key]
	if !ok {
		current = big.NewInt(0)
	}
	m.allocations[key] = new(big.Int).Add(current, amount)
	return nil
}

func (m *mockAllocator) Preflight(*big.Int) error {
	return m.err
}

func wrapAddr(b byte) crypto.Address {
	var raw [20]byte
	raw[19] = b
	return crypto.MustNewAddress(crypto.WrapPrefix, raw[:])
}

func newTestGate(t *testing.T) (*Gate, *mockGateState, *mockPool, *mockAllocator) {
	t.Helper()
	state := newMockGateState()
	pool := &mockPool{}
	allocator := newMockAllocator()
	gate := NewGate(wrapAddr(0xaa), wrapAddr(0xcc))
	gate.SetState(state)
	gate.SetPool(pool)
	gate.SetAllocator(allocator)
	return gate, state, pool, allocator
}

func TestMintRequiresMinterAndStakes(t *testing.T) {
	gate, state, pool, _ := newTestGate(t)
	minter := wrapAddr(0xaa)
	holder := wrapAddr(1)

	if err := gate.Mint(holder, holder, big.NewInt(100)); !errors.Is(err, errNotMinter) {
		t.Fatalf("expected minter error, got %v", err)
	}
	if err := gate.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := gate.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance %s, want 100", balance)
	}
	if state.supply.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("supply %s, want 100", state.supply)
	}
	if len(pool.calls) != 1 || pool.calls[0].kind != "mint" {
		t.Fatalf("expected one mint hook, got %v", pool.calls)
	}
}

func TestMintAbortsWhenPoolRejects(t *testing.T) {
	gate, state, pool, _ := newTestGate(t)
	pool.err = errors.New("pool unavailable")

	if err := gate.Mint(wrapAddr(0xaa), wrapAddr(1), big.NewInt(100)); err == nil {
		t.Fatalf("expected pool rejection to abort mint")
	}
	if state.puts != 0 {
		t.Fatalf("failed mint must not persist token state")
	}
}

func TestRedeemForwardsPrincipalThroughLedger(t *testing.T) {
	gate, state, pool, allocator := newTestGate(t)
	minter := wrapAddr(0xaa)
	holder := wrapAddr(1)

	if err := gate.Mint(minter, holder, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := gate.Redeem(holder, big.NewInt(400)); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	balance, _ := gate.BalanceOf(holder)
	if balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("balance %s, want 600", balance)
	}
	if state.supply.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("supply %s, want 600", state.supply)
	}
	if got := allocator.allocations[string(holder.Bytes())]; got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("forwarded principal %s, want 400", got)
	}
	if len(pool.calls) != 2 || pool.calls[1].kind != "burn" {
		t.Fatalf("expected burn hook, got %v", pool.calls)
	}
}

func TestRedeemRejectsOverdraw(t *testing.T) {
	gate, state, _, _ := newTestGate(t)
	minter := wrapAddr(0xaa)
	holder := wrapAddr(1)

	if err := gate.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	puts := state.puts
	if err := gate.Redeem(holder, big.NewInt(101)); !errors.Is(err, errInsufficientBalance) {
		t.Fatalf("expected balance error, got %v", err)
	}
	if state.puts != puts {
		t.Fatalf("failed redeem must not persist token state")
	}
}

func TestRedeemAbortsWhenLedgerRejects(t *testing.T) {
	gate, state, pool, allocator := newTestGate(t)
	minter := wrapAddr(0xaa)
	holder := wrapAddr(1)

	if err := gate.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	allocator.err = errors.New("budget exhausted")
	puts, hookCalls := state.puts, len(pool.calls)
	if err := gate.Redeem(holder, big.NewInt(50)); err == nil {
		t.Fatalf("expected ledger rejection to abort redeem")
	}
	if state.puts != puts {
		t.Fatalf("failed redeem must not persist token state")
	}
	if len(pool.calls) != hookCalls {
		t.Fatalf("pool must not be notified when the ledger rejects")
	}
}

func TestTransferRestrictedToCounterparty(t *testing.T) {
	gate, _, pool, _ := newTestGate(t)
	minter := wrapAddr(0xaa)
	counterparty := wrapAddr(0xcc)
	holder := wrapAddr(1)
	other := wrapAddr(2)

	if err := gate.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := gate.Transfer(holder, other, big.NewInt(10)); !errors.Is(err, errRestrictedTransfer) {
		t.Fatalf("expected restricted transfer error, got %v", err)
	}
	if err := gate.Transfer(holder, counterparty, big.NewInt(10)); err != nil {
		t.Fatalf("transfer to counter-party: %v", err)
	}
	holderBalance, _ := gate.BalanceOf(holder)
	cpBalance, _ := gate.BalanceOf(counterparty)
	if holderBalance.Cmp(big.NewInt(90)) != 0 || cpBalance.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("balances %s/%s, want 90/10", holderBalance, cpBalance)
	}
	if pool.calls[len(pool.calls)-1].kind != "transfer" {
		t.Fatalf("expected transfer hook, got %v", pool.calls)
	}
}

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.types = append(r.types, evt.EventType())
}

func (r *recordingEmitter) count(typ string) int {
	n := 0
	for _, got := range r.types {
		if got == typ {
			n++
		}
	}
	return n
}

// TestRedeemHalvingEndToEnd runs the full wiring (gate, pool engine, vesting
// ledger, shared storage) through a holder unwinding a large position in
// halves. Every redeemed tranche must show up as a ledger allocation, and the
// final exit pays the accrued reward on top.
func TestRedeemFullExitRewardShortfallAborts(t *testing.T) {
	state := storage.NewState(storage.NewMemDB())

	owner := wrapAddr(0xa0)
	authority := wrapAddr(0xa1)
	minter := wrapAddr(0xa2)
	counterparty := wrapAddr(0xa3)
	holder := wrapAddr(1)

	clock := int64(1_000_000)
	now := func() int64 { return clock }

	ledger := vesting.NewLedger(owner)
	ledger.SetState(state)
	ledger.SetNowFunc(now)
	grants := []struct {
		distributor crypto.Address
		budget      *big.Int
	}{
		{authority, big.NewInt(1)},
		{counterparty, big.NewInt(1000)},
	}
	for _, grant := range grants {
		if err := ledger.GrantDistributorRole(owner, grant.distributor); err != nil {
			t.Fatalf("grant role: %v", err)
		}
		if err := ledger.Assign(owner, grant.distributor, grant.budget); err != nil {
			t.Fatalf("assign budget: %v", err)
		}
	}

	engine := rewards.NewEngine(10)
	engine.SetState(state)
	engine.SetNowFunc(now)
	engine.SetOwner(owner)
	engine.SetAuthority(authority)
	engine.SetAllocator(ledger.BoundAllocator(authority))

	gate := NewGate(minter, counterparty)
	gate.SetState(state)
	gate.SetPool(engine)
	gate.SetAllocator(ledger.BoundAllocator(counterparty))

	if err := gate.Mint(minter, holder, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.NotifyReward(authority, big.NewInt(1000)); err != nil {
		t.Fatalf("notify: %v", err)
	}
	clock += 20

	// The full exit owes a 1000 reward the authority budget cannot cover.
	// The redeem must fail with no leg committed anywhere: no principal
	// allocation, no budget debit, no burn.
	if err := gate.Redeem(holder, big.NewInt(100)); !errors.Is(err, vesting.ErrBudgetExceeded) {
		t.Fatalf("expected budget rejection, got %v", err)
	}

	balance, err := gate.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("balance %s, want 100", balance)
	}
	staked, err := engine.StakedBalance(holder)
	if err != nil {
		t.Fatalf("staked balance: %v", err)
	}
	if staked.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("staked %s, want 100", staked)
	}
	allocated, err := ledger.AllocatedTo(holder)
	if err != nil {
		t.Fatalf("allocated: %v", err)
	}
	if allocated.Sign() != 0 {
		t.Fatalf("allocated %s, want 0", allocated)
	}
	budget, err := ledger.BudgetOf(counterparty)
	if err != nil {
		t.Fatalf("budget: %v", err)
	}
	if budget.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("counterparty budget %s, want 1000", budget)
	}

	// Topping the authority budget up afterwards lets the identical call
	// through, paying principal and reward in full.
	if err := ledger.Assign(owner, authority, big.NewInt(999)); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := gate.Redeem(holder, big.NewInt(100)); err != nil {
		t.Fatalf("retried redeem: %v", err)
	}
	allocated, err = ledger.AllocatedTo(holder)
	if err != nil {
		t.Fatalf("allocated: %v", err)
	}
	if allocated.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("allocated %s, want principal plus reward 1100", allocated)
	}
}

func TestRedeemHalvingEndToEnd(t *testing.T) {
	db := storage.NewMemDB()
	state := storage.NewState(db)

	owner := wrapAddr(0xa0)
	authority := wrapAddr(0xa1)
	minter := wrapAddr(0xa2)
	counterparty := wrapAddr(0xa3)
	holder := wrapAddr(1)

	clock := int64(1_000_000)
	now := func() int64 { return clock }

	amount := new(big.Int).Mul(big.NewInt(80_000_000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	budget := new(big.Int).Mul(amount, big.NewInt(2))

	ledger := vesting.NewLedger(owner)
	ledger.SetState(state)
	ledger.SetNowFunc(now)
	for _, distributor := range []crypto.Address{authority, counterparty} {
		if err := ledger.GrantDistributorRole(owner, distributor); err != nil {
			t.Fatalf("grant role: %v", err)
		}
		if err := ledger.Assign(owner, distributor, budget); err != nil {
			t.Fatalf("assign budget: %v", err)
		}
	}

	recorder := &recordingEmitter{}

	engine := rewards.NewEngine(100)
	engine.SetState(state)
	engine.SetNowFunc(now)
	engine.SetOwner(owner)
	engine.SetAuthority(authority)
	engine.SetAllocator(ledger.BoundAllocator(authority))
	engine.SetEmitter(recorder)

	gate := NewGate(minter, counterparty)
	gate.SetState(state)
	gate.SetPool(engine)
	gate.SetAllocator(ledger.BoundAllocator(counterparty))
	gate.SetEmitter(recorder)

	if err := gate.Mint(minter, holder, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	staked, err := engine.StakedBalance(holder)
	if err != nil {
		t.Fatalf("staked balance: %v", err)
	}
	if staked.Cmp(amount) != 0 {
		t.Fatalf("staked %s, want %s", staked, amount)
	}

	// Emitting the full position size over the period makes the holder's
	// reward equal the principal exactly, with no truncation dust.
	if err := engine.NotifyReward(authority, amount); err != nil {
		t.Fatalf("notify: %v", err)
	}
	clock += 200

	redeemed := big.NewInt(0)
	tranche := new(big.Int).Rsh(amount, 1)
	for i := 0; i < 3; i++ {
		if err := gate.Redeem(holder, tranche); err != nil {
			t.Fatalf("redeem tranche %d: %v", i, err)
		}
		redeemed.Add(redeemed, tranche)

		balance, err := gate.BalanceOf(holder)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		staked, err := engine.StakedBalance(holder)
		if err != nil {
			t.Fatalf("staked balance: %v", err)
		}
		if balance.Cmp(staked) != 0 {
			t.Fatalf("balance %s diverged from stake %s", balance, staked)
		}
		allocated, err := ledger.AllocatedTo(holder)
		if err != nil {
			t.Fatalf("allocated: %v", err)
		}
		if allocated.Cmp(redeemed) != 0 {
			t.Fatalf("allocated %s, want redeemed total %s", allocated, redeemed)
		}
		tranche = new(big.Int).Rsh(tranche, 1)
	}
	if recorder.count(rewards.EventTypeRewardPaid) != 0 {
		t.Fatalf("no reward may be paid before the position fully unwinds")
	}

	// Final exit: redeem the remaining eighth, which pays the accrued reward.
	remaining, err := gate.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if err := gate.Redeem(holder, remaining); err != nil {
		t.Fatalf("final redeem: %v", err)
	}
	redeemed.Add(redeemed, remaining)

	supply, err := gate.Supply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("supply %s, want 0", supply)
	}
	staked, err = engine.StakedBalance(holder)
	if err != nil {
		t.Fatalf("staked balance: %v", err)
	}
	if staked.Sign() != 0 {
		t.Fatalf("staked %s, want 0", staked)
	}

	allocated, err := ledger.AllocatedTo(holder)
	if err != nil {
		t.Fatalf("allocated: %v", err)
	}
	want := new(big.Int).Add(redeemed, amount)
	if allocated.Cmp(want) != 0 {
		t.Fatalf("allocated %s, want principal plus reward %s", allocated, want)
	}
	if recorder.count(rewards.EventTypeRewardPaid) != 1 {
		t.Fatalf("expected exactly one reward payout, events %v", recorder.types)
	}
	if recorder.count(EventTypeBurned) != 4 {
		t.Fatalf("expected four burn events, events %v", recorder.types)
	}
}
