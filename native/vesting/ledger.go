package vesting

import (
	"bytes"
	"errors"
	"math/big"
	"sync"
	"time"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/crypto"
)

var (
	errNilState       = errors.New("vesting ledger: state not configured")
	errInvalidAmount  = errors.New("vesting ledger: amount must be positive")
	errNotOwner       = errors.New("vesting ledger: caller is not the owner")
	errNotDistributor = errors.New("vesting ledger: caller lacks the distributor role")
	errBudgetExceeded = errors.New("vesting ledger: allocation exceeds assigned budget")
)

// ErrNotDistributor reports an allocation attempt by a caller without the
// distributor role.
var ErrNotDistributor = errNotDistributor

// ErrNotOwner reports a role grant or budget assignment by a caller other
// than the ledger owner.
var ErrNotOwner = errNotOwner

// ErrBudgetExceeded reports an allocation larger than the caller's remaining
// assigned budget.
var ErrBudgetExceeded = errBudgetExceeded

// ledgerState describes the persistence surface the ledger requires.
type ledgerState interface {
	VestingGrantGet(addr crypto.Address) (*Grant, error)
	VestingGrantPut(grant *Grant) error
	VestingAllocationGet(addr crypto.Address) (*Allocation, error)
	VestingAllocationPut(allocation *Allocation) error
}

// Ledger custodies allocation budgets and records what each recipient has been
// scheduled to receive. It is the sole path by which value leaves the reward
// pool.
type Ledger struct {
	mu      sync.Mutex
	state   ledgerState
	emitter events.Emitter
	nowFn   func() int64
	owner   crypto.Address
}

// NewLedger constructs a ledger owned by the provided address.
func NewLedger(owner crypto.Address) *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		owner:   owner,
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetEmitter configures the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

func (l *Ledger) emit(evt *types.Event) {
	if l == nil || evt == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(wrapEvent(evt))
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func sameAddress(a, b crypto.Address) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (l *Ledger) ensureGrant(addr crypto.Address) (*Grant, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	grant, err := l.state.VestingGrantGet(addr)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		grant = &Grant{Distributor: addr}
	} else {
		grant = grant.Clone()
	}
	return grant.normalize(), nil
}

func (l *Ledger) ensureAllocation(addr crypto.Address) (*Allocation, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	allocation, err := l.state.VestingAllocationGet(addr)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		allocation = &Allocation{Recipient: addr}
	} else {
		allocation = allocation.Clone()
	}
	return allocation.normalize(), nil
}

// GrantDistributorRole marks the address as an authorized distributor.
func (l *Ledger) GrantDistributorRole(caller, addr crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !sameAddress(caller, l.owner) {
		return errNotOwner
	}
	grant, err := l.ensureGrant(addr)
	if err != nil {
		return err
	}
	grant.HasRole = true
	if err := l.state.VestingGrantPut(grant); err != nil {
		return err
	}
	l.emit(roleGrantedEvent(addr))
	return nil
}

// RevokeDistributorRole removes the distributor role from the address. Any
// remaining assigned budget stays recorded but becomes unusable.
func (l *Ledger) RevokeDistributorRole(caller, addr crypto.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !sameAddress(caller, l.owner) {
		return errNotOwner
	}
	grant, err := l.ensureGrant(addr)
	if err != nil {
		return err
	}
	grant.HasRole = false
	if err := l.state.VestingGrantPut(grant); err != nil {
		return err
	}
	l.emit(roleRevokedEvent(addr))
	return nil
}

// Assign funds a distributor's allocation budget.
func (l *Ledger) Assign(caller, distributor crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !sameAddress(caller, l.owner) {
		return errNotOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	grant, err := l.ensureGrant(distributor)
	if err != nil {
		return err
	}
	grant.Assigned = new(big.Int).Add(grant.Assigned, amount)
	grant.TotalAssigned = new(big.Int).Add(grant.TotalAssigned, amount)
	if err := l.state.VestingGrantPut(grant); err != nil {
		return err
	}
	l.emit(assignedEvent(distributor, amount))
	return nil
}

// Allocate debits the caller's budget and credits the recipient's cumulative
// allocation. The caller must hold the distributor role and the amount must
// fit within the remaining assigned budget; otherwise nothing changes.
func (l *Ledger) Allocate(caller, recipient crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	grant, err := l.ensureGrant(caller)
	if err != nil {
		return err
	}
	if !grant.HasRole {
		return errNotDistributor
	}
	if grant.Assigned.Cmp(amount) < 0 {
		return errBudgetExceeded
	}
	allocation, err := l.ensureAllocation(recipient)
	if err != nil {
		return err
	}

	grant.Assigned = new(big.Int).Sub(grant.Assigned, amount)
	grant.TotalAllocated = new(big.Int).Add(grant.TotalAllocated, amount)
	allocation.Total = new(big.Int).Add(allocation.Total, amount)
	allocation.UpdatedAt = l.now()

	if err := l.state.VestingGrantPut(grant); err != nil {
		return err
	}
	if err := l.state.VestingAllocationPut(allocation); err != nil {
		return err
	}
	l.emit(allocatedEvent(caller, recipient, amount))
	return nil
}

// AllocatedTo reports the cumulative amount scheduled for the recipient.
func (l *Ledger) AllocatedTo(recipient crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	allocation, err := l.ensureAllocation(recipient)
	if err != nil {
		return nil, err
	}
	return copyBigInt(allocation.Total), nil
}

// BudgetOf reports the distributor's remaining assigned budget.
func (l *Ledger) BudgetOf(distributor crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	grant, err := l.ensureGrant(distributor)
	if err != nil {
		return nil, err
	}
	return copyBigInt(grant.Assigned), nil
}

// HasDistributorRole reports whether the address may allocate.
func (l *Ledger) HasDistributorRole(addr crypto.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	grant, err := l.ensureGrant(addr)
	if err != nil {
		return false, err
	}
	return grant.HasRole, nil
}

// BoundAllocator narrows the ledger to a fixed calling distributor so
// consumers only see the two-argument Allocate surface.
type BoundAllocator struct {
	ledger *Ledger
	caller crypto.Address
}

// BoundAllocator returns an allocator that always allocates as the provided
// distributor address.
func (l *Ledger) BoundAllocator(caller crypto.Address) *BoundAllocator {
	return &BoundAllocator{ledger: l, caller: caller}
}

// Allocate forwards to the ledger with the bound caller identity.
func (b *BoundAllocator) Allocate(recipient crypto.Address, amount *big.Int) error {
	if b == nil || b.ledger == nil {
		return errNilState
	}
	return b.ledger.Allocate(b.caller, recipient, amount)
}

// Preflight reports whether the bound caller could allocate the amount right
// now, without debiting anything. Callers staging other effects between the
// check and the allocation must ensure no competing debit of the same budget
// can interleave.
func (b *BoundAllocator) Preflight(amount *big.Int) error {
	if b == nil || b.ledger == nil {
		return errNilState
	}
	return b.ledger.preflight(b.caller, amount)
}

func (l *Ledger) preflight(caller crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	grant, err := l.ensureGrant(caller)
	if err != nil {
		return err
	}
	if !grant.HasRole {
		return errNotDistributor
	}
	if grant.Assigned.Cmp(amount) < 0 {
		return errBudgetExceeded
	}
	return nil
}
