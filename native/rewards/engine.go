package rewards

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
	errNilState       = errors.New("rewards engine: state not configured")
	errNilAllocator   = errors.New("rewards engine: allocation ledger not configured")
	errStakeZero      = errors.New("rewards engine: cannot stake zero")
	errWithdrawZero   = errors.New("rewards engine: cannot withdraw zero")
	ErrStakeUnderflow = errors.New("rewards engine: withdraw exceeds staked balance")
	errRewardAmount   = errors.New("rewards engine: reward amount must be positive")
	errZeroDuration   = errors.New("rewards engine: rewards duration must be positive")
	// ErrNotAuthority rejects reward injections from anyone but the
	// configured distribution authority.
	ErrNotAuthority = errors.New("rewards engine: caller is not the reward authority")
	// ErrNotOwner rejects authority rotations from anyone but the owner.
	ErrNotOwner = errors.New("rewards engine: caller is not the owner")
)

// scale is the fixed-point factor applied to the reward-per-unit accumulator.
// Truncating division against it rounds dust in the pool's favour.
var scale = big.NewInt(1_000_000_000_000_000_000)

// engineState describes the persistence surface the rewards engine requires.
type engineState interface {
	RewardsPoolGet() (*Pool, error)
	RewardsPoolPut(pool *Pool) error
	RewardsParticipantGet(addr crypto.Address) (*Participant, error)
	RewardsParticipantPut(participant *Participant) error
}

// Allocator is the narrow surface consumed from the vesting/allocation ledger.
// Allocate must either record the full amount for the recipient or fail; a
// failure aborts the enclosing claim operation with no state change.
type Allocator interface {
	Allocate(recipient crypto.Address, amount *big.Int) error
}

// Engine implements the staking pool's reward-per-unit accrual accounting.
// Every public entry point runs under a single mutex so the external
// allocation call inside a claim can never interleave with a concurrent
// mutation of the same participant.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	allocator Allocator
	emitter   events.Emitter
	nowFn     func() int64
	duration  uint64
	owner     crypto.Address
	authority crypto.Address
}

// NewEngine constructs a rewards engine with the fixed emission period
// duration in seconds. The duration is set once and reused for every reward
// notification.
func NewEngine(duration uint64) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		duration: duration,
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAllocator configures the vesting ledger used to pay out accrued rewards.
func (e *Engine) SetAllocator(allocator Allocator) { e.allocator = allocator }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetOwner configures the owner allowed to rotate the reward authority.
func (e *Engine) SetOwner(owner crypto.Address) { e.owner = owner }

// SetAuthority configures the initial reward-distribution authority.
func (e *Engine) SetAuthority(authority crypto.Address) { e.authority = authority }

// Duration returns the configured emission period length in seconds.
func (e *Engine) Duration() uint64 { return e.duration }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(wrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func sameAddress(a, b crypto.Address) bool {
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (e *Engine) ensurePool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.RewardsPoolGet()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = &Pool{}
	} else {
		pool = pool.Clone()
	}
	return pool.normalize(), nil
}

func (e *Engine) ensureParticipant(addr crypto.Address) (*Participant, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	participant, err := e.state.RewardsParticipantGet(addr)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		participant = &Participant{Address: addr}
	} else {
		participant = participant.Clone()
	}
	return participant.normalize(), nil
}

// lastTimeApplicable bounds accrual to the active emission period.
func (e *Engine) lastTimeApplicable(pool *Pool) uint64 {
	now := uint64(e.now())
	if now > pool.PeriodFinish {
		return pool.PeriodFinish
	}
	return now
}

// rewardPerUnit returns the accumulator advanced to the current time. With
// nobody staked the stored value is returned unchanged, freezing accrual until
// the first stake arrives.
func (e *Engine) rewardPerUnit(pool *Pool) *big.Int {
	if pool.TotalStaked.Sign() == 0 {
		return copyBigInt(pool.RewardPerUnitStored)
	}
	elapsed := e.lastTimeApplicable(pool)
	if elapsed <= pool.LastUpdateTime {
		return copyBigInt(pool.RewardPerUnitStored)
	}
	delta := new(big.Int).SetUint64(elapsed - pool.LastUpdateTime)
	accrued := new(big.Int).Mul(delta, pool.RewardRate)
	accrued.Mul(accrued, scale)
	accrued.Quo(accrued, pool.TotalStaked)
	return new(big.Int).Add(pool.RewardPerUnitStored, accrued)
}

// earnedAmount evaluates the core accounting identity: owed plus the staked
// balance priced over the accumulator delta since the last checkpoint.
func (e *Engine) earnedAmount(pool *Pool, participant *Participant) *big.Int {
	delta := new(big.Int).Sub(e.rewardPerUnit(pool), participant.RewardPerUnitPaid)
	earned := new(big.Int).Mul(participant.Staked, delta)
	earned.Quo(earned, scale)
	return earned.Add(earned, participant.Owed)
}

// checkpoint advances the global accumulator and, when a participant is given,
// folds their pending accrual into Owed. It must run before every mutation;
// callers pass nil for the global pseudo-participant used by reward
// notifications. The mutation is in-memory only; callers persist afterwards so
// failed operations leave no partial state behind.
func (e *Engine) checkpoint(pool *Pool, participant *Participant) {
	pool.RewardPerUnitStored = e.rewardPerUnit(pool)
	pool.LastUpdateTime = e.lastTimeApplicable(pool)
	if participant != nil {
		participant.Owed = e.earnedAmount(pool, participant)
		participant.RewardPerUnitPaid = copyBigInt(pool.RewardPerUnitStored)
	}
}

// stakeLocked applies a stake mutation to pre-checkpointed copies.
func stakeLocked(pool *Pool, participant *Participant, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errStakeZero
	}
	participant.Staked = new(big.Int).Add(participant.Staked, amount)
	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	return nil
}

// withdrawLocked applies a withdraw mutation to pre-checkpointed copies.
func withdrawLocked(pool *Pool, participant *Participant, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errWithdrawZero
	}
	if participant.Staked.Cmp(amount) < 0 {
		return ErrStakeUnderflow
	}
	participant.Staked = new(big.Int).Sub(participant.Staked, amount)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	return nil
}

// payRewardLocked zeroes the participant's owed reward and forwards it to the
// allocation ledger. The ledger call happens before anything is persisted, so
// a rejection aborts the whole operation with balances untouched.
func (e *Engine) payRewardLocked(participant *Participant) (*big.Int, error) {
	reward := copyBigInt(participant.Owed)
	if reward.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if e.allocator == nil {
		return nil, errNilAllocator
	}
	participant.Owed = big.NewInt(0)
	if err := e.allocator.Allocate(participant.Address, reward); err != nil {
		return nil, err
	}
	return reward, nil
}

func (e *Engine) persist(pool *Pool, participants ...*Participant) error {
	for _, participant := range participants {
		if participant == nil {
			continue
		}
		if err := e.state.RewardsParticipantPut(participant); err != nil {
			return err
		}
	}
	return e.state.RewardsPoolPut(pool)
}

// Stake increases the participant's staked balance and the pool aggregate.
func (e *Engine) Stake(addr crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stake(addr, amount)
}

func (e *Engine) stake(addr crypto.Address, amount *big.Int) error {
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	participant, err := e.ensureParticipant(addr)
	if err != nil {
		return err
	}
	e.checkpoint(pool, participant)
	if err := stakeLocked(pool, participant, amount); err != nil {
		return err
	}
	if err := e.persist(pool, participant); err != nil {
		return err
	}
	e.emit(stakedEvent(addr, amount))
	return nil
}

// Withdraw decreases the participant's staked balance and the pool aggregate.
func (e *Engine) Withdraw(addr crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.withdraw(addr, amount)
}

func (e *Engine) withdraw(addr crypto.Address, amount *big.Int) error {
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	participant, err := e.ensureParticipant(addr)
	if err != nil {
		return err
	}
	e.checkpoint(pool, participant)
	if err := withdrawLocked(pool, participant, amount); err != nil {
		return err
	}
	if err := e.persist(pool, participant); err != nil {
		return err
	}
	e.emit(withdrawnEvent(addr, amount))
	return nil
}

// NotifyReward folds a new reward injection into the emission rate. When the
// previous period is still active its unemitted remainder carries into the new
// rate instead of being lost. Only the configured authority may call it.
func (e *Engine) NotifyReward(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !sameAddress(caller, e.authority) {
		return ErrNotAuthority
	}
	if amount == nil || amount.Sign() <= 0 {
		return errRewardAmount
	}
	if e.duration == 0 {
		return errZeroDuration
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	e.checkpoint(pool, nil)

	now := uint64(e.now())
	duration := new(big.Int).SetUint64(e.duration)
	if now >= pool.PeriodFinish {
		pool.RewardRate = new(big.Int).Quo(amount, duration)
	} else {
		remaining := new(big.Int).SetUint64(pool.PeriodFinish - now)
		leftover := new(big.Int).Mul(remaining, pool.RewardRate)
		// Remainders smaller than the duration are dust lost to truncation.
		total := new(big.Int).Add(amount, leftover)
		pool.RewardRate = total.Quo(total, duration)
	}
	pool.LastUpdateTime = now
	pool.PeriodFinish = now + e.duration

	if err := e.state.RewardsPoolPut(pool); err != nil {
		return err
	}
	e.emit(rewardAddedEvent(amount))
	return nil
}

// GetReward settles the caller's accrued reward through the allocation ledger
// and returns the amount paid. A zero return with nil error means nothing was
// owed.
func (e *Engine) GetReward(addr crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	participant, err := e.ensureParticipant(addr)
	if err != nil {
		return nil, err
	}
	e.checkpoint(pool, participant)
	reward, err := e.payRewardLocked(participant)
	if err != nil {
		return nil, err
	}
	if err := e.persist(pool, participant); err != nil {
		return nil, err
	}
	if reward.Sign() > 0 {
		e.emit(rewardPaidEvent(addr, reward))
	}
	return reward, nil
}

// SetRewardAuthority rotates the reward-distribution authority. Only the
// configured owner may call it.
func (e *Engine) SetRewardAuthority(caller, authority crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !sameAddress(caller, e.owner) {
		return ErrNotOwner
	}
	previous := e.authority
	e.authority = authority
	e.emit(authorityUpdatedEvent(previous, authority))
	return nil
}

// Earned reports the participant's total unclaimed entitlement at this
// instant without mutating state.
func (e *Engine) Earned(addr crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	participant, err := e.ensureParticipant(addr)
	if err != nil {
		return nil, err
	}
	return e.earnedAmount(pool, participant), nil
}

// StakedBalance reports the participant's current staked amount.
func (e *Engine) StakedBalance(addr crypto.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	participant, err := e.ensureParticipant(addr)
	if err != nil {
		return nil, err
	}
	return copyBigInt(participant.Staked), nil
}

// PoolSnapshot returns a copy of the global pool state.
func (e *Engine) PoolSnapshot() (*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensurePool()
}

// ParticipantSnapshot returns a copy of the participant record, materialising
// the lazily-created default for addresses that never staked.
func (e *Engine) ParticipantSnapshot(addr crypto.Address) (*Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureParticipant(addr)
}

// LastTimeRewardApplicable exposes the accrual bound min(now, periodFinish).
func (e *Engine) LastTimeRewardApplicable() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return 0, err
	}
	return e.lastTimeApplicable(pool), nil
}

// RewardPerUnit exposes the accumulator advanced to the current time.
func (e *Engine) RewardPerUnit() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	return e.rewardPerUnit(pool), nil
}
