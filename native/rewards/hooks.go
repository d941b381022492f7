package rewards

import (
	"math/big"

	"stakestream/crypto"
)

// Transfer-hook adapter. The wrapped-token gate reports every mint, burn, and
// transfer here so pool balances track the token supply exactly. All three
// notifications run under the engine mutex as one atomic operation, including
// the payout that a full withdrawal triggers.

// HandleTokenTransfer dispatches a raw (from, to, amount) notification: a zero
// `from` is a mint, a zero `to` is a burn, anything else is a transfer.
func (e *Engine) HandleTokenTransfer(from, to crypto.Address, amount *big.Int) error {
	if from.IsZero() {
		return e.OnTokenMint(to, amount)
	}
	if to.IsZero() {
		return e.OnTokenBurn(from, amount)
	}
	return e.OnTokenTransfer(from, to, amount)
}

// OnTokenMint stakes newly minted wrapped tokens for the recipient.
func (e *Engine) OnTokenMint(to crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stake(to, amount)
}

// OnTokenBurn withdraws the burned amount and, when the holder's stake is
// fully unwound, settles their accrued reward through the allocation ledger.
// A ledger rejection aborts the withdrawal as well; nothing is persisted.
func (e *Engine) OnTokenBurn(from crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	participant, err := e.ensureParticipant(from)
	if err != nil {
		return err
	}
	e.checkpoint(pool, participant)
	if err := withdrawLocked(pool, participant, amount); err != nil {
		return err
	}
	reward := big.NewInt(0)
	if participant.Staked.Sign() == 0 {
		reward, err = e.payRewardLocked(participant)
		if err != nil {
			return err
		}
	}
	if err := e.persist(pool, participant); err != nil {
		return err
	}
	e.emit(withdrawnEvent(from, amount))
	if reward.Sign() > 0 {
		e.emit(rewardPaidEvent(from, reward))
	}
	return nil
}

// OnTokenTransfer moves stake between two holders. Both sides checkpoint
// during their respective mutations so no accrual is double-counted.
func (e *Engine) OnTokenTransfer(from, to crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	sender, err := e.ensureParticipant(from)
	if err != nil {
		return err
	}
	e.checkpoint(pool, sender)
	if err := withdrawLocked(pool, sender, amount); err != nil {
		return err
	}

	recipient := sender
	if !sameAddress(from, to) {
		recipient, err = e.ensureParticipant(to)
		if err != nil {
			return err
		}
		e.checkpoint(pool, recipient)
	}
	if err := stakeLocked(pool, recipient, amount); err != nil {
		return err
	}

	if err := e.persist(pool, sender, recipient); err != nil {
		return err
	}
	e.emit(withdrawnEvent(from, amount))
	e.emit(stakedEvent(to, amount))
	return nil
}
