package rewards

import (
	"math/big"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/crypto"
)

const (
	// EventTypeRewardAdded is emitted when the authority injects new reward.
	EventTypeRewardAdded = "rewards.added"
	// EventTypeStaked is emitted when a participant's stake increases.
	EventTypeStaked = "rewards.staked"
	// EventTypeWithdrawn is emitted when a participant's stake decreases.
	EventTypeWithdrawn = "rewards.withdrawn"
	// EventTypeRewardPaid is emitted when accrued reward leaves the pool
	// through the allocation ledger.
	EventTypeRewardPaid = "rewards.paid"
	// EventTypeAuthorityUpdated is emitted when the owner rotates the
	// reward-distribution authority.
	EventTypeAuthorityUpdated = "rewards.authority.updated"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

func wrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func addrString(addr crypto.Address) string {
	if len(addr.Bytes()) == 0 {
		return ""
	}
	return addr.String()
}

func rewardAddedEvent(amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRewardAdded,
		Attributes: map[string]string{
			"amount": amountString(amount),
		},
	}
}

func stakedEvent(participant crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeStaked,
		Attributes: map[string]string{
			"participant": addrString(participant),
			"amount":      amountString(amount),
		},
	}
}

func withdrawnEvent(participant crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"participant": addrString(participant),
			"amount":      amountString(amount),
		},
	}
}

func rewardPaidEvent(participant crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRewardPaid,
		Attributes: map[string]string{
			"participant": addrString(participant),
			"amount":      amountString(amount),
		},
	}
}

func authorityUpdatedEvent(previous, next crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeAuthorityUpdated,
		Attributes: map[string]string{
			"previous": addrString(previous),
			"next":     addrString(next),
		},
	}
}
