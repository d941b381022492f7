package token

import (
	"math/big"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/crypto"
)

const (
	// EventTypeMinted is emitted when wrapped tokens enter circulation.
	EventTypeMinted = "token.minted"
	// EventTypeBurned is emitted when wrapped tokens are redeemed.
	EventTypeBurned = "token.burned"
	// EventTypeTransferred is emitted on counter-party transfers.
	EventTypeTransferred = "token.transferred"
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

func mintedEvent(to crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeMinted,
		Attributes: map[string]string{
			"to":     to.String(),
			"amount": amountString(amount),
		},
	}
}

func burnedEvent(from crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeBurned,
		Attributes: map[string]string{
			"from":   from.String(),
			"amount": amountString(amount),
		},
	}
}

func transferredEvent(from, to crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTransferred,
		Attributes: map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"amount": amountString(amount),
		},
	}
}
