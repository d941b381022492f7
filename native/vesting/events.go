package vesting

import (
	"math/big"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/crypto"
)

const (
	// EventTypeRoleGranted is emitted when an address gains the distributor role.
	EventTypeRoleGranted = "vesting.role.granted"
	// EventTypeRoleRevoked is emitted when the distributor role is removed.
	EventTypeRoleRevoked = "vesting.role.revoked"
	// EventTypeAssigned is emitted when a distributor's budget is funded.
	EventTypeAssigned = "vesting.assigned"
	// EventTypeAllocated is emitted when value is scheduled for a recipient.
	EventTypeAllocated = "vesting.allocated"
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

func roleGrantedEvent(addr crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeRoleGranted,
		Attributes: map[string]string{
			"distributor": addr.String(),
		},
	}
}

func roleRevokedEvent(addr crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeRoleRevoked,
		Attributes: map[string]string{
			"distributor": addr.String(),
		},
	}
}

func assignedEvent(distributor crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeAssigned,
		Attributes: map[string]string{
			"distributor": distributor.String(),
			"amount":      amountString(amount),
		},
	}
}

func allocatedEvent(distributor, recipient crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeAllocated,
		Attributes: map[string]string{
			"distributor": distributor.String(),
			"recipient":   recipient.String(),
			"amount":      amountString(amount),
		},
	}
}
