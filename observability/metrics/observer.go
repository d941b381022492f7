package metrics

import (
	"math/big"

	"stakestream/core/events"
	"stakestream/core/types"
	"stakestream/native/rewards"
)

type eventCarrier interface {
	Event() *types.Event
}

// Observer is an events.Emitter that turns pool events into metric updates.
// Wire it alongside the gateway bus with events.MultiEmitter.
type Observer struct {
	metrics *RewardsMetrics
}

// NewObserver constructs an observer bound to the shared rewards registry.
func NewObserver() *Observer {
	return &Observer{metrics: Rewards()}
}

// Emit implements events.Emitter.
func (o *Observer) Emit(evt events.Event) {
	if o == nil || evt == nil {
		return
	}
	carrier, ok := evt.(eventCarrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	amount := attributeAmount(payload)
	switch payload.Type {
	case rewards.EventTypeStaked:
		o.metrics.RecordStaked(amount)
	case rewards.EventTypeWithdrawn:
		o.metrics.RecordWithdrawn(amount)
	case rewards.EventTypeRewardPaid:
		o.metrics.RecordRewardPaid(amount)
	case rewards.EventTypeRewardAdded:
		o.metrics.RecordRewardAdded(amount)
	}
}

func attributeAmount(evt *types.Event) *big.Int {
	raw, ok := evt.Attributes["amount"]
	if !ok {
		return big.NewInt(0)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return big.NewInt(0)
	}
	return amount
}
