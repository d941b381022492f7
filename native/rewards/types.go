package rewards

import (
	"math/big"

	"stakestream/crypto"
)

// Pool captures the global accrual state shared by every participant. A single
// instance lives in state for the lifetime of the process.
type Pool struct {
	TotalStaked         *big.Int `json:"totalStaked"`
	RewardPerUnitStored *big.Int `json:"rewardPerUnitStored"`
	LastUpdateTime      uint64   `json:"lastUpdateTime"`
	RewardRate          *big.Int `json:"rewardRate"`
	PeriodFinish        uint64   `json:"periodFinish"`
}

// Clone produces a deep copy of the pool to protect internal references.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		TotalStaked:         copyBigInt(p.TotalStaked),
		RewardPerUnitStored: copyBigInt(p.RewardPerUnitStored),
		LastUpdateTime:      p.LastUpdateTime,
		RewardRate:          copyBigInt(p.RewardRate),
		PeriodFinish:        p.PeriodFinish,
	}
}

func (p *Pool) normalize() *Pool {
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
	if p.RewardPerUnitStored == nil {
		p.RewardPerUnitStored = big.NewInt(0)
	}
	if p.RewardRate == nil {
		p.RewardRate = big.NewInt(0)
	}
	return p
}

// Participant tracks one staker's balance and reward checkpoint. Records are
// created lazily on first stake and persist with zero balances thereafter.
type Participant struct {
	Address           crypto.Address `json:"address"`
	Staked            *big.Int       `json:"staked"`
	RewardPerUnitPaid *big.Int       `json:"rewardPerUnitPaid"`
	Owed              *big.Int       `json:"owed"`
}

// Clone produces a deep copy of the participant record.
func (p *Participant) Clone() *Participant {
	if p == nil {
		return nil
	}
	return &Participant{
		Address:           p.Address,
		Staked:            copyBigInt(p.Staked),
		RewardPerUnitPaid: copyBigInt(p.RewardPerUnitPaid),
		Owed:              copyBigInt(p.Owed),
	}
}

func (p *Participant) normalize() *Participant {
	if p.Staked == nil {
		p.Staked = big.NewInt(0)
	}
	if p.RewardPerUnitPaid == nil {
		p.RewardPerUnitPaid = big.NewInt(0)
	}
	if p.Owed == nil {
		p.Owed = big.NewInt(0)
	}
	return p
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
