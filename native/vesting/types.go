package vesting

import (
	"math/big"

	"stakestream/crypto"
)

// Grant records a distributor's standing with the ledger: whether it holds the
// distributor role and how much allocation budget remains assigned to it.
type Grant struct {
	Distributor    crypto.Address `json:"distributor"`
	HasRole        bool           `json:"hasRole"`
	Assigned       *big.Int       `json:"assigned"`
	TotalAssigned  *big.Int       `json:"totalAssigned"`
	TotalAllocated *big.Int       `json:"totalAllocated"`
}

// Clone produces a deep copy of the grant record.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	return &Grant{
		Distributor:    g.Distributor,
		HasRole:        g.HasRole,
		Assigned:       copyBigInt(g.Assigned),
		TotalAssigned:  copyBigInt(g.TotalAssigned),
		TotalAllocated: copyBigInt(g.TotalAllocated),
	}
}

func (g *Grant) normalize() *Grant {
	if g.Assigned == nil {
		g.Assigned = big.NewInt(0)
	}
	if g.TotalAssigned == nil {
		g.TotalAssigned = big.NewInt(0)
	}
	if g.TotalAllocated == nil {
		g.TotalAllocated = big.NewInt(0)
	}
	return g
}

// Allocation accumulates everything the ledger has scheduled for a recipient.
// The vesting schedule itself (cliffs, release curve) is applied downstream of
// this record.
type Allocation struct {
	Recipient crypto.Address `json:"recipient"`
	Total     *big.Int       `json:"total"`
	UpdatedAt int64          `json:"updatedAt"`
}

// Clone produces a deep copy of the allocation record.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	return &Allocation{
		Recipient: a.Recipient,
		Total:     copyBigInt(a.Total),
		UpdatedAt: a.UpdatedAt,
	}
}

func (a *Allocation) normalize() *Allocation {
	if a.Total == nil {
		a.Total = big.NewInt(0)
	}
	return a
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
