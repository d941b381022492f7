package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"

	"stakestream/crypto"
	"stakestream/native/rewards"
	"stakestream/native/vesting"
)

const (
	keyRewardsPool        = "rewards/pool"
	keyRewardsParticipant = "rewards/participant/"
	keyVestingGrant       = "vesting/grant/"
	keyVestingAllocation  = "vesting/allocation/"
	keyTokenBalance       = "token/balance/"
	keyTokenSupply        = "token/supply"
)

// State adapts a key-value Database to the persistence interfaces consumed by
// the rewards engine, the vesting ledger, and the token gate. Records are
// stored as JSON under prefixed keys.
type State struct {
	db Database
}

// NewState wraps the provided database.
func NewState(db Database) *State {
	return &State{db: db}
}

func addrKey(prefix string, addr crypto.Address) []byte {
	return []byte(prefix + hex.EncodeToString(addr.Bytes()))
}

func (s *State) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *State) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

// --- rewards engine state ---

func (s *State) RewardsPoolGet() (*rewards.Pool, error) {
	pool := new(rewards.Pool)
	ok, err := s.getJSON([]byte(keyRewardsPool), pool)
	if err != nil || !ok {
		return nil, err
	}
	return pool, nil
}

func (s *State) RewardsPoolPut(pool *rewards.Pool) error {
	return s.putJSON([]byte(keyRewardsPool), pool)
}

func (s *State) RewardsParticipantGet(addr crypto.Address) (*rewards.Participant, error) {
	participant := new(rewards.Participant)
	ok, err := s.getJSON(addrKey(keyRewardsParticipant, addr), participant)
	if err != nil || !ok {
		return nil, err
	}
	return participant, nil
}

func (s *State) RewardsParticipantPut(participant *rewards.Participant) error {
	return s.putJSON(addrKey(keyRewardsParticipant, participant.Address), participant)
}

// --- vesting ledger state ---

func (s *State) VestingGrantGet(addr crypto.Address) (*vesting.Grant, error) {
	grant := new(vesting.Grant)
	ok, err := s.getJSON(addrKey(keyVestingGrant, addr), grant)
	if err != nil || !ok {
		return nil, err
	}
	return grant, nil
}

func (s *State) VestingGrantPut(grant *vesting.Grant) error {
	return s.putJSON(addrKey(keyVestingGrant, grant.Distributor), grant)
}

func (s *State) VestingAllocationGet(addr crypto.Address) (*vesting.Allocation, error) {
	allocation := new(vesting.Allocation)
	ok, err := s.getJSON(addrKey(keyVestingAllocation, addr), allocation)
	if err != nil || !ok {
		return nil, err
	}
	return allocation, nil
}

func (s *State) VestingAllocationPut(allocation *vesting.Allocation) error {
	return s.putJSON(addrKey(keyVestingAllocation, allocation.Recipient), allocation)
}

// --- token gate state ---

func (s *State) TokenBalanceGet(addr crypto.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := s.getJSON(addrKey(keyTokenBalance, addr), balance)
	if err != nil || !ok {
		return nil, err
	}
	return balance, nil
}

func (s *State) TokenBalancePut(addr crypto.Address, balance *big.Int) error {
	return s.putJSON(addrKey(keyTokenBalance, addr), balance)
}

func (s *State) TokenSupplyGet() (*big.Int, error) {
	supply := new(big.Int)
	ok, err := s.getJSON([]byte(keyTokenSupply), supply)
	if err != nil || !ok {
		return nil, err
	}
	return supply, nil
}

func (s *State) TokenSupplyPut(supply *big.Int) error {
	return s.putJSON([]byte(keyTokenSupply), supply)
}
