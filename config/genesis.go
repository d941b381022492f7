package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stakestream/crypto"
)

// GenesisGrant seeds a vesting distributor at startup: the address receives
// the distributor role and, when Budget is set, an initial assigned budget.
type GenesisGrant struct {
	Distributor crypto.Address
	Budget      *big.Int
}

type genesisFile struct {
	Grants []genesisGrant `yaml:"grants"`
}

type genesisGrant struct {
	Distributor string `yaml:"distributor"`
	Budget      string `yaml:"budget"`
}

// LoadGenesisGrants parses the YAML grants manifest. A missing path yields an
// empty grant list so fresh networks can start without one.
func LoadGenesisGrants(path string) ([]GenesisGrant, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var file genesisFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse genesis grants: %w", err)
	}

	grants := make([]GenesisGrant, 0, len(file.Grants))
	for i, entry := range file.Grants {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(entry.Distributor))
		if err != nil {
			return nil, fmt.Errorf("genesis grant %d: %w", i, err)
		}
		grant := GenesisGrant{Distributor: addr, Budget: big.NewInt(0)}
		if trimmed := strings.TrimSpace(entry.Budget); trimmed != "" {
			budget, ok := new(big.Int).SetString(trimmed, 10)
			if !ok || budget.Sign() < 0 {
				return nil, fmt.Errorf("genesis grant %d: invalid budget %q", i, entry.Budget)
			}
			grant.Budget = budget
		}
		grants = append(grants, grant)
	}
	return grants, nil
}
