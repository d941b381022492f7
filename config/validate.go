package config

import (
	"fmt"
	"strings"

	"stakestream/crypto"
)

// Validate checks the loaded configuration for values the daemon cannot start
// without. Genesis grant files are validated separately when loaded.
func (c *Config) Validate() error {
	if c.RewardsDuration == 0 {
		return fmt.Errorf("RewardsDuration must be positive")
	}
	required := map[string]string{
		"OwnerAddress":      c.OwnerAddress,
		"RewardAuthority":   c.RewardAuthority,
		"TokenMinter":       c.TokenMinter,
		"TokenCounterparty": c.TokenCounterparty,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be configured", field)
		}
		if _, err := crypto.DecodeAddress(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("Auth.HMACSecret must be set when auth is enabled")
	}
	return nil
}

// Address decodes one of the configured bech32 address fields. Validate must
// have succeeded first.
func Address(value string) (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(value))
}
