package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable prefixes used for bech32 addresses.
type AddressPrefix string

const (
	// StakePrefix identifies pool participants and reward recipients.
	StakePrefix AddressPrefix = "stk"
	// WrapPrefix identifies accounts on the wrapped-token surface.
	WrapPrefix AddressPrefix = "wstk"
)

// Address represents a 20-byte account address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

// MustNewAddress constructs an address and panics on malformed input. Intended
// for fixtures and event formatting where the length is already known.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all-zero. The transfer-hook
// adapter treats the zero identity as the mint/burn counter-party.
func (a Address) IsZero() bool {
	if len(a.bytes) == 0 {
		return true
	}
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// MarshalText encodes the address as its bech32 string. Zero-value addresses
// encode as the empty string so persisted records round-trip cleanly.
func (a Address) MarshalText() ([]byte, error) {
	if len(a.bytes) == 0 {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 string produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// PrivateKey is a secp256k1 signing key whose public half determines the
// account address.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

// PublicKey is the verification half of a PrivateKey.
type PublicKey struct {
	*ecdsa.PublicKey
}

// GeneratePrivateKey draws a fresh secp256k1 key from crypto/rand.
func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &PrivateKey{key}, nil
}

// PrivateKeyFromBytes restores a key previously serialized with Bytes.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("parse key material: %w", err)
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address is a shorthand for the address of the key's public half.
func (k *PrivateKey) Address() Address {
	return k.PubKey().Address()
}

// Address derives the participant address from the key: the trailing 20
// bytes of the Keccak hash of the uncompressed public key, under the stake
// prefix.
func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(StakePrefix, addrBytes)
}
