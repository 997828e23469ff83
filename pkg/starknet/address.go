// Package starknet holds the felt and address helpers shared by the indexer decoders, the
// marketplace book and the RPC client.
package starknet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ZeroAddress is the normalized zero felt.
const ZeroAddress = "0x0000000000000000000000000000000000000000000000000000000000000000"

var ErrInvalidAddress = errors.New("invalid starknet address")

// Normalize returns the lowercase, 0x-prefixed, 64 hex digit form of a felt.
func Normalize(addr string) (string, error) {
	s := strings.TrimSpace(addr)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	s = strings.ToLower(s)
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
	}
	return "0x" + strings.Repeat("0", 64-len(s)) + s, nil
}

// MustNormalize is Normalize for trusted inputs; invalid input comes back lowercased as is.
func MustNormalize(addr string) string {
	n, err := Normalize(addr)
	if err != nil {
		return strings.ToLower(addr)
	}
	return n
}

// IsZero reports whether addr is the zero felt. Invalid input is not zero.
func IsZero(addr string) bool {
	n, err := Normalize(addr)
	return err == nil && n == ZeroAddress
}

// Equal compares two addresses by value.
func Equal(a, b string) bool {
	na, errA := Normalize(a)
	nb, errB := Normalize(b)
	return errA == nil && errB == nil && na == nb
}

// Keccak is starknet_keccak: keccak256 truncated to 250 bits.
func Keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	sum := h.Sum(nil)
	sum[0] &= 0x03
	return sum
}

// Selector returns the entry point selector for a function name.
func Selector(name string) string {
	return "0x" + new(big.Int).SetBytes(Keccak([]byte(name))).Text(16)
}

// Checksum returns the mixed-case checksummed form of an address, the same casing wallets
// and explorers display for collection contracts.
func Checksum(addr string) (string, error) {
	n, err := Normalize(addr)
	if err != nil {
		return "", err
	}
	chars := []byte(n[2:])

	value, _ := new(big.Int).SetString(n[2:], 16)
	raw := value.Bytes()
	if len(raw) == 0 {
		raw = []byte{0}
	}
	hashed := Keccak(raw)

	for i := 0; i < len(chars); i += 2 {
		b := hashed[i>>1]
		if b>>4 >= 8 {
			chars[i] = upper(chars[i])
		}
		if b&0x0f >= 8 {
			chars[i+1] = upper(chars[i+1])
		}
	}
	return "0x" + string(chars), nil
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}

// FeltToString decodes a short string felt ("0x534e5f4d41494e" -> "SN_MAIN").
func FeltToString(felt string) (string, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(felt), "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode felt %q: %w", felt, err)
	}
	return strings.TrimLeft(string(b), "\x00"), nil
}

// ParseFelt parses a hex or decimal felt into a big.Int.
func ParseFelt(v string) (*big.Int, error) {
	v = strings.TrimSpace(v)
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		_, ok = n.SetString(v[2:], 16)
	} else {
		_, ok = n.SetString(v, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid felt %q", v)
	}
	return n, nil
}
