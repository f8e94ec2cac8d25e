package clearing

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const claimKeyBits = 96

// OptionKey is the 160-bit content hash identifying an option type.
type OptionKey [20]byte

// ClaimKey is the 96-bit per-option claim counter. The zero key denotes the
// fungible option unit rather than a claim.
type ClaimKey [12]byte

// TokenID is the 256-bit position token identifier laid out big-endian as
// (optionKey << 96) | claimKey.
type TokenID [32]byte

var claimKeyMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), claimKeyBits), uint256.NewInt(1))

// EncodeTokenID packs an option key and claim key into a token identifier.
func EncodeTokenID(option OptionKey, claim ClaimKey) TokenID {
	id := new(uint256.Int).SetBytes20(option[:])
	id.Lsh(id, claimKeyBits)
	id.Or(id, claim.uint256())
	return TokenID(id.Bytes32())
}

// Decode splits the identifier into its option key and claim key.
func (id TokenID) Decode() (OptionKey, ClaimKey) {
	v := new(uint256.Int).SetBytes32(id[:])
	low := new(uint256.Int).And(v, claimKeyMask)
	v.Rsh(v, claimKeyBits)
	var claim ClaimKey
	raw := low.Bytes32()
	copy(claim[:], raw[32-len(claim):])
	return OptionKey(v.Bytes20()), claim
}

// OptionKey returns the option type component of the identifier.
func (id TokenID) OptionKey() OptionKey {
	option, _ := id.Decode()
	return option
}

// ClaimKey returns the claim component of the identifier.
func (id TokenID) ClaimKey() ClaimKey {
	_, claim := id.Decode()
	return claim
}

// IsClaim reports whether the identifier names a claim receipt.
func (id TokenID) IsClaim() bool {
	return !id.ClaimKey().IsZero()
}

// String renders the identifier as 0x-prefixed, zero-padded hex.
func (id TokenID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Uint256 returns the identifier as an integer.
func (id TokenID) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(id[:])
}

// ParseTokenID accepts a 0x-prefixed hex string (up to 32 bytes) or a decimal
// integer.
func ParseTokenID(raw string) (TokenID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TokenID{}, fmt.Errorf("clearing: empty token id")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if len(trimmed)%2 == 1 {
			trimmed = "0x0" + trimmed[2:]
		}
		if _, err := hex.DecodeString(trimmed[2:]); err != nil {
			return TokenID{}, fmt.Errorf("clearing: invalid token id %q: %w", raw, err)
		}
		decoded := common.FromHex(trimmed)
		if len(decoded) > 32 {
			return TokenID{}, fmt.Errorf("clearing: token id %q exceeds 256 bits", raw)
		}
		var id TokenID
		copy(id[:], common.LeftPadBytes(decoded, 32))
		return id, nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return TokenID{}, fmt.Errorf("clearing: invalid token id %q: %w", raw, err)
	}
	return TokenID(v.Bytes32()), nil
}

// OptionID returns the identifier of the fungible option unit.
func (k OptionKey) OptionID() TokenID {
	return EncodeTokenID(k, ClaimKey{})
}

// String renders the key as 0x-prefixed hex.
func (k OptionKey) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

// ClaimKeyFromUint64 widens a counter value into a claim key.
func ClaimKeyFromUint64(v uint64) ClaimKey {
	var k ClaimKey
	binary.BigEndian.PutUint64(k[len(k)-8:], v)
	return k
}

// IsZero reports whether the key is the reserved option-unit key.
func (k ClaimKey) IsZero() bool {
	return k == ClaimKey{}
}

// String renders the key in decimal.
func (k ClaimKey) String() string {
	return k.uint256().Dec()
}

func (k ClaimKey) uint256() *uint256.Int {
	return new(uint256.Int).SetBytes(k[:])
}

// next returns the following counter value, failing once the 96-bit space is
// exhausted.
func (k ClaimKey) next() (ClaimKey, error) {
	v := k.uint256()
	v.AddUint64(v, 1)
	if v.BitLen() > claimKeyBits {
		return ClaimKey{}, ErrClaimKeyExhausted
	}
	var out ClaimKey
	raw := v.Bytes32()
	copy(out[:], raw[32-len(out):])
	return out, nil
}

// TokenKind classifies a token identifier.
type TokenKind uint8

const (
	TokenKindNone TokenKind = iota
	TokenKindOption
	TokenKindClaim
)

// String returns the lower-case label of the kind.
func (k TokenKind) String() string {
	switch k {
	case TokenKindOption:
		return "option"
	case TokenKindClaim:
		return "claim"
	default:
		return "none"
	}
}
