package clearing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OptionTerms are the immutable contract terms of an option type. The option
// key is a content hash over exactly these fields.
type OptionTerms struct {
	UnderlyingAsset   [20]byte
	UnderlyingAmount  *big.Int
	ExerciseAsset     [20]byte
	ExerciseAmount    *big.Int
	ExerciseTimestamp int64
	ExpiryTimestamp   int64
}

// Clone returns a deep copy of the terms.
func (t OptionTerms) Clone() OptionTerms {
	clone := t
	clone.UnderlyingAmount = cloneBigInt(t.UnderlyingAmount)
	clone.ExerciseAmount = cloneBigInt(t.ExerciseAmount)
	return clone
}

// Key computes the option key: the low 160 bits of keccak256 over the
// canonical 32-byte-word encoding of the six terms.
func (t OptionTerms) Key() OptionKey {
	words := [][]byte{
		common.LeftPadBytes(t.UnderlyingAsset[:], 32),
		common.LeftPadBytes(cloneBigInt(t.UnderlyingAmount).Bytes(), 32),
		common.LeftPadBytes(t.ExerciseAsset[:], 32),
		common.LeftPadBytes(cloneBigInt(t.ExerciseAmount).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(t.ExerciseTimestamp).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(t.ExpiryTimestamp).Bytes(), 32),
	}
	digest := ethcrypto.Keccak256(words...)
	var key OptionKey
	copy(key[:], digest[len(digest)-len(key):])
	return key
}

// OptionType is the stored record of a registered option type.
type OptionType struct {
	Key            OptionKey
	Terms          OptionTerms
	SettlementSeed [20]byte
	NextClaimKey   ClaimKey
	Creator        [20]byte
	CreatedAt      int64
}

// ID returns the identifier of the option type's fungible unit.
func (o *OptionType) ID() TokenID {
	return o.Key.OptionID()
}

// Clone returns a deep copy so callers can mutate it without affecting the
// stored instance.
func (o *OptionType) Clone() *OptionType {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Terms = o.Terms.Clone()
	return &clone
}

// Bucket is a cohort of collateral written between two exercise events.
type Bucket struct {
	AmountWritten   *big.Int
	AmountExercised *big.Int
}

// Clone returns a deep copy of the bucket.
func (b *Bucket) Clone() *Bucket {
	if b == nil {
		return nil
	}
	return &Bucket{AmountWritten: cloneBigInt(b.AmountWritten), AmountExercised: cloneBigInt(b.AmountExercised)}
}

// Available returns the amount of the bucket not yet assigned.
func (b *Bucket) Available() *big.Int {
	return new(big.Int).Sub(cloneBigInt(b.AmountWritten), cloneBigInt(b.AmountExercised))
}

// ClaimIndex records how much of a claim's lot sits in one bucket.
type ClaimIndex struct {
	AmountWritten *big.Int
	BucketIndex   uint64
}

// Clone returns a deep copy of the entry.
func (c *ClaimIndex) Clone() *ClaimIndex {
	if c == nil {
		return nil
	}
	return &ClaimIndex{AmountWritten: cloneBigInt(c.AmountWritten), BucketIndex: c.BucketIndex}
}

// Claim is the derived view of a claim receipt. AmountWritten and
// AmountExercised are WAD-scaled; UnderlyingAmount and ExerciseAmount are the
// asset amounts the claim would redeem for right now.
type Claim struct {
	ID               TokenID
	OptionID         TokenID
	ClaimKey         ClaimKey
	AmountWritten    *big.Int
	AmountExercised  *big.Int
	UnderlyingAmount *big.Int
	ExerciseAmount   *big.Int
}

// FullyAssigned reports whether every written unit has been exercised.
func (c *Claim) FullyAssigned() bool {
	return c != nil && c.AmountWritten.Cmp(c.AmountExercised) == 0
}

// Position is the signed asset exposure of one token. An option unit is long
// the underlying and short the exercise asset; a claim is long both.
type Position struct {
	ID                 TokenID
	Kind               TokenKind
	UnderlyingAsset    [20]byte
	UnderlyingPosition *big.Int
	ExerciseAsset      [20]byte
	ExercisePosition   *big.Int
}

// BucketAssignment records the exercise pressure applied to one bucket.
type BucketAssignment struct {
	BucketIndex uint64
	Amount      *big.Int
}

// RedeemResult holds the assets released by a redemption.
type RedeemResult struct {
	ClaimID          TokenID
	UnderlyingAsset  [20]byte
	UnderlyingAmount *big.Int
	ExerciseAsset    [20]byte
	ExerciseAmount   *big.Int
}

// SweepResult holds the fees moved to the recipient for one asset.
type SweepResult struct {
	Asset     [20]byte
	Recipient [20]byte
	Amount    *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
