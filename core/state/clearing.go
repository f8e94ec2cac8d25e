package state

import (
	"fmt"
	"math/big"

	"optionclear/native/clearing"
	"optionclear/native/fees"
)

type storedOptionType struct {
	Key               [20]byte
	UnderlyingAsset   [20]byte
	UnderlyingAmount  *big.Int
	ExerciseAsset     [20]byte
	ExerciseAmount    *big.Int
	ExerciseTimestamp uint64
	ExpiryTimestamp   uint64
	SettlementSeed    [20]byte
	NextClaimKey      [12]byte
	Creator           [20]byte
	CreatedAt         uint64
}

func toUnix(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func newStoredOptionType(option *clearing.OptionType) *storedOptionType {
	terms := option.Terms
	return &storedOptionType{
		Key:               option.Key,
		UnderlyingAsset:   terms.UnderlyingAsset,
		UnderlyingAmount:  nonNil(terms.UnderlyingAmount),
		ExerciseAsset:     terms.ExerciseAsset,
		ExerciseAmount:    nonNil(terms.ExerciseAmount),
		ExerciseTimestamp: toUnix(terms.ExerciseTimestamp),
		ExpiryTimestamp:   toUnix(terms.ExpiryTimestamp),
		SettlementSeed:    option.SettlementSeed,
		NextClaimKey:      option.NextClaimKey,
		Creator:           option.Creator,
		CreatedAt:         toUnix(option.CreatedAt),
	}
}

func (s *storedOptionType) toOptionType() *clearing.OptionType {
	return &clearing.OptionType{
		Key: clearing.OptionKey(s.Key),
		Terms: clearing.OptionTerms{
			UnderlyingAsset:   s.UnderlyingAsset,
			UnderlyingAmount:  nonNil(s.UnderlyingAmount),
			ExerciseAsset:     s.ExerciseAsset,
			ExerciseAmount:    nonNil(s.ExerciseAmount),
			ExerciseTimestamp: int64(s.ExerciseTimestamp),
			ExpiryTimestamp:   int64(s.ExpiryTimestamp),
		},
		SettlementSeed: s.SettlementSeed,
		NextClaimKey:   clearing.ClaimKey(s.NextClaimKey),
		Creator:        s.Creator,
		CreatedAt:      int64(s.CreatedAt),
	}
}

type storedBucket struct {
	AmountWritten   *big.Int
	AmountExercised *big.Int
}

type storedClaimIndex struct {
	AmountWritten *big.Int
	BucketIndex   uint64
}

type storedFeePolicy struct {
	Enabled     bool
	BasisPoints uint32
	Recipient   [20]byte
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func clearingOptionKey(key clearing.OptionKey) []byte {
	return joinKey(clearingOptionPrefix, key[:])
}

func (m *Manager) listLen(key []byte) (uint64, error) {
	var n uint64
	if _, err := m.KVGet(key, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// ClearingOptionGet loads an option type by key.
func (m *Manager) ClearingOptionGet(key clearing.OptionKey) (*clearing.OptionType, bool, error) {
	var stored storedOptionType
	ok, err := m.KVGet(clearingOptionKey(key), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toOptionType(), true, nil
}

// ClearingOptionPut stores an option type record.
func (m *Manager) ClearingOptionPut(option *clearing.OptionType) error {
	if option == nil {
		return fmt.Errorf("clearing: nil option type")
	}
	return m.KVPut(clearingOptionKey(option.Key), newStoredOptionType(option))
}

// ClearingBucketLen returns the number of buckets of the option type.
func (m *Manager) ClearingBucketLen(key clearing.OptionKey) (uint64, error) {
	return m.listLen(joinKey(clearingBucketLenPrefix, key[:]))
}

// ClearingBucketGet loads the bucket at index.
func (m *Manager) ClearingBucketGet(key clearing.OptionKey, index uint64) (*clearing.Bucket, error) {
	var stored storedBucket
	ok, err := m.KVGet(joinKey(clearingBucketPrefix, key[:], indexBytes(index)), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("clearing: bucket %d of %x not found", index, key)
	}
	return &clearing.Bucket{AmountWritten: nonNil(stored.AmountWritten), AmountExercised: nonNil(stored.AmountExercised)}, nil
}

// ClearingBucketPut overwrites the bucket at index or appends it when index
// equals the current length.
func (m *Manager) ClearingBucketPut(key clearing.OptionKey, index uint64, bucket *clearing.Bucket) error {
	if bucket == nil {
		return fmt.Errorf("clearing: nil bucket")
	}
	lenKey := joinKey(clearingBucketLenPrefix, key[:])
	n, err := m.listLen(lenKey)
	if err != nil {
		return err
	}
	if index > n {
		return fmt.Errorf("clearing: bucket index %d beyond length %d", index, n)
	}
	stored := &storedBucket{AmountWritten: nonNil(bucket.AmountWritten), AmountExercised: nonNil(bucket.AmountExercised)}
	if err := m.KVPut(joinKey(clearingBucketPrefix, key[:], indexBytes(index)), stored); err != nil {
		return err
	}
	if index == n {
		return m.KVPut(lenKey, n+1)
	}
	return nil
}

// ClearingOpenBucketLen returns the size of the unexercised bucket set.
func (m *Manager) ClearingOpenBucketLen(key clearing.OptionKey) (uint64, error) {
	return m.listLen(joinKey(clearingOpenLenPrefix, key[:]))
}

// ClearingOpenBucketAt returns the bucket index stored in slot pos.
func (m *Manager) ClearingOpenBucketAt(key clearing.OptionKey, pos uint64) (uint64, error) {
	var index uint64
	ok, err := m.KVGet(joinKey(clearingOpenPrefix, key[:], indexBytes(pos)), &index)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("clearing: open slot %d of %x not found", pos, key)
	}
	return index, nil
}

// ClearingOpenBucketPush appends a bucket index to the unexercised set.
func (m *Manager) ClearingOpenBucketPush(key clearing.OptionKey, bucketIndex uint64) error {
	lenKey := joinKey(clearingOpenLenPrefix, key[:])
	n, err := m.listLen(lenKey)
	if err != nil {
		return err
	}
	if err := m.KVPut(joinKey(clearingOpenPrefix, key[:], indexBytes(n)), bucketIndex); err != nil {
		return err
	}
	return m.KVPut(lenKey, n+1)
}

// ClearingOpenBucketSwapRemove moves the last slot into pos and shrinks the
// set by one.
func (m *Manager) ClearingOpenBucketSwapRemove(key clearing.OptionKey, pos uint64) error {
	lenKey := joinKey(clearingOpenLenPrefix, key[:])
	n, err := m.listLen(lenKey)
	if err != nil {
		return err
	}
	if pos >= n {
		return fmt.Errorf("clearing: open slot %d beyond length %d", pos, n)
	}
	last := n - 1
	if pos != last {
		moved, err := m.ClearingOpenBucketAt(key, last)
		if err != nil {
			return err
		}
		if err := m.KVPut(joinKey(clearingOpenPrefix, key[:], indexBytes(pos)), moved); err != nil {
			return err
		}
	}
	if err := m.KVDelete(joinKey(clearingOpenPrefix, key[:], indexBytes(last))); err != nil {
		return err
	}
	return m.KVPut(lenKey, last)
}

// ClearingClaimIndexLen returns the number of index entries of a claim.
func (m *Manager) ClearingClaimIndexLen(claimID clearing.TokenID) (uint64, error) {
	return m.listLen(joinKey(clearingClaimLenPrefix, claimID[:]))
}

// ClearingClaimIndexAt loads entry pos of a claim's index.
func (m *Manager) ClearingClaimIndexAt(claimID clearing.TokenID, pos uint64) (*clearing.ClaimIndex, error) {
	var stored storedClaimIndex
	ok, err := m.KVGet(joinKey(clearingClaimPrefix, claimID[:], indexBytes(pos)), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("clearing: claim index %d of %s not found", pos, claimID)
	}
	return &clearing.ClaimIndex{AmountWritten: nonNil(stored.AmountWritten), BucketIndex: stored.BucketIndex}, nil
}

// ClearingClaimIndexPut overwrites entry pos or appends when pos equals the
// current length.
func (m *Manager) ClearingClaimIndexPut(claimID clearing.TokenID, pos uint64, entry *clearing.ClaimIndex) error {
	if entry == nil {
		return fmt.Errorf("clearing: nil claim index")
	}
	lenKey := joinKey(clearingClaimLenPrefix, claimID[:])
	n, err := m.listLen(lenKey)
	if err != nil {
		return err
	}
	if pos > n {
		return fmt.Errorf("clearing: claim index %d beyond length %d", pos, n)
	}
	stored := &storedClaimIndex{AmountWritten: nonNil(entry.AmountWritten), BucketIndex: entry.BucketIndex}
	if err := m.KVPut(joinKey(clearingClaimPrefix, claimID[:], indexBytes(pos)), stored); err != nil {
		return err
	}
	if pos == n {
		return m.KVPut(lenKey, n+1)
	}
	return nil
}

// ClearingClaimIndexPop removes the last entry of a claim's index.
func (m *Manager) ClearingClaimIndexPop(claimID clearing.TokenID) error {
	lenKey := joinKey(clearingClaimLenPrefix, claimID[:])
	n, err := m.listLen(lenKey)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("clearing: claim index of %s empty", claimID)
	}
	if err := m.KVDelete(joinKey(clearingClaimPrefix, claimID[:], indexBytes(n-1))); err != nil {
		return err
	}
	if n == 1 {
		return m.KVDelete(lenKey)
	}
	return m.KVPut(lenKey, n-1)
}

// ClearingFeeAccrued returns the unswept fees of an asset.
func (m *Manager) ClearingFeeAccrued(asset [20]byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(joinKey(clearingFeeAccruedPrefix, asset[:]), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// ClearingFeeAccruedPut overwrites the unswept fees of an asset.
func (m *Manager) ClearingFeeAccruedPut(asset [20]byte, amount *big.Int) error {
	key := joinKey(clearingFeeAccruedPrefix, asset[:])
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("clearing: negative fee accrual")
	}
	return m.KVPut(key, amount)
}

// ClearingFeePolicy returns the stored fee policy, if any.
func (m *Manager) ClearingFeePolicy() (fees.Policy, bool, error) {
	var stored storedFeePolicy
	ok, err := m.KVGet(clearingFeePolicyKeyBytes, &stored)
	if err != nil || !ok {
		return fees.Policy{}, false, err
	}
	return fees.Policy{Enabled: stored.Enabled, BasisPoints: stored.BasisPoints, Recipient: stored.Recipient}, true, nil
}

// ClearingFeePolicyPut persists the fee policy.
func (m *Manager) ClearingFeePolicyPut(policy fees.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return m.KVPut(clearingFeePolicyKeyBytes, &storedFeePolicy{
		Enabled:     policy.Enabled,
		BasisPoints: policy.BasisPoints,
		Recipient:   policy.Recipient,
	})
}
