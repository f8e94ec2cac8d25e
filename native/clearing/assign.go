package clearing

import (
	"math/big"

	"lukechampine.com/blake3"
)

// assignExercise spreads amount across unexercised buckets starting at the
// slot selected by the settlement seed. Exhausted buckets are swap-removed
// from the open set. The option's seed is rolled forward before returning.
func (e *Engine) assignExercise(option *OptionType, amount *big.Int) ([]BucketAssignment, error) {
	key := option.Key
	open, err := e.state.ClearingOpenBucketLen(key)
	if err != nil {
		return nil, err
	}
	if open == 0 {
		return nil, ErrNoOpenBuckets
	}

	cursor := seedCursor(option.SettlementSeed, open)
	remaining := cloneBigInt(amount)
	var assignments []BucketAssignment

	for remaining.Sign() > 0 {
		bucketIndex, err := e.state.ClearingOpenBucketAt(key, cursor)
		if err != nil {
			return nil, err
		}
		bucket, err := e.state.ClearingBucketGet(key, bucketIndex)
		if err != nil {
			return nil, err
		}
		available := bucket.Available()
		if available.Sign() <= 0 {
			return nil, ErrCorruptLedger
		}

		var assigned *big.Int
		if available.Cmp(remaining) <= 0 {
			assigned = available
			remaining.Sub(remaining, available)
			bucket.AmountExercised = cloneBigInt(bucket.AmountWritten)
			if err := e.state.ClearingOpenBucketSwapRemove(key, cursor); err != nil {
				return nil, err
			}
			open--
		} else {
			assigned = cloneBigInt(remaining)
			bucket.AmountExercised = new(big.Int).Add(cloneBigInt(bucket.AmountExercised), remaining)
			remaining.SetInt64(0)
		}
		if err := e.state.ClearingBucketPut(key, bucketIndex, bucket); err != nil {
			return nil, err
		}
		assignments = append(assignments, BucketAssignment{BucketIndex: bucketIndex, Amount: assigned})

		if remaining.Sign() > 0 {
			if open == 0 {
				return nil, ErrNoOpenBuckets
			}
			cursor = (cursor + 1) % open
		}
	}

	option.SettlementSeed = nextSeed(option.SettlementSeed, cursor)
	return assignments, nil
}

// seedCursor reduces the seed modulo the open set size.
func seedCursor(seed [20]byte, open uint64) uint64 {
	v := new(big.Int).SetBytes(seed[:])
	return v.Mod(v, new(big.Int).SetUint64(open)).Uint64()
}

// nextSeed chains the seed with the final cursor: blake3(seed || cursor),
// both as 32-byte big-endian words, truncated to the low 160 bits.
func nextSeed(seed [20]byte, cursor uint64) [20]byte {
	var buf [64]byte
	copy(buf[32-len(seed):32], seed[:])
	new(big.Int).SetUint64(cursor).FillBytes(buf[32:])
	digest := blake3.Sum256(buf[:])
	var out [20]byte
	copy(out[:], digest[len(digest)-len(out):])
	return out
}
