package clearing

import "math/big"

// addOrUpdateBucket places amount into the current bucket, or opens a new one
// once the current bucket has started exercising. It returns the index of the
// bucket that received the write.
func (e *Engine) addOrUpdateBucket(key OptionKey, amount *big.Int) (uint64, error) {
	count, err := e.state.ClearingBucketLen(key)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		last, err := e.state.ClearingBucketGet(key, count-1)
		if err != nil {
			return 0, err
		}
		if last.AmountExercised == nil || last.AmountExercised.Sign() == 0 {
			written := new(big.Int).Add(cloneBigInt(last.AmountWritten), amount)
			if !fitsBits(written, ledgerBits) {
				return 0, ErrAmountOverflow
			}
			last.AmountWritten = written
			last.AmountExercised = big.NewInt(0)
			if err := e.state.ClearingBucketPut(key, count-1, last); err != nil {
				return 0, err
			}
			return count - 1, nil
		}
	}
	bucket := &Bucket{AmountWritten: cloneBigInt(amount), AmountExercised: big.NewInt(0)}
	if err := e.state.ClearingBucketPut(key, count, bucket); err != nil {
		return 0, err
	}
	if err := e.state.ClearingOpenBucketPush(key, count); err != nil {
		return 0, err
	}
	return count, nil
}

// addOrUpdateClaimIndex records that the claim funded amount of the bucket.
// Writes into the bucket the claim last touched coalesce into that entry.
func (e *Engine) addOrUpdateClaimIndex(claimID TokenID, bucketIndex uint64, amount *big.Int) error {
	count, err := e.state.ClearingClaimIndexLen(claimID)
	if err != nil {
		return err
	}
	if count > 0 {
		last, err := e.state.ClearingClaimIndexAt(claimID, count-1)
		if err != nil {
			return err
		}
		if last.BucketIndex > bucketIndex {
			return ErrCorruptLedger
		}
		if last.BucketIndex == bucketIndex {
			written := new(big.Int).Add(cloneBigInt(last.AmountWritten), amount)
			if !fitsBits(written, ledgerBits) {
				return ErrAmountOverflow
			}
			last.AmountWritten = written
			return e.state.ClearingClaimIndexPut(claimID, count-1, last)
		}
	}
	return e.state.ClearingClaimIndexPut(claimID, count, &ClaimIndex{AmountWritten: cloneBigInt(amount), BucketIndex: bucketIndex})
}

func (e *Engine) loadClaimIndices(claimID TokenID) ([]*ClaimIndex, error) {
	count, err := e.state.ClearingClaimIndexLen(claimID)
	if err != nil {
		return nil, err
	}
	out := make([]*ClaimIndex, 0, count)
	for i := uint64(0); i < count; i++ {
		entry, err := e.state.ClearingClaimIndexAt(claimID, i)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// valueClaim derives a claim's totals from its index entries and the
// buckets they point at.
func (e *Engine) valueClaim(option *OptionType, claimID TokenID) (*Claim, error) {
	indices, err := e.loadClaimIndices(claimID)
	if err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, ErrTokenNotFound
	}
	claim := &Claim{
		ID:               claimID,
		OptionID:         option.ID(),
		ClaimKey:         claimID.ClaimKey(),
		AmountWritten:    big.NewInt(0),
		AmountExercised:  big.NewInt(0),
		UnderlyingAmount: big.NewInt(0),
		ExerciseAmount:   big.NewInt(0),
	}
	for _, idx := range indices {
		bucket, err := e.state.ClearingBucketGet(option.Key, idx.BucketIndex)
		if err != nil {
			return nil, err
		}
		if bucket.AmountWritten == nil || bucket.AmountWritten.Sign() == 0 {
			return nil, ErrCorruptLedger
		}
		v := valueIndex(option.Terms, idx, bucket)
		claim.AmountWritten.Add(claim.AmountWritten, v.written)
		claim.AmountExercised.Add(claim.AmountExercised, v.exercised)
		claim.UnderlyingAmount.Add(claim.UnderlyingAmount, v.underlying)
		claim.ExerciseAmount.Add(claim.ExerciseAmount, v.exercise)
	}
	return claim, nil
}
