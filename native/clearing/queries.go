package clearing

import "math/big"

// OptionType returns the stored option type addressed by id. Any claim key in
// id is ignored.
func (e *Engine) OptionType(id TokenID) (*OptionType, error) {
	option, err := e.loadOption(id.OptionKey())
	if err != nil {
		return nil, err
	}
	return option.Clone(), nil
}

// Claim derives the current totals of a claim receipt.
func (e *Engine) Claim(id TokenID) (*Claim, error) {
	optionKey, claimKey := id.Decode()
	if claimKey.IsZero() {
		return nil, ErrWrongTokenKind
	}
	option, err := e.loadOption(optionKey)
	if err != nil {
		return nil, err
	}
	return e.valueClaim(option, id)
}

// Position reports the signed asset exposure of a token. Option units are
// only priced while the option is live.
func (e *Engine) Position(id TokenID) (*Position, error) {
	optionKey, claimKey := id.Decode()
	option, err := e.loadOption(optionKey)
	if err != nil {
		return nil, err
	}
	position := &Position{
		ID:              id,
		UnderlyingAsset: option.Terms.UnderlyingAsset,
		ExerciseAsset:   option.Terms.ExerciseAsset,
	}
	if claimKey.IsZero() {
		if e.now() >= option.Terms.ExpiryTimestamp {
			return nil, ErrOptionExpired
		}
		position.Kind = TokenKindOption
		position.UnderlyingPosition = cloneBigInt(option.Terms.UnderlyingAmount)
		position.ExercisePosition = new(big.Int).Neg(cloneBigInt(option.Terms.ExerciseAmount))
		return position, nil
	}
	claim, err := e.valueClaim(option, id)
	if err != nil {
		return nil, err
	}
	position.Kind = TokenKindClaim
	position.UnderlyingPosition = claim.UnderlyingAmount
	position.ExercisePosition = claim.ExerciseAmount
	return position, nil
}

// TokenKind classifies id: an initialized option type's base id is an
// option unit, an id whose claim has index entries is a claim, anything else
// is none.
func (e *Engine) TokenKind(id TokenID) (TokenKind, error) {
	if e == nil || e.state == nil {
		return TokenKindNone, errNilState
	}
	optionKey, claimKey := id.Decode()
	_, ok, err := e.state.ClearingOptionGet(optionKey)
	if err != nil {
		return TokenKindNone, err
	}
	if !ok {
		return TokenKindNone, nil
	}
	if claimKey.IsZero() {
		return TokenKindOption, nil
	}
	count, err := e.state.ClearingClaimIndexLen(id)
	if err != nil {
		return TokenKindNone, err
	}
	if count == 0 {
		return TokenKindNone, nil
	}
	return TokenKindClaim, nil
}

// Buckets returns every bucket of the option type in creation order.
func (e *Engine) Buckets(id TokenID) ([]*Bucket, error) {
	option, err := e.loadOption(id.OptionKey())
	if err != nil {
		return nil, err
	}
	count, err := e.state.ClearingBucketLen(option.Key)
	if err != nil {
		return nil, err
	}
	out := make([]*Bucket, 0, count)
	for i := uint64(0); i < count; i++ {
		bucket, err := e.state.ClearingBucketGet(option.Key, i)
		if err != nil {
			return nil, err
		}
		out = append(out, bucket.Clone())
	}
	return out, nil
}

// OpenBuckets returns the dense set of bucket indices that can still be
// exercised against, in slot order.
func (e *Engine) OpenBuckets(id TokenID) ([]uint64, error) {
	option, err := e.loadOption(id.OptionKey())
	if err != nil {
		return nil, err
	}
	count, err := e.state.ClearingOpenBucketLen(option.Key)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, count)
	for i := uint64(0); i < count; i++ {
		index, err := e.state.ClearingOpenBucketAt(option.Key, i)
		if err != nil {
			return nil, err
		}
		out = append(out, index)
	}
	return out, nil
}

// ClaimIndices returns the bucket contributions recorded for a claim.
func (e *Engine) ClaimIndices(id TokenID) ([]*ClaimIndex, error) {
	if id.ClaimKey().IsZero() {
		return nil, ErrWrongTokenKind
	}
	if _, err := e.loadOption(id.OptionKey()); err != nil {
		return nil, err
	}
	return e.loadClaimIndices(id)
}
