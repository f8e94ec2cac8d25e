package clearing

import "math/big"

const (
	perUnitBits   = 96
	ledgerBits    = 112
	timestampBits = 40
)

var (
	wad          = big.NewInt(1_000_000_000_000_000_000)
	maxTimestamp = int64(1)<<timestampBits - 1
)

func fitsBits(v *big.Int, bits int) bool {
	return v != nil && v.Sign() >= 0 && v.BitLen() <= bits
}

// mulDivDown returns floor(a*b/d). Operands are non-negative.
func mulDivDown(a, b, d *big.Int) *big.Int {
	if d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(cloneBigInt(a), cloneBigInt(b))
	return product.Quo(product, d)
}

// valuation is the pro-rata split of one claim index entry.
type valuation struct {
	written    *big.Int
	exercised  *big.Int
	underlying *big.Int
	exercise   *big.Int
}

// valueIndex prices a claim's contribution to a bucket. Every ratio is
// floored so rounding never pays a claimant more than the bucket holds.
func valueIndex(terms OptionTerms, idx *ClaimIndex, bucket *Bucket) valuation {
	amount := cloneBigInt(idx.AmountWritten)
	written := cloneBigInt(bucket.AmountWritten)
	exercised := cloneBigInt(bucket.AmountExercised)
	unexercised := new(big.Int).Sub(written, exercised)

	return valuation{
		written:    new(big.Int).Mul(amount, wad),
		exercised:  mulDivDown(new(big.Int).Mul(amount, wad), exercised, written),
		underlying: mulDivDown(new(big.Int).Mul(terms.UnderlyingAmount, amount), unexercised, written),
		exercise:   mulDivDown(new(big.Int).Mul(terms.ExerciseAmount, amount), exercised, written),
	}
}
