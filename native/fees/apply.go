package fees

import (
	"errors"
	"math/big"
)

const (
	// MaxBasisPoints caps the configurable fee at 100%.
	MaxBasisPoints uint32 = 10_000
	// DefaultBasisPoints is the protocol fee charged on written and exercised
	// notional when no explicit policy is configured.
	DefaultBasisPoints uint32 = 5
)

var (
	errBasisPointsRange = errors.New("fees: basis points out of range")
	errNoRecipient      = errors.New("fees: recipient required when fees are enabled")

	basisPoints = big.NewInt(int64(MaxBasisPoints))
)

// Policy captures the protocol fee switch, rate and recipient. The recipient
// doubles as the fee administrator.
type Policy struct {
	Enabled     bool
	BasisPoints uint32
	Recipient   [20]byte
}

// DefaultPolicy returns a policy with fees disabled at the default rate.
func DefaultPolicy(recipient [20]byte) Policy {
	return Policy{BasisPoints: DefaultBasisPoints, Recipient: recipient}
}

// Validate reports whether the policy can be applied.
func (p Policy) Validate() error {
	if p.BasisPoints > MaxBasisPoints {
		return errBasisPointsRange
	}
	if p.Enabled && p.Recipient == ([20]byte{}) {
		return errNoRecipient
	}
	return nil
}

// ApplyResult summarises the fee owed on a notional flow. Fees are charged on
// top of the notional, so Total is what the payer must deliver.
type ApplyResult struct {
	Notional *big.Int
	Fee      *big.Int
	Total    *big.Int
}

// Apply evaluates the policy against the notional amount. The fee rounds
// down and is zero when the switch is off.
func Apply(notional *big.Int, policy Policy) ApplyResult {
	result := ApplyResult{Fee: big.NewInt(0)}
	if notional != nil {
		result.Notional = new(big.Int).Set(notional)
	} else {
		result.Notional = big.NewInt(0)
	}
	result.Total = new(big.Int).Set(result.Notional)
	if !policy.Enabled || policy.BasisPoints == 0 || result.Notional.Sign() <= 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Notional, new(big.Int).SetUint64(uint64(policy.BasisPoints)))
	fee.Quo(fee, basisPoints)
	if fee.Sign() <= 0 {
		return result
	}
	result.Fee = fee
	result.Total = new(big.Int).Add(result.Notional, fee)
	return result
}
