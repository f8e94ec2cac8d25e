package clearing

import (
	"fmt"
	"math/big"

	"optionclear/native/fees"
)

// FeePolicy returns the active fee policy.
func (e *Engine) FeePolicy() (fees.Policy, error) {
	if e == nil || e.state == nil {
		return fees.Policy{}, errNilState
	}
	policy, ok, err := e.state.ClearingFeePolicy()
	if err != nil {
		return fees.Policy{}, err
	}
	if !ok {
		return e.defaultFee, nil
	}
	return policy, nil
}

func (e *Engine) accrueFee(asset, payer [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	current, err := e.state.ClearingFeeAccrued(asset)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(cloneBigInt(current), amount)
	if err := e.state.ClearingFeeAccruedPut(asset, total); err != nil {
		return err
	}
	e.emit(NewFeeAccruedEvent(asset, payer, amount))
	return nil
}

func (e *Engine) requireFeeAdmin(caller [20]byte) (fees.Policy, error) {
	policy, err := e.FeePolicy()
	if err != nil {
		return fees.Policy{}, err
	}
	if policy.Recipient == ([20]byte{}) || caller != policy.Recipient {
		return fees.Policy{}, ErrNotFeeAdministrator
	}
	return policy, nil
}

// SetFeeTo hands the fee recipient role to a new address. Only the current
// recipient may call it.
func (e *Engine) SetFeeTo(caller, recipient [20]byte) error {
	policy, err := e.requireFeeAdmin(caller)
	if err != nil {
		return err
	}
	if recipient == ([20]byte{}) {
		return ErrInvalidAddress
	}
	previous := policy.Recipient
	policy.Recipient = recipient
	if err := e.state.ClearingFeePolicyPut(policy); err != nil {
		return err
	}
	e.emit(NewFeeToUpdatedEvent(previous, recipient))
	return nil
}

// SetFeesEnabled flips the fee switch. Only the current recipient may call
// it.
func (e *Engine) SetFeesEnabled(caller [20]byte, enabled bool) error {
	policy, err := e.requireFeeAdmin(caller)
	if err != nil {
		return err
	}
	policy.Enabled = enabled
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	if err := e.state.ClearingFeePolicyPut(policy); err != nil {
		return err
	}
	e.emit(NewFeeSwitchUpdatedEvent(caller, enabled))
	return nil
}

// SweepFees pays every positive accrued balance among assets to the fee
// recipient and resets the accrual.
func (e *Engine) SweepFees(assets [][20]byte) ([]SweepResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	policy, err := e.FeePolicy()
	if err != nil {
		return nil, err
	}
	if policy.Recipient == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	seen := make(map[[20]byte]struct{}, len(assets))
	var results []SweepResult
	for _, asset := range assets {
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		accrued, err := e.state.ClearingFeeAccrued(asset)
		if err != nil {
			return nil, err
		}
		if accrued == nil || accrued.Sign() <= 0 {
			continue
		}
		if err := e.state.ClearingFeeAccruedPut(asset, big.NewInt(0)); err != nil {
			return nil, err
		}
		if err := e.custody.TransferOut(asset, policy.Recipient, accrued); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		result := SweepResult{Asset: asset, Recipient: policy.Recipient, Amount: cloneBigInt(accrued)}
		results = append(results, result)
		e.emit(NewFeeSweptEvent(result))
	}
	return results, nil
}

// FeeBalance returns the fees accrued and not yet swept for asset.
func (e *Engine) FeeBalance(asset [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	accrued, err := e.state.ClearingFeeAccrued(asset)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(accrued), nil
}
