package state

import (
	"errors"
	"fmt"
	"math/big"

	"optionclear/native/clearing"
)

var (
	// ErrInsufficientPosition is returned when a burn or transfer exceeds the
	// owner's position balance.
	ErrInsufficientPosition = errors.New("state: insufficient position balance")
	// ErrReceiptQuantity is returned when a claim receipt moves in any
	// quantity other than one.
	ErrReceiptQuantity = errors.New("state: claim receipts move one at a time")
)

func positionBalanceKey(owner [20]byte, id clearing.TokenID) []byte {
	return joinKey(positionBalancePrefix, owner[:], id[:])
}

func positionSupplyKey(id clearing.TokenID) []byte {
	return joinKey(positionSupplyPrefix, id[:])
}

// BalanceOf returns the owner's balance of a position token.
func (m *Manager) BalanceOf(owner [20]byte, id clearing.TokenID) (*big.Int, error) {
	return m.loadAmount(positionBalanceKey(owner, id))
}

// PositionSupply returns the outstanding amount of a position token.
func (m *Manager) PositionSupply(id clearing.TokenID) (*big.Int, error) {
	return m.loadAmount(positionSupplyKey(id))
}

func checkReceiptQuantity(id clearing.TokenID, amount *big.Int) error {
	if id.IsClaim() && amount.Cmp(big.NewInt(1)) != 0 {
		return ErrReceiptQuantity
	}
	return nil
}

// Mint issues amount of a position token to an owner.
func (m *Manager) Mint(to [20]byte, id clearing.TokenID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	if err := checkReceiptQuantity(id, amount); err != nil {
		return err
	}
	balance, err := m.BalanceOf(to, id)
	if err != nil {
		return err
	}
	supply, err := m.PositionSupply(id)
	if err != nil {
		return err
	}
	if err := m.storeAmount(positionBalanceKey(to, id), balance.Add(balance, amount)); err != nil {
		return err
	}
	return m.storeAmount(positionSupplyKey(id), supply.Add(supply, amount))
}

// MintBatch issues several position tokens to one owner.
func (m *Manager) MintBatch(to [20]byte, ids []clearing.TokenID, amounts []*big.Int) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("state: mint batch length mismatch: %d ids, %d amounts", len(ids), len(amounts))
	}
	for i := range ids {
		if err := m.Mint(to, ids[i], amounts[i]); err != nil {
			return err
		}
	}
	return nil
}

// Burn destroys amount of a position token held by an owner.
func (m *Manager) Burn(from [20]byte, id clearing.TokenID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: burn amount must be positive")
	}
	balance, err := m.BalanceOf(from, id)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPosition, balance, amount)
	}
	supply, err := m.PositionSupply(id)
	if err != nil {
		return err
	}
	if err := m.storeAmount(positionBalanceKey(from, id), balance.Sub(balance, amount)); err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		return fmt.Errorf("state: position supply underflow for %s", id)
	}
	return m.storeAmount(positionSupplyKey(id), supply.Sub(supply, amount))
}

// Transfer moves amount of a position token between owners.
func (m *Manager) Transfer(from, to [20]byte, id clearing.TokenID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: transfer amount must be positive")
	}
	if err := checkReceiptQuantity(id, amount); err != nil {
		return err
	}
	balance, err := m.BalanceOf(from, id)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientPosition, balance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := m.BalanceOf(to, id)
	if err != nil {
		return err
	}
	if err := m.storeAmount(positionBalanceKey(from, id), balance.Sub(balance, amount)); err != nil {
		return err
	}
	return m.storeAmount(positionBalanceKey(to, id), toBalance.Add(toBalance, amount))
}
