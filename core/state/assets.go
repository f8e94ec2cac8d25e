package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrInsufficientFunds is returned when a debit exceeds the holder's asset
// balance.
var ErrInsufficientFunds = errors.New("state: insufficient asset balance")

// VaultAddress is the account holding collateral, delivered exercise assets
// and accrued fees on behalf of the clearing engine.
func VaultAddress() [20]byte {
	digest := ethcrypto.Keccak256(custodyVaultSeed())
	var addr [20]byte
	copy(addr[:], digest[len(digest)-len(addr):])
	return addr
}

func assetBalanceKey(asset, holder [20]byte) []byte {
	return joinKey(assetBalancePrefix, asset[:], holder[:])
}

func assetSupplyKey(asset [20]byte) []byte {
	return joinKey(assetSupplyPrefix, asset[:])
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	return m.KVPut(key, amount)
}

// AssetBalance returns the holder's balance of asset.
func (m *Manager) AssetBalance(asset, holder [20]byte) (*big.Int, error) {
	return m.loadAmount(assetBalanceKey(asset, holder))
}

// TotalSupply returns the circulating supply recorded for asset.
func (m *Manager) TotalSupply(asset [20]byte) (*big.Int, error) {
	return m.loadAmount(assetSupplyKey(asset))
}

// CreditAsset mints amount of asset to holder and grows the supply. It backs
// genesis allocations.
func (m *Manager) CreditAsset(asset, holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	balance, err := m.AssetBalance(asset, holder)
	if err != nil {
		return err
	}
	supply, err := m.TotalSupply(asset)
	if err != nil {
		return err
	}
	if err := m.storeAmount(assetBalanceKey(asset, holder), balance.Add(balance, amount)); err != nil {
		return err
	}
	return m.storeAmount(assetSupplyKey(asset), supply.Add(supply, amount))
}

// TransferAsset moves amount of asset between two holders. It fails rather
// than moving a partial amount.
func (m *Manager) TransferAsset(asset, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must not be negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := m.AssetBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBalance, amount)
	}
	toBalance, err := m.AssetBalance(asset, to)
	if err != nil {
		return err
	}
	if err := m.storeAmount(assetBalanceKey(asset, from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.storeAmount(assetBalanceKey(asset, to), toBalance.Add(toBalance, amount))
}

// TransferIn pulls amount of asset from a holder into the vault.
func (m *Manager) TransferIn(asset, from [20]byte, amount *big.Int) error {
	return m.TransferAsset(asset, from, VaultAddress(), amount)
}

// TransferOut pays amount of asset from the vault to a holder.
func (m *Manager) TransferOut(asset, to [20]byte, amount *big.Int) error {
	return m.TransferAsset(asset, VaultAddress(), to, amount)
}

type storedGenesis struct {
	Digest [32]byte
}

// GenesisDigest returns the digest of the allocations applied at genesis.
// The boolean is false until MarkGenesis has committed.
func (m *Manager) GenesisDigest() ([32]byte, bool, error) {
	var record storedGenesis
	ok, err := m.KVGet(genesisMarkerKeyBytes, &record)
	if err != nil || !ok {
		return [32]byte{}, false, err
	}
	return record.Digest, true, nil
}

// MarkGenesis records that the allocations with digest have been credited.
func (m *Manager) MarkGenesis(digest [32]byte) error {
	return m.KVPut(genesisMarkerKeyBytes, &storedGenesis{Digest: digest})
}
