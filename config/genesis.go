package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Allocation credits an asset balance to a holder at start-up.
type Allocation struct {
	Asset  [20]byte
	Holder [20]byte
	Amount *big.Int
}

// Genesis lists the asset balances a fresh data directory starts with.
type Genesis struct {
	Assets []GenesisAsset
}

// GenesisAsset groups the allocations of one asset.
type GenesisAsset struct {
	Address     [20]byte
	Symbol      string
	Allocations []Allocation
}

type genesisFile struct {
	Assets []genesisAssetFile `yaml:"assets"`
}

type genesisAssetFile struct {
	Address     string               `yaml:"address"`
	Symbol      string               `yaml:"symbol"`
	Allocations []genesisAllocations `yaml:"allocations"`
}

type genesisAllocations struct {
	Holder string `yaml:"holder"`
	Amount string `yaml:"amount"`
}

// LoadGenesis reads asset allocations from a YAML file.
func LoadGenesis(path string) (*Genesis, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open genesis: %w", err)
	}
	defer file.Close()

	var doc genesisFile
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}

	genesis := &Genesis{Assets: make([]GenesisAsset, 0, len(doc.Assets))}
	seen := make(map[[20]byte]struct{})
	for i, entry := range doc.Assets {
		asset, err := parseAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis asset %d: %w", i, err)
		}
		if _, exists := seen[asset]; exists {
			return nil, fmt.Errorf("duplicate genesis asset %s", common.Address(asset).Hex())
		}
		seen[asset] = struct{}{}
		out := GenesisAsset{Address: asset, Symbol: strings.TrimSpace(entry.Symbol)}
		for j, alloc := range entry.Allocations {
			holder, err := parseAddress(alloc.Holder)
			if err != nil {
				return nil, fmt.Errorf("genesis asset %s allocation %d: %w", common.Address(asset).Hex(), j, err)
			}
			amount, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Amount), 10)
			if !ok || amount.Sign() <= 0 {
				return nil, fmt.Errorf("genesis asset %s allocation %d: invalid amount %q", common.Address(asset).Hex(), j, alloc.Amount)
			}
			out.Allocations = append(out.Allocations, Allocation{Asset: asset, Holder: holder, Amount: amount})
		}
		genesis.Assets = append(genesis.Assets, out)
	}
	return genesis, nil
}

// Allocations flattens every asset's allocations in file order.
func (g *Genesis) Allocations() []Allocation {
	if g == nil {
		return nil
	}
	var out []Allocation
	for _, asset := range g.Assets {
		out = append(out, asset.Allocations...)
	}
	return out
}

func parseAddress(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return [20]byte{}, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
