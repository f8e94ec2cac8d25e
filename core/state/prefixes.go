package state

import (
	"encoding/binary"
	"fmt"
)

var (
	clearingOptionPrefix       = []byte("clearing/option/")
	clearingBucketLenPrefix    = []byte("clearing/buckets/len/")
	clearingBucketPrefix       = []byte("clearing/buckets/item/")
	clearingOpenLenPrefix      = []byte("clearing/open/len/")
	clearingOpenPrefix         = []byte("clearing/open/item/")
	clearingClaimLenPrefix     = []byte("clearing/claims/len/")
	clearingClaimPrefix        = []byte("clearing/claims/item/")
	clearingFeeAccruedPrefix   = []byte("clearing/fees/accrued/")
	clearingFeePolicyKeyBytes  = []byte("clearing/fees/policy")
	assetBalancePrefix         = []byte("assets/balance/")
	assetSupplyPrefix          = []byte("assets/supply/")
	positionBalancePrefix      = []byte("positions/balance/")
	positionSupplyPrefix       = []byte("positions/supply/")
	genesisMarkerKeyBytes      = []byte("genesis/applied")
	custodyVaultSeedKeyFormat  = "clearing/vault/%d"
	defaultCustodyVaultVersion = 1
)

func joinKey(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, part := range parts {
		key = append(key, part...)
	}
	return key
}

func indexBytes(index uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return buf[:]
}

func custodyVaultSeed() []byte {
	return []byte(fmt.Sprintf(custodyVaultSeedKeyFormat, defaultCustodyVaultVersion))
}
