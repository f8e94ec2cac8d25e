package rpc

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"optionclear/core/eventstore"
	"optionclear/native/clearing"
)

type createOptionTypeParams struct {
	Caller            string `json:"caller"`
	UnderlyingAsset   string `json:"underlyingAsset"`
	UnderlyingAmount  string `json:"underlyingAmount"`
	ExerciseAsset     string `json:"exerciseAsset"`
	ExerciseAmount    string `json:"exerciseAmount"`
	ExerciseTimestamp int64  `json:"exerciseTimestamp"`
	ExpiryTimestamp   int64  `json:"expiryTimestamp"`
}

type amountParams struct {
	Caller   string `json:"caller"`
	OptionID string `json:"optionId"`
	Amount   string `json:"amount"`
}

type redeemParams struct {
	Caller  string `json:"caller"`
	ClaimID string `json:"claimId"`
}

type sweepFeesParams struct {
	Assets []string `json:"assets"`
}

type setFeeToParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

type setFeesEnabledParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type idParams struct {
	ID string `json:"id"`
}

type balanceParams struct {
	Owner string `json:"owner"`
	ID    string `json:"id"`
}

type assetBalanceParams struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
}

type assetParams struct {
	Asset string `json:"asset"`
}

type eventsParams struct {
	Type     string `json:"type,omitempty"`
	OptionID string `json:"optionId,omitempty"`
	ClaimID  string `json:"claimId,omitempty"`
	After    uint64 `json:"after,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type optionTypeJSON struct {
	ID                string `json:"id"`
	Key               string `json:"key"`
	UnderlyingAsset   string `json:"underlyingAsset"`
	UnderlyingAmount  string `json:"underlyingAmount"`
	ExerciseAsset     string `json:"exerciseAsset"`
	ExerciseAmount    string `json:"exerciseAmount"`
	ExerciseTimestamp int64  `json:"exerciseTimestamp"`
	ExpiryTimestamp   int64  `json:"expiryTimestamp"`
	SettlementSeed    string `json:"settlementSeed"`
	NextClaimKey      string `json:"nextClaimKey"`
	Creator           string `json:"creator"`
	CreatedAt         int64  `json:"createdAt"`
}

type claimJSON struct {
	ID               string `json:"id"`
	OptionID         string `json:"optionId"`
	ClaimKey         string `json:"claimKey"`
	AmountWritten    string `json:"amountWritten"`
	AmountExercised  string `json:"amountExercised"`
	UnderlyingAmount string `json:"underlyingAmount"`
	ExerciseAmount   string `json:"exerciseAmount"`
	FullyAssigned    bool   `json:"fullyAssigned"`
}

type positionJSON struct {
	ID                 string `json:"id"`
	Kind               string `json:"kind"`
	UnderlyingAsset    string `json:"underlyingAsset"`
	UnderlyingPosition string `json:"underlyingPosition"`
	ExerciseAsset      string `json:"exerciseAsset"`
	ExercisePosition   string `json:"exercisePosition"`
}

type writeResultJSON struct {
	ClaimID string `json:"claimId"`
}

type assignmentJSON struct {
	BucketIndex uint64 `json:"bucketIndex"`
	Amount      string `json:"amount"`
}

type redeemResultJSON struct {
	ClaimID          string `json:"claimId"`
	UnderlyingAsset  string `json:"underlyingAsset"`
	UnderlyingAmount string `json:"underlyingAmount"`
	ExerciseAsset    string `json:"exerciseAsset"`
	ExerciseAmount   string `json:"exerciseAmount"`
}

type sweepResultJSON struct {
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type bucketJSON struct {
	Index           uint64 `json:"index"`
	AmountWritten   string `json:"amountWritten"`
	AmountExercised string `json:"amountExercised"`
	Open            bool   `json:"open"`
}

type bucketsJSON struct {
	Buckets []bucketJSON `json:"buckets"`
	Open    []uint64     `json:"open"`
}

type claimIndexJSON struct {
	BucketIndex   uint64 `json:"bucketIndex"`
	AmountWritten string `json:"amountWritten"`
}

type eventJSON struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

type okJSON struct {
	OK bool `json:"ok"`
}

func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return invalidParams("parameter object required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}

func parseAddress(field, raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, invalidParams("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseTokenID(field, raw string) (clearing.TokenID, error) {
	id, err := clearing.ParseTokenID(raw)
	if err != nil {
		return clearing.TokenID{}, invalidParams("%s: %v", field, err)
	}
	return id, nil
}

// parseAmount accepts a non-negative base-10 integer. Zero passes through so
// the engine reports it with its own error.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, invalidParams("%s: amount required", field)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, invalidParams("%s: invalid amount %q", field, raw)
	}
	return amount, nil
}

func formatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionTypeToJSON(option *clearing.OptionType) optionTypeJSON {
	return optionTypeJSON{
		ID:                option.ID().String(),
		Key:               option.Key.String(),
		UnderlyingAsset:   formatAddress(option.Terms.UnderlyingAsset),
		UnderlyingAmount:  formatAmount(option.Terms.UnderlyingAmount),
		ExerciseAsset:     formatAddress(option.Terms.ExerciseAsset),
		ExerciseAmount:    formatAmount(option.Terms.ExerciseAmount),
		ExerciseTimestamp: option.Terms.ExerciseTimestamp,
		ExpiryTimestamp:   option.Terms.ExpiryTimestamp,
		SettlementSeed:    "0x" + common.Bytes2Hex(option.SettlementSeed[:]),
		NextClaimKey:      option.NextClaimKey.String(),
		Creator:           formatAddress(option.Creator),
		CreatedAt:         option.CreatedAt,
	}
}

func claimToJSON(claim *clearing.Claim) claimJSON {
	return claimJSON{
		ID:               claim.ID.String(),
		OptionID:         claim.OptionID.String(),
		ClaimKey:         claim.ClaimKey.String(),
		AmountWritten:    formatAmount(claim.AmountWritten),
		AmountExercised:  formatAmount(claim.AmountExercised),
		UnderlyingAmount: formatAmount(claim.UnderlyingAmount),
		ExerciseAmount:   formatAmount(claim.ExerciseAmount),
		FullyAssigned:    claim.FullyAssigned(),
	}
}

func positionToJSON(position *clearing.Position) positionJSON {
	return positionJSON{
		ID:                 position.ID.String(),
		Kind:               position.Kind.String(),
		UnderlyingAsset:    formatAddress(position.UnderlyingAsset),
		UnderlyingPosition: formatAmount(position.UnderlyingPosition),
		ExerciseAsset:      formatAddress(position.ExerciseAsset),
		ExercisePosition:   formatAmount(position.ExercisePosition),
	}
}

func recordToJSON(record eventstore.Record) (eventJSON, error) {
	evt, err := record.Event()
	if err != nil {
		return eventJSON{}, err
	}
	return eventJSON{
		ID:         record.ID.String(),
		Sequence:   record.Sequence,
		Type:       record.Type,
		Attributes: evt.Attributes,
		CreatedAt:  record.CreatedAt.Unix(),
	}, nil
}
