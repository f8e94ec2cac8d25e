package clearing

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"optionclear/core/types"
)

const (
	EventTypeOptionTypeCreated = "clearing.option_type.created"
	EventTypeOptionsWritten    = "clearing.options.written"
	EventTypeOptionsExercised  = "clearing.options.exercised"
	EventTypeBucketAssigned    = "clearing.bucket.assigned"
	EventTypeClaimRedeemed     = "clearing.claim.redeemed"
	EventTypeFeeAccrued        = "clearing.fee.accrued"
	EventTypeFeeSwept          = "clearing.fee.swept"
	EventTypeFeeToUpdated      = "clearing.fee.to_updated"
	EventTypeFeeSwitchUpdated  = "clearing.fee.switch_updated"
)

type clearingEvent struct {
	evt *types.Event
}

func (e clearingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e clearingEvent) Event() *types.Event { return e.evt }

func addrHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewOptionTypeCreatedEvent describes a freshly registered option type.
func NewOptionTypeCreatedEvent(option *OptionType) *types.Event {
	if option == nil {
		return nil
	}
	terms := option.Terms
	return &types.Event{
		Type: EventTypeOptionTypeCreated,
		Attributes: map[string]string{
			"optionId":          option.ID().String(),
			"creator":           addrHex(option.Creator),
			"underlyingAsset":   addrHex(terms.UnderlyingAsset),
			"underlyingAmount":  amountString(terms.UnderlyingAmount),
			"exerciseAsset":     addrHex(terms.ExerciseAsset),
			"exerciseAmount":    amountString(terms.ExerciseAmount),
			"exerciseTimestamp": strconv.FormatInt(terms.ExerciseTimestamp, 10),
			"expiryTimestamp":   strconv.FormatInt(terms.ExpiryTimestamp, 10),
		},
	}
}

// NewOptionsWrittenEvent records collateral written into a claim.
func NewOptionsWrittenEvent(optionID, claimID TokenID, writer [20]byte, amount *big.Int, bucket uint64) *types.Event {
	return &types.Event{
		Type: EventTypeOptionsWritten,
		Attributes: map[string]string{
			"optionId":    optionID.String(),
			"claimId":     claimID.String(),
			"writer":      addrHex(writer),
			"amount":      amountString(amount),
			"bucketIndex": strconv.FormatUint(bucket, 10),
		},
	}
}

// NewOptionsExercisedEvent records an exercise by a holder.
func NewOptionsExercisedEvent(optionID TokenID, holder [20]byte, amount *big.Int, buckets int) *types.Event {
	return &types.Event{
		Type: EventTypeOptionsExercised,
		Attributes: map[string]string{
			"optionId": optionID.String(),
			"holder":   addrHex(holder),
			"amount":   amountString(amount),
			"buckets":  strconv.Itoa(buckets),
		},
	}
}

// NewBucketAssignedEvent records the exercise pressure applied to a bucket.
func NewBucketAssignedEvent(optionID TokenID, assignment BucketAssignment) *types.Event {
	return &types.Event{
		Type: EventTypeBucketAssigned,
		Attributes: map[string]string{
			"optionId":    optionID.String(),
			"bucketIndex": strconv.FormatUint(assignment.BucketIndex, 10),
			"amount":      amountString(assignment.Amount),
		},
	}
}

// NewClaimRedeemedEvent records the payout of a claim.
func NewClaimRedeemedEvent(optionID TokenID, redeemer [20]byte, result *RedeemResult) *types.Event {
	if result == nil {
		return nil
	}
	return &types.Event{
		Type: EventTypeClaimRedeemed,
		Attributes: map[string]string{
			"optionId":         optionID.String(),
			"claimId":          result.ClaimID.String(),
			"redeemer":         addrHex(redeemer),
			"underlyingAmount": amountString(result.UnderlyingAmount),
			"exerciseAmount":   amountString(result.ExerciseAmount),
		},
	}
}

// NewFeeAccruedEvent records a fee charged on a notional flow.
func NewFeeAccruedEvent(asset, payer [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeFeeAccrued,
		Attributes: map[string]string{
			"asset":  addrHex(asset),
			"payer":  addrHex(payer),
			"amount": amountString(amount),
		},
	}
}

// NewFeeSweptEvent records accrued fees paid out to the recipient.
func NewFeeSweptEvent(result SweepResult) *types.Event {
	return &types.Event{
		Type: EventTypeFeeSwept,
		Attributes: map[string]string{
			"asset":     addrHex(result.Asset),
			"recipient": addrHex(result.Recipient),
			"amount":    amountString(result.Amount),
		},
	}
}

// NewFeeToUpdatedEvent records a change of fee recipient.
func NewFeeToUpdatedEvent(previous, next [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeFeeToUpdated,
		Attributes: map[string]string{
			"previous": addrHex(previous),
			"feeTo":    addrHex(next),
		},
	}
}

// NewFeeSwitchUpdatedEvent records fees being turned on or off.
func NewFeeSwitchUpdatedEvent(caller [20]byte, enabled bool) *types.Event {
	return &types.Event{
		Type: EventTypeFeeSwitchUpdated,
		Attributes: map[string]string{
			"caller":  addrHex(caller),
			"enabled": strconv.FormatBool(enabled),
		},
	}
}
