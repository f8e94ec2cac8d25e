package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"optionclear/core/eventstore"
	"optionclear/native/clearing"
)

var errJournalUnavailable = errors.New("rpc: event journal not configured")

func clearingMethods() map[string]method {
	return map[string]method{
		"clearing_createOptionType": {handler: (*Server).handleCreateOptionType, mutating: true, identity: true},
		"clearing_write":            {handler: (*Server).handleWrite, mutating: true, identity: true},
		"clearing_exercise":         {handler: (*Server).handleExercise, mutating: true, identity: true},
		"clearing_redeem":           {handler: (*Server).handleRedeem, mutating: true, identity: true},
		"clearing_sweepFees":        {handler: (*Server).handleSweepFees, mutating: true},
		"clearing_setFeeTo":         {handler: (*Server).handleSetFeeTo, mutating: true, identity: true},
		"clearing_setFeesEnabled":   {handler: (*Server).handleSetFeesEnabled, mutating: true, identity: true},
		"clearing_transfer":         {handler: (*Server).handleTransfer, mutating: true, identity: true},
		"clearing_optionType":       {handler: (*Server).handleOptionType},
		"clearing_claim":            {handler: (*Server).handleClaim},
		"clearing_position":         {handler: (*Server).handlePosition},
		"clearing_tokenKind":        {handler: (*Server).handleTokenKind},
		"clearing_balance":          {handler: (*Server).handleBalance},
		"clearing_assetBalance":     {handler: (*Server).handleAssetBalance},
		"clearing_feeBalance":       {handler: (*Server).handleFeeBalance},
		"clearing_feePolicy":        {handler: (*Server).handleFeePolicy},
		"clearing_buckets":          {handler: (*Server).handleBuckets},
		"clearing_claimIndices":     {handler: (*Server).handleClaimIndices},
		"clearing_events":           {handler: (*Server).handleEvents},
		"clearing_vault":            {handler: (*Server).handleVault},
	}
}

func (s *Server) handleCreateOptionType(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params createOptionTypeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := callerFrom(ctx, "caller", params.Caller)
	if err != nil {
		return nil, err
	}
	terms := clearing.OptionTerms{
		ExerciseTimestamp: params.ExerciseTimestamp,
		ExpiryTimestamp:   params.ExpiryTimestamp,
	}
	if terms.UnderlyingAsset, err = parseAddress("underlyingAsset", params.UnderlyingAsset); err != nil {
		return nil, err
	}
	if terms.ExerciseAsset, err = parseAddress("exerciseAsset", params.ExerciseAsset); err != nil {
		return nil, err
	}
	if terms.UnderlyingAmount, err = parseAmount("underlyingAmount", params.UnderlyingAmount); err != nil {
		return nil, err
	}
	if terms.ExerciseAmount, err = parseAmount("exerciseAmount", params.ExerciseAmount); err != nil {
		return nil, err
	}
	id, err := s.host.CreateOptionType(ctx, caller, terms)
	if err != nil {
		return nil, err
	}
	option, err := s.host.OptionType(id)
	if err != nil {
		return nil, err
	}
	return optionTypeToJSON(option), nil
}

func (s *Server) parseAmountCall(ctx context.Context, raw json.RawMessage) ([20]byte, clearing.TokenID, *amountParams, error) {
	var params amountParams
	if err := decodeParams(raw, &params); err != nil {
		return [20]byte{}, clearing.TokenID{}, nil, err
	}
	caller, err := callerFrom(ctx, "caller", params.Caller)
	if err != nil {
		return [20]byte{}, clearing.TokenID{}, nil, err
	}
	id, err := parseTokenID("optionId", params.OptionID)
	if err != nil {
		return [20]byte{}, clearing.TokenID{}, nil, err
	}
	return caller, id, &params, nil
}

func (s *Server) handleWrite(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	caller, id, params, err := s.parseAmountCall(ctx, raw)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	claimID, err := s.host.Write(ctx, caller, id, amount)
	if err != nil {
		return nil, err
	}
	return writeResultJSON{ClaimID: claimID.String()}, nil
}

func (s *Server) handleExercise(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	caller, id, params, err := s.parseAmountCall(ctx, raw)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	assignments, err := s.host.Exercise(ctx, caller, id, amount)
	if err != nil {
		return nil, err
	}
	out := make([]assignmentJSON, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, assignmentJSON{BucketIndex: a.BucketIndex, Amount: formatAmount(a.Amount)})
	}
	return out, nil
}

func (s *Server) handleRedeem(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params redeemParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := callerFrom(ctx, "caller", params.Caller)
	if err != nil {
		return nil, err
	}
	claimID, err := parseTokenID("claimId", params.ClaimID)
	if err != nil {
		return nil, err
	}
	result, err := s.host.Redeem(ctx, caller, claimID)
	if err != nil {
		return nil, err
	}
	return redeemResultJSON{
		ClaimID:          result.ClaimID.String(),
		UnderlyingAsset:  formatAddress(result.UnderlyingAsset),
		UnderlyingAmount: formatAmount(result.UnderlyingAmount),
		ExerciseAsset:    formatAddress(result.ExerciseAsset),
		ExerciseAmount:   formatAmount(result.ExerciseAmount),
	}, nil
}

func (s *Server) handleSweepFees(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params sweepFeesParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if len(params.Assets) == 0 {
		return nil, invalidParams("assets: at least one asset required")
	}
	assets := make([][20]byte, 0, len(params.Assets))
	for _, rawAsset := range params.Assets {
		asset, err := parseAddress("assets", rawAsset)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	results, err := s.host.SweepFees(ctx, assets)
	if err != nil {
		return nil, err
	}
	out := make([]sweepResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, sweepResultJSON{
			Asset:     formatAddress(r.Asset),
			Recipient: formatAddress(r.Recipient),
			Amount:    formatAmount(r.Amount),
		})
	}
	return out, nil
}

func (s *Server) handleSetFeeTo(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params setFeeToParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := callerFrom(ctx, "caller", params.Caller)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress("recipient", params.Recipient)
	if err != nil {
		return nil, err
	}
	if err := s.host.SetFeeTo(ctx, caller, recipient); err != nil {
		return nil, err
	}
	return okJSON{OK: true}, nil
}

func (s *Server) handleSetFeesEnabled(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params setFeesEnabledParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	caller, err := callerFrom(ctx, "caller", params.Caller)
	if err != nil {
		return nil, err
	}
	if err := s.host.SetFeesEnabled(ctx, caller, params.Enabled); err != nil {
		return nil, err
	}
	return okJSON{OK: true}, nil
}

func (s *Server) handleTransfer(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params transferParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	from, err := callerFrom(ctx, "from", params.From)
	if err != nil {
		return nil, err
	}
	to, err := parseAddress("to", params.To)
	if err != nil {
		return nil, err
	}
	id, err := parseTokenID("id", params.ID)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.host.Transfer(ctx, from, to, id, amount); err != nil {
		return nil, err
	}
	return okJSON{OK: true}, nil
}

func decodeID(raw json.RawMessage) (clearing.TokenID, error) {
	var params idParams
	if err := decodeParams(raw, &params); err != nil {
		return clearing.TokenID{}, err
	}
	return parseTokenID("id", params.ID)
}

func (s *Server) handleOptionType(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	option, err := s.host.OptionType(id)
	if err != nil {
		return nil, err
	}
	return optionTypeToJSON(option), nil
}

func (s *Server) handleClaim(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	claim, err := s.host.Claim(id)
	if err != nil {
		return nil, err
	}
	return claimToJSON(claim), nil
}

func (s *Server) handlePosition(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	position, err := s.host.Position(id)
	if err != nil {
		return nil, err
	}
	return positionToJSON(position), nil
}

func (s *Server) handleTokenKind(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	kind, err := s.host.TokenKind(id)
	if err != nil {
		return nil, err
	}
	return kind.String(), nil
}

func (s *Server) handleBalance(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var params balanceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	id, err := parseTokenID("id", params.ID)
	if err != nil {
		return nil, err
	}
	balance, err := s.host.Balance(owner, id)
	if err != nil {
		return nil, err
	}
	return formatAmount(balance), nil
}

func (s *Server) handleAssetBalance(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var params assetBalanceParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		return nil, err
	}
	holder, err := parseAddress("holder", params.Holder)
	if err != nil {
		return nil, err
	}
	balance, err := s.host.AssetBalance(asset, holder)
	if err != nil {
		return nil, err
	}
	return formatAmount(balance), nil
}

func (s *Server) handleFeeBalance(_ context.Context, raw json.RawMessage) (interface{}, error) {
	var params assetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", params.Asset)
	if err != nil {
		return nil, err
	}
	balance, err := s.host.FeeBalance(asset)
	if err != nil {
		return nil, err
	}
	return formatAmount(balance), nil
}

func (s *Server) handleFeePolicy(_ context.Context, raw json.RawMessage) (interface{}, error) {
	if len(raw) != 0 && string(raw) != "null" && string(raw) != "{}" {
		return nil, invalidParams("clearing_feePolicy takes no parameters")
	}
	return s.host.FeePolicy()
}

func (s *Server) handleBuckets(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	buckets, open, err := s.host.Buckets(id)
	if err != nil {
		return nil, err
	}
	isOpen := make(map[uint64]bool, len(open))
	for _, idx := range open {
		isOpen[idx] = true
	}
	out := bucketsJSON{Buckets: make([]bucketJSON, 0, len(buckets)), Open: open}
	if out.Open == nil {
		out.Open = []uint64{}
	}
	for i, bucket := range buckets {
		out.Buckets = append(out.Buckets, bucketJSON{
			Index:           uint64(i),
			AmountWritten:   formatAmount(bucket.AmountWritten),
			AmountExercised: formatAmount(bucket.AmountExercised),
			Open:            isOpen[uint64(i)],
		})
	}
	return out, nil
}

func (s *Server) handleClaimIndices(_ context.Context, raw json.RawMessage) (interface{}, error) {
	id, err := decodeID(raw)
	if err != nil {
		return nil, err
	}
	indices, err := s.host.ClaimIndices(id)
	if err != nil {
		return nil, err
	}
	out := make([]claimIndexJSON, 0, len(indices))
	for _, idx := range indices {
		out = append(out, claimIndexJSON{BucketIndex: idx.BucketIndex, AmountWritten: formatAmount(idx.AmountWritten)})
	}
	return out, nil
}

func (s *Server) handleEvents(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if s.journal == nil {
		return nil, errJournalUnavailable
	}
	var params eventsParams
	if len(raw) != 0 {
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
	}
	records, err := s.journal.List(ctx, eventstore.Filter{
		Type:     params.Type,
		OptionID: params.OptionID,
		ClaimID:  params.ClaimID,
		After:    params.After,
		Limit:    params.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]eventJSON, 0, len(records))
	for _, record := range records {
		evt, err := recordToJSON(record)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

func (s *Server) handleVault(_ context.Context, _ json.RawMessage) (interface{}, error) {
	return formatAddress(s.host.VaultAddress()), nil
}
