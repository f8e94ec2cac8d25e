package clearing

import (
	"fmt"
	"math/big"
	"time"

	"optionclear/core/events"
	"optionclear/core/types"
	"optionclear/native/fees"
)

const (
	// DefaultMinLeadSeconds is the minimum distance between creation and
	// expiry of a new option type.
	DefaultMinLeadSeconds int64 = 86_400
	// DefaultMinExerciseWindowSeconds is the minimum length of the exercise
	// window.
	DefaultMinExerciseWindowSeconds int64 = 86_400
)

type engineState interface {
	ClearingOptionGet(key OptionKey) (*OptionType, bool, error)
	ClearingOptionPut(option *OptionType) error

	ClearingBucketLen(key OptionKey) (uint64, error)
	ClearingBucketGet(key OptionKey, index uint64) (*Bucket, error)
	// ClearingBucketPut overwrites the bucket at index, or appends when index
	// equals the current length.
	ClearingBucketPut(key OptionKey, index uint64, bucket *Bucket) error

	ClearingOpenBucketLen(key OptionKey) (uint64, error)
	ClearingOpenBucketAt(key OptionKey, pos uint64) (uint64, error)
	ClearingOpenBucketPush(key OptionKey, bucketIndex uint64) error
	ClearingOpenBucketSwapRemove(key OptionKey, pos uint64) error

	ClearingClaimIndexLen(claimID TokenID) (uint64, error)
	ClearingClaimIndexAt(claimID TokenID, pos uint64) (*ClaimIndex, error)
	ClearingClaimIndexPut(claimID TokenID, pos uint64, entry *ClaimIndex) error
	ClearingClaimIndexPop(claimID TokenID) error

	ClearingFeeAccrued(asset [20]byte) (*big.Int, error)
	ClearingFeeAccruedPut(asset [20]byte, amount *big.Int) error
	ClearingFeePolicy() (fees.Policy, bool, error)
	ClearingFeePolicyPut(policy fees.Policy) error
}

// Custody moves assets between accounts and the clearing vault. Transfers
// must fail rather than move less than requested.
type Custody interface {
	TransferIn(asset, from [20]byte, amount *big.Int) error
	TransferOut(asset, to [20]byte, amount *big.Int) error
	TotalSupply(asset [20]byte) (*big.Int, error)
}

// PositionLedger tracks option unit and claim receipt balances.
type PositionLedger interface {
	Mint(to [20]byte, id TokenID, amount *big.Int) error
	MintBatch(to [20]byte, ids []TokenID, amounts []*big.Int) error
	Burn(from [20]byte, id TokenID, amount *big.Int) error
	BalanceOf(owner [20]byte, id TokenID) (*big.Int, error)
}

// Params bounds the terms accepted by CreateOptionType.
type Params struct {
	MinLeadSeconds           int64
	MinExerciseWindowSeconds int64
}

// DefaultParams returns the standard creation bounds.
func DefaultParams() Params {
	return Params{
		MinLeadSeconds:           DefaultMinLeadSeconds,
		MinExerciseWindowSeconds: DefaultMinExerciseWindowSeconds,
	}
}

// Engine implements option type registration, writing, exercise assignment
// and redemption on top of a state backend and the custody and position
// collaborators. The engine does no locking; the host serialises calls and
// is responsible for discarding state when an operation fails.
type Engine struct {
	state      engineState
	custody    Custody
	positions  PositionLedger
	emitter    events.Emitter
	nowFn      func() int64
	params     Params
	defaultFee fees.Policy
}

// NewEngine creates an engine with default params and a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		params:  DefaultParams(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the asset custody collaborator.
func (e *Engine) SetCustody(custody Custody) { e.custody = custody }

// SetPositions configures the position-token ledger.
func (e *Engine) SetPositions(ledger PositionLedger) { e.positions = ledger }

// SetParams overrides the creation bounds. Non-positive values fall back to
// the defaults.
func (e *Engine) SetParams(params Params) {
	if params.MinLeadSeconds <= 0 {
		params.MinLeadSeconds = DefaultMinLeadSeconds
	}
	if params.MinExerciseWindowSeconds <= 0 {
		params.MinExerciseWindowSeconds = DefaultMinExerciseWindowSeconds
	}
	e.params = params
}

// SetDefaultFeePolicy sets the policy used until one is stored in state.
func (e *Engine) SetDefaultFeePolicy(policy fees.Policy) { e.defaultFee = policy }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(clearingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.custody == nil:
		return errNilCustody
	case e.positions == nil:
		return errNilPositions
	}
	return nil
}

func (e *Engine) loadOption(key OptionKey) (*OptionType, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	option, ok, err := e.state.ClearingOptionGet(key)
	if err != nil {
		return nil, err
	}
	if !ok || option == nil {
		return nil, ErrUnknownOptionType
	}
	return option, nil
}

func validateTerms(terms OptionTerms) error {
	for _, amount := range []*big.Int{terms.UnderlyingAmount, terms.ExerciseAmount} {
		if amount == nil || amount.Sign() == 0 {
			return ErrZeroAmount
		}
		if !fitsBits(amount, perUnitBits) {
			return ErrAmountOverflow
		}
	}
	for _, ts := range []int64{terms.ExerciseTimestamp, terms.ExpiryTimestamp} {
		if ts < 0 || ts > maxTimestamp {
			return ErrInvalidTimestamp
		}
	}
	return nil
}

// CreateOptionType registers a new option type and returns the identifier of
// its fungible unit. Identical terms always map to the same identifier.
func (e *Engine) CreateOptionType(creator [20]byte, terms OptionTerms) (TokenID, error) {
	if err := e.ready(); err != nil {
		return TokenID{}, err
	}
	if err := validateTerms(terms); err != nil {
		return TokenID{}, err
	}
	terms = terms.Clone()
	key := terms.Key()
	if _, exists, err := e.state.ClearingOptionGet(key); err != nil {
		return TokenID{}, err
	} else if exists {
		return TokenID{}, ErrDuplicateOptionType
	}

	now := e.now()
	if terms.ExpiryTimestamp < now+e.params.MinLeadSeconds ||
		terms.ExpiryTimestamp < terms.ExerciseTimestamp+e.params.MinExerciseWindowSeconds {
		return TokenID{}, ErrWindowTooShort
	}
	if terms.UnderlyingAsset == terms.ExerciseAsset {
		return TokenID{}, ErrInvalidAssetPair
	}
	for _, check := range []struct {
		asset  [20]byte
		amount *big.Int
	}{
		{terms.UnderlyingAsset, terms.UnderlyingAmount},
		{terms.ExerciseAsset, terms.ExerciseAmount},
	} {
		supply, err := e.custody.TotalSupply(check.asset)
		if err != nil {
			return TokenID{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		if supply == nil || supply.Cmp(check.amount) < 0 {
			return TokenID{}, ErrInsufficientAssetSupply
		}
	}

	option := &OptionType{
		Key:            key,
		Terms:          terms,
		SettlementSeed: [20]byte(key),
		NextClaimKey:   ClaimKeyFromUint64(1),
		Creator:        creator,
		CreatedAt:      now,
	}
	if err := e.state.ClearingOptionPut(option); err != nil {
		return TokenID{}, err
	}
	e.emit(NewOptionTypeCreatedEvent(option))
	return option.ID(), nil
}

// Write locks amount units of collateral and mints the matching option
// units. A zero claim key in id opens a new claim; a non-zero key adds to a
// claim the caller holds. The returned identifier is the claim written to.
func (e *Engine) Write(caller [20]byte, id TokenID, amount *big.Int) (TokenID, error) {
	if err := e.ready(); err != nil {
		return TokenID{}, err
	}
	optionKey, claimKey := id.Decode()
	option, err := e.loadOption(optionKey)
	if err != nil {
		return TokenID{}, err
	}
	if e.now() >= option.Terms.ExpiryTimestamp {
		return TokenID{}, ErrOptionExpired
	}
	if amount == nil || amount.Sign() <= 0 {
		return TokenID{}, ErrZeroAmount
	}
	if !fitsBits(amount, ledgerBits) {
		return TokenID{}, ErrAmountOverflow
	}

	newClaim := claimKey.IsZero()
	claimID := id
	if newClaim {
		claimID = EncodeTokenID(optionKey, option.NextClaimKey)
		next, err := option.NextClaimKey.next()
		if err != nil {
			return TokenID{}, err
		}
		option.NextClaimKey = next
	} else {
		balance, err := e.positions.BalanceOf(caller, id)
		if err != nil {
			return TokenID{}, err
		}
		if balance == nil || balance.Cmp(big.NewInt(1)) != 0 {
			return TokenID{}, ErrNotClaimOwner
		}
	}

	notional := new(big.Int).Mul(amount, option.Terms.UnderlyingAmount)
	policy, err := e.FeePolicy()
	if err != nil {
		return TokenID{}, err
	}
	charge := fees.Apply(notional, policy)
	if err := e.custody.TransferIn(option.Terms.UnderlyingAsset, caller, charge.Total); err != nil {
		return TokenID{}, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	bucketIndex, err := e.addOrUpdateBucket(optionKey, amount)
	if err != nil {
		return TokenID{}, err
	}
	if err := e.addOrUpdateClaimIndex(claimID, bucketIndex, amount); err != nil {
		return TokenID{}, err
	}
	if err := e.state.ClearingOptionPut(option); err != nil {
		return TokenID{}, err
	}
	if err := e.accrueFee(option.Terms.UnderlyingAsset, caller, charge.Fee); err != nil {
		return TokenID{}, err
	}

	optionID := option.ID()
	if newClaim {
		err = e.positions.MintBatch(caller, []TokenID{claimID, optionID}, []*big.Int{big.NewInt(1), cloneBigInt(amount)})
	} else {
		err = e.positions.Mint(caller, optionID, cloneBigInt(amount))
	}
	if err != nil {
		return TokenID{}, err
	}
	e.emit(NewOptionsWrittenEvent(optionID, claimID, caller, amount, bucketIndex))
	return claimID, nil
}

// Exercise burns amount option units, assigns the exercise to writers'
// buckets, collects the exercise asset and delivers the underlying.
func (e *Engine) Exercise(caller [20]byte, id TokenID, amount *big.Int) ([]BucketAssignment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	optionKey, claimKey := id.Decode()
	if !claimKey.IsZero() {
		return nil, ErrWrongTokenKind
	}
	option, err := e.loadOption(optionKey)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if now >= option.Terms.ExpiryTimestamp {
		return nil, ErrOptionExpired
	}
	if now < option.Terms.ExerciseTimestamp {
		return nil, ErrTooEarly
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	balance, err := e.positions.BalanceOf(caller, id)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	notional := new(big.Int).Mul(amount, option.Terms.ExerciseAmount)
	policy, err := e.FeePolicy()
	if err != nil {
		return nil, err
	}
	charge := fees.Apply(notional, policy)
	if err := e.custody.TransferIn(option.Terms.ExerciseAsset, caller, charge.Total); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	assignments, err := e.assignExercise(option, amount)
	if err != nil {
		return nil, err
	}
	if err := e.state.ClearingOptionPut(option); err != nil {
		return nil, err
	}
	if err := e.positions.Burn(caller, id, cloneBigInt(amount)); err != nil {
		return nil, err
	}
	if err := e.accrueFee(option.Terms.ExerciseAsset, caller, charge.Fee); err != nil {
		return nil, err
	}
	payout := new(big.Int).Mul(amount, option.Terms.UnderlyingAmount)
	if err := e.custody.TransferOut(option.Terms.UnderlyingAsset, caller, payout); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	optionID := option.ID()
	for _, assignment := range assignments {
		e.emit(NewBucketAssignedEvent(optionID, assignment))
	}
	e.emit(NewOptionsExercisedEvent(optionID, caller, amount, len(assignments)))
	return assignments, nil
}

// Redeem burns a claim receipt and releases its share of unexercised
// collateral and delivered exercise assets. Claims may be redeemed before
// expiry only once every written unit has been assigned.
func (e *Engine) Redeem(caller [20]byte, claimID TokenID) (*RedeemResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	optionKey, claimKey := claimID.Decode()
	if claimKey.IsZero() {
		return nil, ErrWrongTokenKind
	}
	balance, err := e.positions.BalanceOf(caller, claimID)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(big.NewInt(1)) != 0 {
		return nil, ErrNotClaimOwner
	}
	option, err := e.loadOption(optionKey)
	if err != nil {
		return nil, err
	}
	claim, err := e.valueClaim(option, claimID)
	if err != nil {
		return nil, err
	}
	if e.now() < option.Terms.ExpiryTimestamp && !claim.FullyAssigned() {
		return nil, ErrTooEarly
	}

	count, err := e.state.ClearingClaimIndexLen(claimID)
	if err != nil {
		return nil, err
	}
	for ; count > 0; count-- {
		if err := e.state.ClearingClaimIndexPop(claimID); err != nil {
			return nil, err
		}
	}
	if err := e.positions.Burn(caller, claimID, big.NewInt(1)); err != nil {
		return nil, err
	}

	result := &RedeemResult{
		ClaimID:          claimID,
		UnderlyingAsset:  option.Terms.UnderlyingAsset,
		UnderlyingAmount: claim.UnderlyingAmount,
		ExerciseAsset:    option.Terms.ExerciseAsset,
		ExerciseAmount:   claim.ExerciseAmount,
	}
	if result.ExerciseAmount.Sign() > 0 {
		if err := e.custody.TransferOut(result.ExerciseAsset, caller, result.ExerciseAmount); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	if result.UnderlyingAmount.Sign() > 0 {
		if err := e.custody.TransferOut(result.UnderlyingAsset, caller, result.UnderlyingAmount); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	e.emit(NewClaimRedeemedEvent(option.ID(), caller, result))
	return result, nil
}
