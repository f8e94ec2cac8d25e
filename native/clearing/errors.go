package clearing

import "errors"

var (
	errNilState     = errors.New("clearing engine: state not configured")
	errNilCustody   = errors.New("clearing engine: custody not configured")
	errNilPositions = errors.New("clearing engine: position ledger not configured")

	// Validation errors.
	ErrDuplicateOptionType     = errors.New("clearing: option type already exists")
	ErrWindowTooShort          = errors.New("clearing: exercise window too short")
	ErrInvalidAssetPair        = errors.New("clearing: underlying and exercise asset must differ")
	ErrInsufficientAssetSupply = errors.New("clearing: asset supply below per-unit amount")
	ErrUnknownOptionType       = errors.New("clearing: unknown option type")
	ErrZeroAmount              = errors.New("clearing: amount must be positive")
	ErrAmountOverflow          = errors.New("clearing: amount exceeds field width")
	ErrInvalidTimestamp        = errors.New("clearing: timestamp out of range")
	ErrWrongTokenKind          = errors.New("clearing: wrong token kind")
	ErrTokenNotFound           = errors.New("clearing: token not found")
	ErrInvalidAddress          = errors.New("clearing: invalid address")
	ErrInsufficientBalance     = errors.New("clearing: insufficient position balance")

	// Authorization errors.
	ErrNotClaimOwner       = errors.New("clearing: caller does not own claim")
	ErrNotFeeAdministrator = errors.New("clearing: caller is not fee administrator")

	// Temporal errors.
	ErrTooEarly      = errors.New("clearing: too early")
	ErrOptionExpired = errors.New("clearing: option expired")

	// Invariant violations.
	ErrNoOpenBuckets     = errors.New("clearing: no unexercised buckets")
	ErrClaimKeyExhausted = errors.New("clearing: claim key space exhausted")
	ErrCorruptLedger     = errors.New("clearing: bucket ledger inconsistent")

	// Custody failures.
	ErrTransferFailed = errors.New("clearing: asset transfer failed")
)

// Category groups errors by how the caller is expected to react.
type Category uint8

const (
	CategoryUnknown Category = iota
	CategoryValidation
	CategoryAuthorization
	CategoryTemporal
	CategoryInvariant
	CategoryCustody
)

func (c Category) String() string {
	switch c {
	case CategoryValidation:
		return "validation"
	case CategoryAuthorization:
		return "authorization"
	case CategoryTemporal:
		return "temporal"
	case CategoryInvariant:
		return "invariant"
	case CategoryCustody:
		return "custody"
	default:
		return "unknown"
	}
}

var categories = []struct {
	err      error
	category Category
}{
	{ErrTransferFailed, CategoryCustody},
	{ErrNoOpenBuckets, CategoryInvariant},
	{ErrClaimKeyExhausted, CategoryInvariant},
	{ErrCorruptLedger, CategoryInvariant},
	{errNilState, CategoryInvariant},
	{errNilCustody, CategoryInvariant},
	{errNilPositions, CategoryInvariant},
	{ErrNotClaimOwner, CategoryAuthorization},
	{ErrNotFeeAdministrator, CategoryAuthorization},
	{ErrTooEarly, CategoryTemporal},
	{ErrOptionExpired, CategoryTemporal},
	{ErrDuplicateOptionType, CategoryValidation},
	{ErrWindowTooShort, CategoryValidation},
	{ErrInvalidAssetPair, CategoryValidation},
	{ErrInsufficientAssetSupply, CategoryValidation},
	{ErrUnknownOptionType, CategoryValidation},
	{ErrZeroAmount, CategoryValidation},
	{ErrAmountOverflow, CategoryValidation},
	{ErrInvalidTimestamp, CategoryValidation},
	{ErrWrongTokenKind, CategoryValidation},
	{ErrTokenNotFound, CategoryValidation},
	{ErrInvalidAddress, CategoryValidation},
	{ErrInsufficientBalance, CategoryValidation},
}

// Classify maps an error returned by the engine onto its category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, entry := range categories {
		if errors.Is(err, entry.err) {
			return entry.category
		}
	}
	return CategoryUnknown
}
