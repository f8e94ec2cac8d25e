package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"optionclear/core/events"
	"optionclear/core/state"
	"optionclear/core/types"
	"optionclear/native/clearing"
	"optionclear/native/fees"
	"optionclear/observability"
	"optionclear/storage"
)

// EventSink receives the events of every committed operation.
type EventSink interface {
	Append(ctx context.Context, evts []*types.Event) error
}

// Config carries the engine parameters the host applies at start-up.
type Config struct {
	Params clearing.Params
	Fees   fees.Policy
}

// Option customises a Clearinghouse.
type Option func(*Clearinghouse)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Clearinghouse) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithEventSink sets the journal committed events are written to.
func WithEventSink(sink EventSink) Option {
	return func(h *Clearinghouse) { h.sink = sink }
}

// WithSubscriber adds an emitter that observes committed events.
func WithSubscriber(emitter events.Emitter) Option {
	return func(h *Clearinghouse) {
		if emitter != nil {
			h.subscribers = append(h.subscribers, emitter)
		}
	}
}

// WithNow overrides the clock supplied to the engine.
func WithNow(now func() time.Time) Option {
	return func(h *Clearinghouse) {
		if now != nil {
			h.nowFn = now
		}
	}
}

// WithMetrics overrides the metrics registry. Passing nil disables metrics.
func WithMetrics(m *observability.ClearingMetrics) Option {
	return func(h *Clearinghouse) { h.metrics = m }
}

// Clearinghouse hosts the clearing engine. It serialises every call, feeds
// the engine the current time, and commits state, custody, positions and
// events together. A failed call leaves no trace.
type Clearinghouse struct {
	mu          sync.Mutex
	db          storage.Database
	state       *state.Manager
	engine      *clearing.Engine
	buffer      *events.Buffer
	sink        EventSink
	subscribers events.Fanout
	metrics     *observability.ClearingMetrics
	logger      *slog.Logger
	nowFn       func() time.Time
}

// NewClearinghouse builds a host over db.
func NewClearinghouse(db storage.Database, cfg Config, opts ...Option) (*Clearinghouse, error) {
	if db == nil {
		return nil, fmt.Errorf("clearinghouse: database required")
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("clearinghouse: fee policy: %w", err)
	}
	h := &Clearinghouse{
		db:      db,
		state:   state.NewManager(db),
		buffer:  &events.Buffer{},
		metrics: observability.Clearing(),
		logger:  slog.Default(),
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "clearinghouse")

	engine := clearing.NewEngine()
	engine.SetState(h.state)
	engine.SetCustody(h.state)
	engine.SetPositions(h.state)
	engine.SetEmitter(h.buffer)
	engine.SetParams(cfg.Params)
	engine.SetDefaultFeePolicy(cfg.Fees)
	engine.SetNowFunc(func() int64 { return h.nowFn().Unix() })
	h.engine = engine
	return h, nil
}

// VaultAddress returns the custody account of the engine.
func (h *Clearinghouse) VaultAddress() [20]byte { return state.VaultAddress() }

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return clearing.Classify(err).String()
}

// run executes fn under the host lock and commits or discards everything it
// touched.
func (h *Clearinghouse) run(ctx context.Context, operation string, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	err := fn()
	if err == nil {
		err = h.state.Commit()
		if err != nil {
			err = fmt.Errorf("%s: %w", operation, err)
		}
	}
	if err != nil {
		h.state.Discard()
		h.buffer.Reset()
		h.metrics.ObserveOperation(operation, outcome(err), time.Since(start))
		level := slog.LevelWarn
		if cat := clearing.Classify(err); cat == clearing.CategoryInvariant || cat == clearing.CategoryUnknown {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "operation failed", "operation", operation, "category", clearing.Classify(err).String(), "error", err)
		return err
	}

	flushed := h.buffer.Flush(h.subscribers)
	h.publish(ctx, operation, flushed)
	h.metrics.ObserveOperation(operation, "success", time.Since(start))
	h.logger.Debug("operation committed", "operation", operation, "events", len(flushed))
	return nil
}

// publish forwards committed events to the journal and metrics. State is
// already durable here, so journal failures are logged rather than returned.
func (h *Clearinghouse) publish(ctx context.Context, operation string, flushed []events.Event) {
	if len(flushed) == 0 {
		return
	}
	payloads := make([]*types.Event, 0, len(flushed))
	options := make(map[string]struct{})
	for _, evt := range flushed {
		h.metrics.RecordEvent(evt.EventType())
		payload, ok := evt.(events.Payload)
		if !ok || payload.Event() == nil {
			continue
		}
		data := payload.Event()
		payloads = append(payloads, data)
		if data.Type == clearing.EventTypeFeeAccrued {
			if amount, ok := new(big.Float).SetString(data.Attributes["amount"]); ok {
				f, _ := amount.Float64()
				h.metrics.AddFees(data.Attributes["asset"], f)
			}
		}
		if id := data.Attributes["optionId"]; id != "" {
			options[id] = struct{}{}
		}
	}
	for raw := range options {
		id, err := clearing.ParseTokenID(raw)
		if err != nil {
			continue
		}
		if open, err := h.engine.OpenBuckets(id); err == nil {
			h.metrics.SetOpenBuckets(raw, len(open))
		}
	}
	if h.sink == nil {
		return
	}
	if err := h.sink.Append(ctx, payloads); err != nil {
		h.logger.Error("journal append failed", "operation", operation, "events", len(payloads), "error", err)
	}
}

// view runs a read-only query under the host lock.
func (h *Clearinghouse) view(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn()
}

// CreateOptionType registers an option type on behalf of creator.
func (h *Clearinghouse) CreateOptionType(ctx context.Context, creator [20]byte, terms clearing.OptionTerms) (clearing.TokenID, error) {
	var id clearing.TokenID
	err := h.run(ctx, "create_option_type", func() error {
		var err error
		id, err = h.engine.CreateOptionType(creator, terms)
		return err
	})
	return id, err
}

// Write deposits collateral and returns the claim written to.
func (h *Clearinghouse) Write(ctx context.Context, caller [20]byte, id clearing.TokenID, amount *big.Int) (clearing.TokenID, error) {
	var claimID clearing.TokenID
	err := h.run(ctx, "write", func() error {
		var err error
		claimID, err = h.engine.Write(caller, id, amount)
		return err
	})
	return claimID, err
}

// Exercise exercises option units held by caller.
func (h *Clearinghouse) Exercise(ctx context.Context, caller [20]byte, id clearing.TokenID, amount *big.Int) ([]clearing.BucketAssignment, error) {
	var assignments []clearing.BucketAssignment
	err := h.run(ctx, "exercise", func() error {
		var err error
		assignments, err = h.engine.Exercise(caller, id, amount)
		return err
	})
	return assignments, err
}

// Redeem settles a claim held by caller.
func (h *Clearinghouse) Redeem(ctx context.Context, caller [20]byte, claimID clearing.TokenID) (*clearing.RedeemResult, error) {
	var result *clearing.RedeemResult
	err := h.run(ctx, "redeem", func() error {
		var err error
		result, err = h.engine.Redeem(caller, claimID)
		return err
	})
	return result, err
}

// SweepFees pays accrued fees for assets to the fee recipient.
func (h *Clearinghouse) SweepFees(ctx context.Context, assets [][20]byte) ([]clearing.SweepResult, error) {
	var results []clearing.SweepResult
	err := h.run(ctx, "sweep_fees", func() error {
		var err error
		results, err = h.engine.SweepFees(assets)
		return err
	})
	return results, err
}

// SetFeeTo changes the fee recipient.
func (h *Clearinghouse) SetFeeTo(ctx context.Context, caller, recipient [20]byte) error {
	return h.run(ctx, "set_fee_to", func() error {
		return h.engine.SetFeeTo(caller, recipient)
	})
}

// SetFeesEnabled flips the fee switch.
func (h *Clearinghouse) SetFeesEnabled(ctx context.Context, caller [20]byte, enabled bool) error {
	return h.run(ctx, "set_fees_enabled", func() error {
		return h.engine.SetFeesEnabled(caller, enabled)
	})
}

// Transfer moves position tokens between owners.
func (h *Clearinghouse) Transfer(ctx context.Context, from, to [20]byte, id clearing.TokenID, amount *big.Int) error {
	return h.run(ctx, "transfer", func() error {
		if to == ([20]byte{}) {
			return clearing.ErrInvalidAddress
		}
		if amount == nil || amount.Sign() <= 0 {
			return clearing.ErrZeroAmount
		}
		err := h.state.Transfer(from, to, id, amount)
		switch {
		case errors.Is(err, state.ErrInsufficientPosition):
			return fmt.Errorf("%w: %w", clearing.ErrInsufficientBalance, err)
		case errors.Is(err, state.ErrReceiptQuantity):
			return fmt.Errorf("%w: %w", clearing.ErrWrongTokenKind, err)
		}
		return err
	})
}

// CreditAssets mints asset allocations unconditionally. Genesis goes
// through ApplyGenesis instead.
func (h *Clearinghouse) CreditAssets(ctx context.Context, allocs []Allocation) error {
	return h.run(ctx, "credit_assets", func() error {
		for _, alloc := range allocs {
			if err := h.state.CreditAsset(alloc.Asset, alloc.Holder, alloc.Amount); err != nil {
				return fmt.Errorf("credit %x to %x: %w", alloc.Asset, alloc.Holder, err)
			}
		}
		return nil
	})
}

// ApplyGenesis credits allocs once per state. The credit and the genesis
// marker commit together, so an interrupted start applies genesis again on
// the next one. It reports false when genesis was already applied.
func (h *Clearinghouse) ApplyGenesis(ctx context.Context, allocs []Allocation) (bool, error) {
	digest := allocationDigest(allocs)
	applied := false
	err := h.run(ctx, "apply_genesis", func() error {
		stored, ok, err := h.state.GenesisDigest()
		if err != nil {
			return err
		}
		if ok {
			if stored != digest {
				h.logger.Warn("genesis differs from the one already applied",
					"applied", fmt.Sprintf("%x", stored), "supplied", fmt.Sprintf("%x", digest))
			}
			return nil
		}
		for _, alloc := range allocs {
			if err := h.state.CreditAsset(alloc.Asset, alloc.Holder, alloc.Amount); err != nil {
				return fmt.Errorf("credit %x to %x: %w", alloc.Asset, alloc.Holder, err)
			}
		}
		applied = true
		return h.state.MarkGenesis(digest)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func allocationDigest(allocs []Allocation) [32]byte {
	buf := make([]byte, 0, len(allocs)*80)
	for _, alloc := range allocs {
		buf = append(buf, alloc.Asset[:]...)
		buf = append(buf, alloc.Holder[:]...)
		var amount []byte
		if alloc.Amount != nil {
			amount = alloc.Amount.Bytes()
		}
		buf = binary.BigEndian.AppendUint64(buf, uint64(len(amount)))
		buf = append(buf, amount...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

// Allocation credits an asset balance to a holder.
type Allocation struct {
	Asset  [20]byte
	Holder [20]byte
	Amount *big.Int
}

// OptionType returns the option type addressed by id.
func (h *Clearinghouse) OptionType(id clearing.TokenID) (*clearing.OptionType, error) {
	var option *clearing.OptionType
	err := h.view(func() error {
		var err error
		option, err = h.engine.OptionType(id)
		return err
	})
	return option, err
}

// Claim returns the derived view of a claim.
func (h *Clearinghouse) Claim(id clearing.TokenID) (*clearing.Claim, error) {
	var claim *clearing.Claim
	err := h.view(func() error {
		var err error
		claim, err = h.engine.Claim(id)
		return err
	})
	return claim, err
}

// Position returns the signed exposure of a token.
func (h *Clearinghouse) Position(id clearing.TokenID) (*clearing.Position, error) {
	var position *clearing.Position
	err := h.view(func() error {
		var err error
		position, err = h.engine.Position(id)
		return err
	})
	return position, err
}

// TokenKind classifies a token identifier.
func (h *Clearinghouse) TokenKind(id clearing.TokenID) (clearing.TokenKind, error) {
	var kind clearing.TokenKind
	err := h.view(func() error {
		var err error
		kind, err = h.engine.TokenKind(id)
		return err
	})
	return kind, err
}

// Buckets returns the bucket ledger of an option type.
func (h *Clearinghouse) Buckets(id clearing.TokenID) ([]*clearing.Bucket, []uint64, error) {
	var (
		buckets []*clearing.Bucket
		open    []uint64
	)
	err := h.view(func() error {
		var err error
		if buckets, err = h.engine.Buckets(id); err != nil {
			return err
		}
		open, err = h.engine.OpenBuckets(id)
		return err
	})
	return buckets, open, err
}

// ClaimIndices returns the bucket contributions of a claim.
func (h *Clearinghouse) ClaimIndices(id clearing.TokenID) ([]*clearing.ClaimIndex, error) {
	var indices []*clearing.ClaimIndex
	err := h.view(func() error {
		var err error
		indices, err = h.engine.ClaimIndices(id)
		return err
	})
	return indices, err
}

// FeeBalance returns unswept fees for an asset.
func (h *Clearinghouse) FeeBalance(asset [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := h.view(func() error {
		var err error
		amount, err = h.engine.FeeBalance(asset)
		return err
	})
	return amount, err
}

// FeePolicy returns the active fee policy.
func (h *Clearinghouse) FeePolicy() (fees.Policy, error) {
	var policy fees.Policy
	err := h.view(func() error {
		var err error
		policy, err = h.engine.FeePolicy()
		return err
	})
	return policy, err
}

// Balance returns an owner's position token balance.
func (h *Clearinghouse) Balance(owner [20]byte, id clearing.TokenID) (*big.Int, error) {
	var amount *big.Int
	err := h.view(func() error {
		var err error
		amount, err = h.state.BalanceOf(owner, id)
		return err
	})
	return amount, err
}

// AssetBalance returns a holder's asset balance.
func (h *Clearinghouse) AssetBalance(asset, holder [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := h.view(func() error {
		var err error
		amount, err = h.state.AssetBalance(asset, holder)
		return err
	})
	return amount, err
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("clearinghouse: closed")

// Close drops pending state and closes the database.
func (h *Clearinghouse) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return ErrClosed
	}
	h.state.Discard()
	err := h.db.Close()
	h.db = nil
	return err
}
