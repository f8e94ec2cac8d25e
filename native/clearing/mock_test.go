package clearing

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"optionclear/core/events"
	"optionclear/native/fees"
)

type mockState struct {
	options   map[OptionKey]*OptionType
	buckets   map[OptionKey][]*Bucket
	open      map[OptionKey][]uint64
	claims    map[TokenID][]*ClaimIndex
	accrued   map[[20]byte]*big.Int
	policy    *fees.Policy
	policyErr error
	putErrors int
}

func newMockState() *mockState {
	return &mockState{
		options: make(map[OptionKey]*OptionType),
		buckets: make(map[OptionKey][]*Bucket),
		open:    make(map[OptionKey][]uint64),
		claims:  make(map[TokenID][]*ClaimIndex),
		accrued: make(map[[20]byte]*big.Int),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) ClearingOptionGet(key OptionKey) (*OptionType, bool, error) {
	option, ok := m.options[key]
	if !ok {
		return nil, false, nil
	}
	return option.Clone(), true, nil
}

func (m *mockState) ClearingOptionPut(option *OptionType) error {
	if option == nil {
		return fmt.Errorf("nil option")
	}
	m.options[option.Key] = option.Clone()
	return nil
}

func (m *mockState) ClearingBucketLen(key OptionKey) (uint64, error) {
	return uint64(len(m.buckets[key])), nil
}

func (m *mockState) ClearingBucketGet(key OptionKey, index uint64) (*Bucket, error) {
	list := m.buckets[key]
	if index >= uint64(len(list)) {
		return nil, fmt.Errorf("bucket %d out of range", index)
	}
	return list[index].Clone(), nil
}

func (m *mockState) ClearingBucketPut(key OptionKey, index uint64, bucket *Bucket) error {
	list := m.buckets[key]
	switch {
	case index < uint64(len(list)):
		list[index] = bucket.Clone()
	case index == uint64(len(list)):
		m.buckets[key] = append(list, bucket.Clone())
	default:
		return fmt.Errorf("bucket %d beyond end", index)
	}
	return nil
}

func (m *mockState) ClearingOpenBucketLen(key OptionKey) (uint64, error) {
	return uint64(len(m.open[key])), nil
}

func (m *mockState) ClearingOpenBucketAt(key OptionKey, pos uint64) (uint64, error) {
	list := m.open[key]
	if pos >= uint64(len(list)) {
		return 0, fmt.Errorf("open slot %d out of range", pos)
	}
	return list[pos], nil
}

func (m *mockState) ClearingOpenBucketPush(key OptionKey, bucketIndex uint64) error {
	m.open[key] = append(m.open[key], bucketIndex)
	return nil
}

func (m *mockState) ClearingOpenBucketSwapRemove(key OptionKey, pos uint64) error {
	list := m.open[key]
	if pos >= uint64(len(list)) {
		return fmt.Errorf("open slot %d out of range", pos)
	}
	last := len(list) - 1
	list[pos] = list[last]
	m.open[key] = list[:last]
	return nil
}

func (m *mockState) ClearingClaimIndexLen(claimID TokenID) (uint64, error) {
	return uint64(len(m.claims[claimID])), nil
}

func (m *mockState) ClearingClaimIndexAt(claimID TokenID, pos uint64) (*ClaimIndex, error) {
	list := m.claims[claimID]
	if pos >= uint64(len(list)) {
		return nil, fmt.Errorf("claim index %d out of range", pos)
	}
	return list[pos].Clone(), nil
}

func (m *mockState) ClearingClaimIndexPut(claimID TokenID, pos uint64, entry *ClaimIndex) error {
	list := m.claims[claimID]
	switch {
	case pos < uint64(len(list)):
		list[pos] = entry.Clone()
	case pos == uint64(len(list)):
		m.claims[claimID] = append(list, entry.Clone())
	default:
		return fmt.Errorf("claim index %d beyond end", pos)
	}
	return nil
}

func (m *mockState) ClearingClaimIndexPop(claimID TokenID) error {
	list := m.claims[claimID]
	if len(list) == 0 {
		return fmt.Errorf("claim index empty")
	}
	if len(list) == 1 {
		delete(m.claims, claimID)
		return nil
	}
	m.claims[claimID] = list[:len(list)-1]
	return nil
}

func (m *mockState) ClearingFeeAccrued(asset [20]byte) (*big.Int, error) {
	return cloneBigInt(m.accrued[asset]), nil
}

func (m *mockState) ClearingFeeAccruedPut(asset [20]byte, amount *big.Int) error {
	m.accrued[asset] = cloneBigInt(amount)
	return nil
}

func (m *mockState) ClearingFeePolicy() (fees.Policy, bool, error) {
	if m.policyErr != nil {
		return fees.Policy{}, false, m.policyErr
	}
	if m.policy == nil {
		return fees.Policy{}, false, nil
	}
	return *m.policy, true, nil
}

func (m *mockState) ClearingFeePolicyPut(policy fees.Policy) error {
	m.policy = &policy
	return nil
}

var errMockInsufficient = errors.New("mock custody: insufficient balance")

type mockCustody struct {
	balances map[[20]byte]map[[20]byte]*big.Int
	supply   map[[20]byte]*big.Int
	vault    [20]byte
	failIn   bool
}

func newMockCustody() *mockCustody {
	return &mockCustody{
		balances: make(map[[20]byte]map[[20]byte]*big.Int),
		supply:   make(map[[20]byte]*big.Int),
		vault:    newTestAddress(0xEE),
	}
}

func (c *mockCustody) credit(asset, holder [20]byte, amount int64) {
	c.add(asset, holder, big.NewInt(amount))
	supply := cloneBigInt(c.supply[asset])
	c.supply[asset] = supply.Add(supply, big.NewInt(amount))
}

func (c *mockCustody) add(asset, holder [20]byte, amount *big.Int) {
	if c.balances[asset] == nil {
		c.balances[asset] = make(map[[20]byte]*big.Int)
	}
	current := cloneBigInt(c.balances[asset][holder])
	c.balances[asset][holder] = current.Add(current, amount)
}

func (c *mockCustody) balance(asset, holder [20]byte) *big.Int {
	return cloneBigInt(c.balances[asset][holder])
}

func (c *mockCustody) move(asset, from, to [20]byte, amount *big.Int) error {
	if c.balance(asset, from).Cmp(amount) < 0 {
		return errMockInsufficient
	}
	c.add(asset, from, new(big.Int).Neg(amount))
	c.add(asset, to, amount)
	return nil
}

func (c *mockCustody) TransferIn(asset, from [20]byte, amount *big.Int) error {
	if c.failIn {
		return errors.New("mock custody: rejected")
	}
	return c.move(asset, from, c.vault, amount)
}

func (c *mockCustody) TransferOut(asset, to [20]byte, amount *big.Int) error {
	return c.move(asset, c.vault, to, amount)
}

func (c *mockCustody) TotalSupply(asset [20]byte) (*big.Int, error) {
	return cloneBigInt(c.supply[asset]), nil
}

type mockLedger struct {
	balances map[[20]byte]map[TokenID]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[[20]byte]map[TokenID]*big.Int)}
}

func (l *mockLedger) add(owner [20]byte, id TokenID, amount *big.Int) {
	if l.balances[owner] == nil {
		l.balances[owner] = make(map[TokenID]*big.Int)
	}
	current := cloneBigInt(l.balances[owner][id])
	l.balances[owner][id] = current.Add(current, amount)
}

func (l *mockLedger) Mint(to [20]byte, id TokenID, amount *big.Int) error {
	l.add(to, id, amount)
	return nil
}

func (l *mockLedger) MintBatch(to [20]byte, ids []TokenID, amounts []*big.Int) error {
	if len(ids) != len(amounts) {
		return fmt.Errorf("length mismatch")
	}
	for i := range ids {
		l.add(to, ids[i], amounts[i])
	}
	return nil
}

func (l *mockLedger) Burn(from [20]byte, id TokenID, amount *big.Int) error {
	balance, _ := l.BalanceOf(from, id)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("burn exceeds balance")
	}
	l.add(from, id, new(big.Int).Neg(amount))
	return nil
}

func (l *mockLedger) BalanceOf(owner [20]byte, id TokenID) (*big.Int, error) {
	return cloneBigInt(l.balances[owner][id]), nil
}

func (l *mockLedger) transfer(from, to [20]byte, id TokenID, amount int64) {
	l.add(from, id, big.NewInt(-amount))
	l.add(to, id, big.NewInt(amount))
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type testHarness struct {
	engine  *Engine
	state   *mockState
	custody *mockCustody
	ledger  *mockLedger
	emitter *capturingEmitter
	now     int64
}

var (
	testUnderlying = newTestAddress(0x01)
	testExercise   = newTestAddress(0x02)
	testWriter     = newTestAddress(0x10)
	testWriterB    = newTestAddress(0x11)
	testHolder     = newTestAddress(0x20)
	testFeeTo      = newTestAddress(0x30)
)

const testStart int64 = 1_700_000_000

func newTestHarness() *testHarness {
	h := &testHarness{
		engine:  NewEngine(),
		state:   newMockState(),
		custody: newMockCustody(),
		ledger:  newMockLedger(),
		emitter: &capturingEmitter{},
		now:     testStart,
	}
	h.engine.SetState(h.state)
	h.engine.SetCustody(h.custody)
	h.engine.SetPositions(h.ledger)
	h.engine.SetEmitter(h.emitter)
	h.engine.SetNowFunc(func() int64 { return h.now })
	h.engine.SetDefaultFeePolicy(fees.DefaultPolicy(testFeeTo))
	for _, holder := range [][20]byte{testWriter, testWriterB, testHolder} {
		h.custody.credit(testUnderlying, holder, 1_000_000_000)
		h.custody.credit(testExercise, holder, 1_000_000_000)
	}
	return h
}

func (h *testHarness) terms(underlying, exercise int64) OptionTerms {
	return OptionTerms{
		UnderlyingAsset:   testUnderlying,
		UnderlyingAmount:  big.NewInt(underlying),
		ExerciseAsset:     testExercise,
		ExerciseAmount:    big.NewInt(exercise),
		ExerciseTimestamp: testStart + 86_400,
		ExpiryTimestamp:   testStart + 2*86_400,
	}
}

func (h *testHarness) mustCreate(underlying, exercise int64) TokenID {
	id, err := h.engine.CreateOptionType(testWriter, h.terms(underlying, exercise))
	if err != nil {
		panic(err)
	}
	return id
}

func (h *testHarness) openExercise() {
	h.now = testStart + 86_400
}

func (h *testHarness) expire() {
	h.now = testStart + 2*86_400
}
