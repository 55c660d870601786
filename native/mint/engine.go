package mint

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/holiman/uint256"

	"mintmgr/core/events"
	"mintmgr/core/types"
	"mintmgr/crypto"
	"mintmgr/crypto/prng"
)

type engineState interface {
	ledgerState
	poolState
	authState
}

// Engine draws pool items for verified payments and keeps the accounting
// record in step. It performs no locking: the host runs one invocation at a
// time and wraps each in a storage transaction.
type Engine struct {
	state   engineState
	emitter events.Emitter
	sources prng.Factory
	halted  bool
}

// NewEngine constructs a mint engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		sources: prng.DefaultFactory,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRandomSource overrides the generator factory, for deterministic tests.
func (e *Engine) SetRandomSource(factory prng.Factory) {
	if factory == nil {
		e.sources = prng.DefaultFactory
		return
	}
	e.sources = factory
}

// Halted reports whether a corrupt pool has stopped allocation.
func (e *Engine) Halted() bool { return e != nil && e.halted }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func validateContract(label string, info ContractInfo) error {
	var zero [20]byte
	if info.Address == zero {
		return fmt.Errorf("%w: %s address required", ErrInvalidParams, label)
	}
	return nil
}

// Instantiate stores the configuration and returns the registration
// instructions that let each counterparty notify this contract later.
func (e *Engine) Instantiate(owner [20]byte, params InstantiateParams) ([]Instruction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if len(params.EntropySeed) == 0 {
		return nil, fmt.Errorf("%w: entropy seed required", ErrInvalidParams)
	}
	var zero [20]byte
	if params.ReceivingAddress == zero {
		return nil, fmt.Errorf("%w: receiving address required", ErrInvalidParams)
	}
	if err := validateContract("mint contract", params.MintContract); err != nil {
		return nil, err
	}
	kinds := make([]string, 0, ChannelCount)
	for i, ch := range params.Channels {
		kind := strings.ToLower(strings.TrimSpace(ch.Kind))
		if kind == "" {
			return nil, fmt.Errorf("%w: channel %d kind required", ErrInvalidParams, i)
		}
		if err := validateContract("channel "+kind, ch.Contract); err != nil {
			return nil, err
		}
		if ch.Price == nil || ch.Price.IsZero() {
			return nil, fmt.Errorf("%w: channel %s price must be positive", ErrInvalidParams, kind)
		}
		kinds = append(kinds, kind)
	}
	if kinds[0] == kinds[1] {
		return nil, fmt.Errorf("%w: channel kinds must differ", ErrInvalidParams)
	}
	if params.Channels[0].Contract.Address == params.Channels[1].Contract.Address {
		return nil, fmt.Errorf("%w: channel contracts must differ", ErrInvalidParams)
	}
	_, exists, err := e.state.MintConfigGet()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyInstantiated
	}
	cfg := &Config{
		Owner:            owner,
		ReceivingAddress: params.ReceivingAddress,
		MintContract:     params.MintContract,
		EntropySeed:      append([]byte(nil), params.EntropySeed...),
		RegistrationKey:  params.RegistrationKey,
		Token:            params.Token,
	}
	for i, ch := range params.Channels {
		cfg.Channels[i] = Channel{
			Kind:     kinds[i],
			Contract: ch.Contract,
			Price:    cloneAmount(ch.Price),
			Paid:     uint256.NewInt(0),
		}
	}
	if err := NewLedger(e.state).Save(cfg); err != nil {
		return nil, err
	}
	e.emit(InstantiatedEvent(crypto.FormatIdentity(owner), kinds))
	return registrationInstructions(cfg), nil
}

// Load appends items to the pool. Only the owner may load.
func (e *Engine) Load(caller [20]byte, items []PreLoad) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	ledger := NewLedger(e.state)
	cfg, err := ledger.Load()
	if err != nil {
		return 0, err
	}
	if !IsOwner(caller, cfg) {
		return 0, ErrNotOwner
	}
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		id := strings.TrimSpace(items[i].ID)
		if id == "" {
			return 0, fmt.Errorf("%w: item %d has no id", ErrInvalidParams, i)
		}
		if _, dup := seen[id]; dup {
			return 0, fmt.Errorf("%w: duplicate id %q in batch", ErrInvalidParams, id)
		}
		seen[id] = struct{}{}
	}
	if uint64(len(items)) > math.MaxUint32-cfg.Total {
		return 0, fmt.Errorf("%w: %d + %d exceeds %d", ErrPoolCapacity, cfg.Total, len(items), uint64(math.MaxUint32))
	}
	pool := NewPool(e.state)
	for i := range items {
		item := items[i].Clone()
		item.ID = strings.TrimSpace(item.ID)
		cfg.Total++
		if err := pool.Insert(cfg.Total, item); err != nil {
			return 0, err
		}
	}
	if err := ledger.Save(cfg); err != nil {
		return 0, err
	}
	e.emit(PoolLoadedEvent(len(items), cfg.Total))
	return cfg.Total, nil
}

// Allocate verifies the payment and draws quantity items for recipient. Every
// precondition is checked before the first write; after that the config is
// persisted after each item so a failure leaves a consistent prefix.
func (e *Engine) Allocate(env types.Env, caller [20]byte, channel [20]byte, amount *uint256.Int, quantity uint32, recipient [20]byte) (*Allocation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.halted {
		return nil, fmt.Errorf("%w: allocation halted", ErrPoolCorrupt)
	}
	if amount == nil {
		amount = uint256.NewInt(0)
	}
	ledger := NewLedger(e.state)
	cfg, err := ledger.Load()
	if err != nil {
		return nil, err
	}
	slot, err := cfg.ChannelIndex(channel)
	if err != nil {
		return nil, err
	}
	ch := &cfg.Channels[slot]
	if err := ValidatePayment(ch, amount, quantity); err != nil {
		return nil, err
	}
	if quantity == 0 {
		return nil, ErrEmptyRequest
	}
	if cfg.Total == 0 {
		return nil, ErrPoolExhausted
	}
	if uint64(quantity) > cfg.Total {
		return nil, fmt.Errorf("%w: requested %d, %d left", ErrInsufficientSupply, quantity, cfg.Total)
	}

	ch.Paid = new(uint256.Int).Add(cloneAmount(ch.Paid), amount)
	entropy := prng.ExtendEntropy(env.EntropyContext(), caller, cfg.EntropySeed)
	src := e.sources(cfg.EntropySeed, entropy)
	pool := NewPool(e.state)
	recipientStr := crypto.FormatIdentity(recipient)

	alloc := &Allocation{
		Channel:      ch.Kind,
		Recipient:    recipient,
		Payer:        caller,
		Items:        make([]PreLoad, 0, quantity),
		Instructions: make([]Instruction, 0, int(quantity)+1),
	}
	for i := uint32(0); i < quantity; i++ {
		index := prng.Index(src.NextU32(), cfg.Total)
		item, err := pool.Take(index, cfg.Total)
		if err != nil {
			if errors.Is(err, ErrPoolCorrupt) {
				e.halted = true
			}
			return nil, err
		}
		cfg.Total--
		cfg.NumMinted++
		if err := ledger.Save(cfg); err != nil {
			return nil, err
		}
		alloc.Items = append(alloc.Items, *item)
		alloc.Instructions = append(alloc.Instructions, mintInstruction(cfg, item, recipient))
		e.emit(ItemAllocatedEvent(item.ID, recipientStr, ch.Kind, index, cfg.Total))
	}
	alloc.Instructions = append(alloc.Instructions, transferInstruction(ch, cfg.ReceivingAddress, amount))
	e.emit(PaymentAcceptedEvent(ch.Kind, crypto.FormatIdentity(caller), amount.Dec(), quantity))
	return alloc, nil
}

// OnPaymentNotice handles a payment pushed by a channel contract. The payer
// receives the drawn items.
func (e *Engine) OnPaymentNotice(env types.Env, notice PaymentNotice) (*Allocation, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := NewLedger(e.state).Load()
	if err != nil {
		return nil, err
	}
	slot, err := cfg.ChannelIndex(notice.Channel)
	if err != nil {
		return nil, err
	}
	intent, err := DecodeIntent(notice.Msg)
	if err != nil {
		return nil, err
	}
	if intent.Channel != "" && !strings.EqualFold(intent.Channel, cfg.Channels[slot].Kind) {
		return nil, fmt.Errorf("%w: intent names %s but payment arrived on %s", ErrUnrecognizedChannel, intent.Channel, cfg.Channels[slot].Kind)
	}
	return e.Allocate(env, notice.Sender, notice.Channel, notice.Amount, intent.Quantity, notice.From)
}

// SetViewingKey rotates the admin viewing key. Non-owners are ignored silently.
func (e *Engine) SetViewingKey(caller [20]byte, raw string) error {
	if err := e.ready(); err != nil {
		return err
	}
	cfg, err := NewLedger(e.state).Load()
	if err != nil {
		return err
	}
	return NewGate(e.state).Set(cfg, caller, raw)
}

// CheckViewer authorises an aggregate read.
func (e *Engine) CheckViewer(viewer Viewer) error {
	if err := e.ready(); err != nil {
		return err
	}
	return NewGate(e.state).Check(viewer)
}

// MintInfo returns the aggregate counters to an authorised viewer.
func (e *Engine) MintInfo(viewer Viewer) (*MintInfo, error) {
	if err := e.CheckViewer(viewer); err != nil {
		return nil, err
	}
	cfg, err := NewLedger(e.state).Load()
	if err != nil {
		return nil, err
	}
	info := &MintInfo{
		NumMinted: cfg.NumMinted,
		Total:     cfg.Total,
		Payments:  make([]ChannelPayment, 0, len(cfg.Channels)),
	}
	for _, ch := range cfg.Channels {
		info.Payments = append(info.Payments, ChannelPayment{Kind: ch.Kind, Amount: cloneAmount(ch.Paid)})
	}
	return info, nil
}

// Config returns the stored configuration without authorisation. Hosts use it
// for wiring; it is not exposed to callers.
func (e *Engine) Config() (*Config, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return NewLedger(e.state).Load()
}
