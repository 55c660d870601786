package mint

import (
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"

	"mintmgr/core/events"
	"mintmgr/core/types"
	"mintmgr/crypto/prng"
)

type mockState struct {
	config     *Config
	pool       map[uint64]*PreLoad
	viewingKey *ViewingKey
}

func newMockState() *mockState {
	return &mockState{pool: make(map[uint64]*PreLoad)}
}

func (m *mockState) MintConfigGet() (*Config, bool, error) {
	if m.config == nil {
		return nil, false, nil
	}
	return m.config.Clone(), true, nil
}

func (m *mockState) MintConfigPut(cfg *Config) error {
	m.config = cfg.Clone()
	return nil
}

func (m *mockState) MintPoolGet(index uint64) (*PreLoad, bool, error) {
	item, ok := m.pool[index]
	if !ok {
		return nil, false, nil
	}
	return item.Clone(), true, nil
}

func (m *mockState) MintPoolPut(index uint64, item *PreLoad) error {
	m.pool[index] = item.Clone()
	return nil
}

func (m *mockState) MintPoolDelete(index uint64) error {
	delete(m.pool, index)
	return nil
}

func (m *mockState) MintViewingKeyGet() (*ViewingKey, bool, error) {
	if m.viewingKey == nil {
		return nil, false, nil
	}
	clone := *m.viewingKey
	return &clone, true, nil
}

func (m *mockState) MintViewingKeyPut(vk *ViewingKey) error {
	clone := *vk
	m.viewingKey = &clone
	return nil
}

type fixedSource struct {
	values []uint32
	next   int
}

func (s *fixedSource) NextU32() uint32 {
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

func fixedFactory(values ...uint32) prng.Factory {
	return func(seed, entropy []byte) prng.Source {
		return &fixedSource{values: values}
	}
}

func addr(b byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = b
	}
	return out
}

var (
	ownerAddr     = addr(0x01)
	buyerAddr     = addr(0x02)
	strangerAddr  = addr(0x03)
	scrtChannel   = addr(0xA1)
	shillChannel  = addr(0xA2)
	mintContract  = addr(0xB1)
	receivingAddr = addr(0xC1)
)

func testParams() InstantiateParams {
	return InstantiateParams{
		EntropySeed:     []byte("seed"),
		RegistrationKey: "registration-key",
		Channels: [ChannelCount]Channel{
			{Kind: "scrt", Contract: ContractInfo{Address: scrtChannel, CodeHash: "scrt-hash"}, Price: uint256.NewInt(100)},
			{Kind: "shill", Contract: ContractInfo{Address: shillChannel, CodeHash: "shill-hash"}, Price: uint256.NewInt(50)},
		},
		MintContract:     ContractInfo{Address: mintContract, CodeHash: "mint-hash"},
		ReceivingAddress: receivingAddr,
		Token:            TokenTemplate{NamePrefix: "Magic Bone", Description: "A bone"},
	}
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *events.Buffer) {
	t.Helper()
	state := newMockState()
	buf := &events.Buffer{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(buf)
	if _, err := engine.Instantiate(ownerAddr, testParams()); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	return engine, state, buf
}

func items(ids ...string) []PreLoad {
	out := make([]PreLoad, 0, len(ids))
	for _, id := range ids {
		out = append(out, PreLoad{ID: id, ImgURL: "https://img.example/" + id + ".png"})
	}
	return out
}

func envAt(height uint64) types.Env {
	env := types.Env{BlockHeight: height, BlockTime: int64(1_700_000_000 + height), ChainID: "mint-test"}
	env.TxHash[0] = byte(height)
	env.TxHash[1] = byte(height >> 8)
	return env
}

func assertDense(t *testing.T, state *mockState) {
	t.Helper()
	total := state.config.Total
	if uint64(len(state.pool)) != total {
		t.Fatalf("pool holds %d items, total is %d", len(state.pool), total)
	}
	for i := uint64(1); i <= total; i++ {
		if _, ok := state.pool[i]; !ok {
			t.Fatalf("index %d missing from pool of %d", i, total)
		}
	}
}

func TestInstantiateReturnsRegistrationInstructions(t *testing.T) {
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	out, err := engine.Instantiate(ownerAddr, testParams())
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	want := []struct {
		kind     InstructionKind
		contract [20]byte
	}{
		{InstructionRegisterReceive, scrtChannel},
		{InstructionSetViewingKey, scrtChannel},
		{InstructionRegisterReceive, shillChannel},
		{InstructionSetViewingKey, shillChannel},
		{InstructionSetViewingKey, mintContract},
	}
	if len(out) != len(want) {
		t.Fatalf("expected %d instructions, got %d", len(want), len(out))
	}
	for i, w := range want {
		if out[i].Kind != w.kind {
			t.Fatalf("instruction %d: kind %s, want %s", i, out[i].Kind, w.kind)
		}
		if out[i].Contract.Address != contractRef(ContractInfo{Address: w.contract}).Address {
			t.Fatalf("instruction %d: unexpected contract %s", i, out[i].Contract.Address)
		}
		if out[i].Padding != BlockSize {
			t.Fatalf("instruction %d: padding %d", i, out[i].Padding)
		}
	}
	if out[4].SetViewingKey.Key != "registration-key" {
		t.Fatalf("unexpected registration key %q", out[4].SetViewingKey.Key)
	}
	if state.config.Total != 0 || state.config.NumMinted != 0 {
		t.Fatalf("fresh config should be empty: %+v", state.config)
	}
	for _, ch := range state.config.Channels {
		if !ch.Paid.IsZero() {
			t.Fatalf("channel %s starts with paid %s", ch.Kind, ch.Paid.Dec())
		}
	}
	if _, err := engine.Instantiate(ownerAddr, testParams()); !errors.Is(err, ErrAlreadyInstantiated) {
		t.Fatalf("expected ErrAlreadyInstantiated, got %v", err)
	}
}

func TestInstantiateValidation(t *testing.T) {
	cases := map[string]func(p *InstantiateParams){
		"missing seed":       func(p *InstantiateParams) { p.EntropySeed = nil },
		"missing receiver":   func(p *InstantiateParams) { p.ReceivingAddress = [20]byte{} },
		"missing mint":       func(p *InstantiateParams) { p.MintContract.Address = [20]byte{} },
		"zero price":         func(p *InstantiateParams) { p.Channels[1].Price = uint256.NewInt(0) },
		"blank kind":         func(p *InstantiateParams) { p.Channels[0].Kind = "  " },
		"duplicate kind":     func(p *InstantiateParams) { p.Channels[1].Kind = "SCRT" },
		"duplicate contract": func(p *InstantiateParams) { p.Channels[1].Contract.Address = scrtChannel },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine()
			state := newMockState()
			engine.SetState(state)
			params := testParams()
			mutate(&params)
			if _, err := engine.Instantiate(ownerAddr, params); !errors.Is(err, ErrInvalidParams) {
				t.Fatalf("expected ErrInvalidParams, got %v", err)
			}
			if state.config != nil {
				t.Fatalf("config stored despite invalid params")
			}
		})
	}
}

func TestLoadAppendsAtEnd(t *testing.T) {
	engine, state, buf := newTestEngine(t)
	total, err := engine.Load(ownerAddr, items("A", "B"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected total 2, got %d", total)
	}
	total, err = engine.Load(ownerAddr, items("C"))
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if total != 3 || state.pool[3].ID != "C" {
		t.Fatalf("expected C at index 3, got total %d pool %+v", total, state.pool)
	}
	assertDense(t, state)
	loaded := 0
	for _, evt := range buf.Rendered() {
		if evt.Type == EventTypePoolLoaded {
			loaded++
		}
	}
	if loaded != 2 {
		t.Fatalf("expected 2 pool load events, got %d", loaded)
	}
}

func TestLoadRejectsNonOwner(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(strangerAddr, items("A")); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if len(state.pool) != 0 || state.config.Total != 0 {
		t.Fatalf("non-owner load changed state")
	}
}

func TestLoadRejectsBadBatch(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "A")); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if _, err := engine.Load(ownerAddr, []PreLoad{{ImgURL: "x"}}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected missing id rejection, got %v", err)
	}
	if len(state.pool) != 0 {
		t.Fatalf("rejected batch wrote items")
	}
}

func TestAllocateSwapsLastIntoDrawnSlot(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B", "C")); err != nil {
		t.Fatalf("load: %v", err)
	}
	engine.SetRandomSource(fixedFactory(1))

	alloc, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(100), 1, buyerAddr)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if len(alloc.Items) != 1 || alloc.Items[0].ID != "B" {
		t.Fatalf("expected B to be drawn, got %+v", alloc.Items)
	}
	if state.config.Total != 2 || state.config.NumMinted != 1 {
		t.Fatalf("unexpected counters total=%d minted=%d", state.config.Total, state.config.NumMinted)
	}
	if state.pool[1].ID != "A" || state.pool[2].ID != "C" {
		t.Fatalf("expected {1:A, 2:C}, got 1=%s 2=%s", state.pool[1].ID, state.pool[2].ID)
	}
	if _, ok := state.pool[3]; ok {
		t.Fatalf("index 3 should be vacated")
	}
	if got := state.config.Channels[0].Paid.Uint64(); got != 100 {
		t.Fatalf("expected scrt paid 100, got %d", got)
	}
	if !state.config.Channels[1].Paid.IsZero() {
		t.Fatalf("shill channel should be untouched")
	}

	if len(alloc.Instructions) != 2 {
		t.Fatalf("expected mint and transfer instructions, got %d", len(alloc.Instructions))
	}
	mintMsg := alloc.Instructions[0].MintNFT
	if mintMsg == nil || mintMsg.TokenID != "B" {
		t.Fatalf("expected mint instruction for B, got %+v", alloc.Instructions[0])
	}
	if mintMsg.PublicMetadata.Extension.Name != "Magic Bone #B" {
		t.Fatalf("unexpected token name %q", mintMsg.PublicMetadata.Extension.Name)
	}
	transfer := alloc.Instructions[1].Transfer
	if transfer == nil || transfer.Amount != "100" {
		t.Fatalf("expected transfer of 100, got %+v", alloc.Instructions[1])
	}
	if alloc.Instructions[1].Contract.CodeHash != "scrt-hash" {
		t.Fatalf("transfer should go through the paying channel")
	}
}

func TestAllocateRejectsPaymentMismatch(t *testing.T) {
	engine, state, buf := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B", "C")); err != nil {
		t.Fatalf("load: %v", err)
	}
	before := len(buf.Events())
	_, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(250), 2, buyerAddr)
	if !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected ErrPaymentMismatch, got %v", err)
	}
	if state.config.Total != 3 || state.config.NumMinted != 0 || !state.config.Channels[0].Paid.IsZero() {
		t.Fatalf("mismatch changed accounting: %+v", state.config)
	}
	if len(state.pool) != 3 || state.pool[2].ID != "B" {
		t.Fatalf("mismatch changed the pool")
	}
	if len(buf.Events()) != before {
		t.Fatalf("mismatch emitted events")
	}
}

func TestAllocateCheckOrder(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Allocate(envAt(1), buyerAddr, strangerAddr, uint256.NewInt(7), 0, buyerAddr); !errors.Is(err, ErrUnrecognizedChannel) {
		t.Fatalf("expected channel check first, got %v", err)
	}
	if _, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(100), 0, buyerAddr); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("expected payment check before quantity, got %v", err)
	}
	if _, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(0), 0, buyerAddr); !errors.Is(err, ErrEmptyRequest) {
		t.Fatalf("expected ErrEmptyRequest, got %v", err)
	}
	if _, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(100), 1, buyerAddr); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted on empty pool, got %v", err)
	}
	if _, err := engine.Load(ownerAddr, items("A", "B")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := engine.Allocate(envAt(1), buyerAddr, shillChannel, uint256.NewInt(150), 3, buyerAddr); !errors.Is(err, ErrInsufficientSupply) {
		t.Fatalf("expected ErrInsufficientSupply, got %v", err)
	}
}

func TestAllocateDrawsEveryItemExactlyOnce(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	const n = 40
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, fmt.Sprintf("item-%02d", i))
	}
	if _, err := engine.Load(ownerAddr, items(ids...)); err != nil {
		t.Fatalf("load: %v", err)
	}
	seen := make(map[string]struct{}, n)
	height := uint64(1)
	for state.config.Total > 0 {
		quantity := uint32(1)
		if state.config.Total >= 3 && height%2 == 0 {
			quantity = 3
		}
		amount := uint256.NewInt(50 * uint64(quantity))
		alloc, err := engine.Allocate(envAt(height), buyerAddr, shillChannel, amount, quantity, buyerAddr)
		if err != nil {
			t.Fatalf("allocate at height %d: %v", height, err)
		}
		for _, item := range alloc.Items {
			if _, dup := seen[item.ID]; dup {
				t.Fatalf("item %s allocated twice", item.ID)
			}
			seen[item.ID] = struct{}{}
		}
		if state.config.Total+state.config.NumMinted != n {
			t.Fatalf("total+minted drifted: %d+%d", state.config.Total, state.config.NumMinted)
		}
		assertDense(t, state)
		height++
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct items, got %d", n, len(seen))
	}
	if _, err := engine.Allocate(envAt(height), buyerAddr, shillChannel, uint256.NewInt(50), 1, buyerAddr); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
}

func TestAllocateIsReplayable(t *testing.T) {
	draw := func() string {
		engine, _, _ := newTestEngine(t)
		if _, err := engine.Load(ownerAddr, items("A", "B", "C", "D", "E", "F")); err != nil {
			t.Fatalf("load: %v", err)
		}
		alloc, err := engine.Allocate(envAt(9), buyerAddr, scrtChannel, uint256.NewInt(100), 1, buyerAddr)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		return alloc.Items[0].ID
	}
	if first, second := draw(), draw(); first != second {
		t.Fatalf("same inputs drew %s then %s", first, second)
	}
}

func TestAllocateHaltsOnCorruptPool(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B", "C")); err != nil {
		t.Fatalf("load: %v", err)
	}
	delete(state.pool, 2)
	engine.SetRandomSource(fixedFactory(1))
	if _, err := engine.Allocate(envAt(1), buyerAddr, scrtChannel, uint256.NewInt(100), 1, buyerAddr); !errors.Is(err, ErrPoolCorrupt) {
		t.Fatalf("expected ErrPoolCorrupt, got %v", err)
	}
	if !engine.Halted() {
		t.Fatalf("engine should halt after a corrupt draw")
	}
	if state.config.Total != 3 || !state.config.Channels[0].Paid.IsZero() {
		t.Fatalf("corrupt draw changed accounting")
	}
	engine.SetRandomSource(fixedFactory(0))
	if _, err := engine.Allocate(envAt(2), buyerAddr, scrtChannel, uint256.NewInt(100), 1, buyerAddr); !errors.Is(err, ErrPoolCorrupt) {
		t.Fatalf("halted engine should keep refusing, got %v", err)
	}
}

func TestAllocateEmitsEvents(t *testing.T) {
	engine, _, buf := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B")); err != nil {
		t.Fatalf("load: %v", err)
	}
	engine.SetRandomSource(fixedFactory(0, 0))
	if _, err := engine.Allocate(envAt(1), buyerAddr, shillChannel, uint256.NewInt(100), 2, strangerAddr); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	rendered := buf.Rendered()
	var allocated []types.Event
	var payment *types.Event
	for i := range rendered {
		switch rendered[i].Type {
		case EventTypeItemAllocated:
			allocated = append(allocated, rendered[i])
		case EventTypePaymentAccepted:
			payment = &rendered[i]
		}
	}
	if len(allocated) != 2 {
		t.Fatalf("expected 2 allocation events, got %d", len(allocated))
	}
	if allocated[0].Attributes["tokenId"] != "A" || allocated[0].Attributes["remaining"] != "1" {
		t.Fatalf("unexpected first allocation event %+v", allocated[0].Attributes)
	}
	if allocated[1].Attributes["tokenId"] != "B" || allocated[1].Attributes["remaining"] != "0" {
		t.Fatalf("unexpected second allocation event %+v", allocated[1].Attributes)
	}
	if payment == nil {
		t.Fatalf("expected payment event")
	}
	if payment.Attributes["amount"] != "100" || payment.Attributes["channel"] != "shill" || payment.Attributes["quantity"] != "2" {
		t.Fatalf("unexpected payment event %+v", payment.Attributes)
	}
}

func TestOnPaymentNoticeAllocatesToPayer(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B", "C")); err != nil {
		t.Fatalf("load: %v", err)
	}
	alloc, err := engine.OnPaymentNotice(envAt(1), PaymentNotice{
		Channel: scrtChannel,
		Sender:  buyerAddr,
		From:    strangerAddr,
		Amount:  uint256.NewInt(200),
		Msg:     []byte(`{"receive_mint":{"channel":"scrt","quantity":2}}`),
	})
	if err != nil {
		t.Fatalf("notice: %v", err)
	}
	if alloc.Recipient != strangerAddr || len(alloc.Items) != 2 {
		t.Fatalf("unexpected allocation %+v", alloc)
	}
	if alloc.Channel != "scrt" {
		t.Fatalf("unexpected channel %s", alloc.Channel)
	}
	if state.config.Total != 1 || state.config.Channels[0].Paid.Uint64() != 200 {
		t.Fatalf("unexpected accounting %+v", state.config)
	}
}

func TestOnPaymentNoticeRejectsBadIntent(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A")); err != nil {
		t.Fatalf("load: %v", err)
	}
	notice := PaymentNotice{Channel: scrtChannel, Sender: buyerAddr, From: buyerAddr, Amount: uint256.NewInt(100)}
	if _, err := engine.OnPaymentNotice(envAt(1), notice); !errors.Is(err, ErrIntentRequired) {
		t.Fatalf("expected ErrIntentRequired, got %v", err)
	}
	notice.Msg = []byte(`{"receive_mint_shill":{}}`)
	if _, err := engine.OnPaymentNotice(envAt(1), notice); !errors.Is(err, ErrUnrecognizedChannel) {
		t.Fatalf("expected channel mismatch, got %v", err)
	}
	notice.Channel = strangerAddr
	notice.Msg = []byte(`{"receive_mint_scrt":{}}`)
	if _, err := engine.OnPaymentNotice(envAt(1), notice); !errors.Is(err, ErrUnrecognizedChannel) {
		t.Fatalf("expected ErrUnrecognizedChannel, got %v", err)
	}
	if state.config.Total != 1 {
		t.Fatalf("rejected notices changed the pool")
	}
}

func TestViewingKeyGate(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	if _, err := engine.MintInfo(Viewer{Address: ownerAddr, Key: "s1"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unset key should refuse, got %v", err)
	}
	if err := engine.SetViewingKey(strangerAddr, "s1"); err != nil {
		t.Fatalf("non-owner set should be silent, got %v", err)
	}
	if state.viewingKey != nil {
		t.Fatalf("non-owner set stored a key")
	}
	if err := engine.SetViewingKey(ownerAddr, "s1"); err != nil {
		t.Fatalf("owner set: %v", err)
	}
	if state.viewingKey.Digest == ([32]byte{}) || state.viewingKey.Digest == HashViewingKey("s2") {
		t.Fatalf("unexpected stored digest")
	}
	if _, err := engine.MintInfo(Viewer{Address: ownerAddr, Key: "s2"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong key should refuse, got %v", err)
	}
	if _, err := engine.MintInfo(Viewer{Address: strangerAddr, Key: "s1"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrong address should refuse, got %v", err)
	}
	info, err := engine.MintInfo(Viewer{Address: ownerAddr, Key: "s1"})
	if err != nil {
		t.Fatalf("mint info: %v", err)
	}
	if len(info.Payments) != ChannelCount || info.Payments[0].Kind != "scrt" || info.Payments[1].Kind != "shill" {
		t.Fatalf("unexpected payments %+v", info.Payments)
	}
	if err := engine.SetViewingKey(ownerAddr, "s3"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := engine.MintInfo(Viewer{Address: ownerAddr, Key: "s1"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("rotated key should invalidate the old one, got %v", err)
	}
}

func TestMintInfoReflectsPayments(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.Load(ownerAddr, items("A", "B", "C")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := engine.Allocate(envAt(1), buyerAddr, shillChannel, uint256.NewInt(100), 2, buyerAddr); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := engine.SetViewingKey(ownerAddr, "key"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	info, err := engine.MintInfo(Viewer{Address: ownerAddr, Key: "key"})
	if err != nil {
		t.Fatalf("mint info: %v", err)
	}
	if info.NumMinted != 2 || info.Total != 1 {
		t.Fatalf("unexpected counters %+v", info)
	}
	if !info.Payments[0].Amount.IsZero() || info.Payments[1].Amount.Uint64() != 100 {
		t.Fatalf("unexpected payments scrt=%s shill=%s", info.Payments[0].Amount.Dec(), info.Payments[1].Amount.Dec())
	}
}

func TestEngineRequiresState(t *testing.T) {
	engine := NewEngine()
	if _, err := engine.Load(ownerAddr, items("A")); !errors.Is(err, errNilState) {
		t.Fatalf("expected errNilState, got %v", err)
	}
	engine.SetState(newMockState())
	if _, err := engine.Load(ownerAddr, items("A")); !errors.Is(err, ErrNotInstantiated) {
		t.Fatalf("expected ErrNotInstantiated, got %v", err)
	}
}
