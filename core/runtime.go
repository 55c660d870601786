package core

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mintmgr/core/events"
	"mintmgr/core/state"
	"mintmgr/core/types"
	"mintmgr/crypto"
	"mintmgr/crypto/prng"
	"mintmgr/native/mint"
	"mintmgr/observability"
	"mintmgr/observability/logging"
	mintotel "mintmgr/observability/otel"
	"mintmgr/storage"
	"mintmgr/storage/receipts"
)

var heightKey = []byte("runtime/height")

// ReceiptJournal records committed invocations.
type ReceiptJournal interface {
	Append(ctx context.Context, r *receipts.Receipt) error
	List(ctx context.Context, f receipts.Filter) ([]receipts.Receipt, error)
}

// RuntimeConfig identifies the deployment.
type RuntimeConfig struct {
	ChainID  string
	Contract [20]byte
}

type executeFn func(env types.Env) (*ExecuteResponse, *mint.Allocation, error)

// Runtime hosts the mint engine. Invocations run one at a time; each executes
// against an overlay that is committed only when the engine returns without
// error, so a failed invocation leaves storage untouched.
type Runtime struct {
	mu       sync.Mutex
	db       storage.Database
	engine   *mint.Engine
	chainID  string
	contract [20]byte
	height   uint64

	logger  *slog.Logger
	tracer  trace.Tracer
	journal ReceiptJournal
	nowFn   func() time.Time
	idFn    func() uuid.UUID
}

// NewRuntime binds a runtime to db and restores the invocation height.
func NewRuntime(db storage.Database, cfg RuntimeConfig) (*Runtime, error) {
	if db == nil {
		return nil, errors.New("mint runtime: database required")
	}
	height, err := loadHeight(db)
	if err != nil {
		return nil, err
	}
	engine := mint.NewEngine()
	engine.SetState(state.NewMintStore(db))
	return &Runtime{
		db:       db,
		engine:   engine,
		chainID:  strings.TrimSpace(cfg.ChainID),
		contract: cfg.Contract,
		height:   height,
		logger:   slog.Default(),
		tracer:   mintotel.Tracer(),
		nowFn:    time.Now,
		idFn:     uuid.New,
	}, nil
}

func loadHeight(db storage.Database) (uint64, error) {
	raw, err := db.Get(heightKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mint runtime: load height: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("mint runtime: malformed height record (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func encodeHeight(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}

// SetLogger replaces the structured logger.
func (r *Runtime) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// SetJournal enables the receipt journal.
func (r *Runtime) SetJournal(journal ReceiptJournal) { r.journal = journal }

// SetNowFunc overrides the clock used for invocation timestamps.
func (r *Runtime) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// SetRandomSource overrides the draw generator.
func (r *Runtime) SetRandomSource(factory prng.Factory) { r.engine.SetRandomSource(factory) }

// Height returns the number of committed invocations.
func (r *Runtime) Height() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.height
}

// Halted reports whether allocation has stopped on a corrupt pool.
func (r *Runtime) Halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Halted()
}

// Instantiated reports whether a mint configuration has been stored.
func (r *Runtime) Instantiated() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.engine.Config()
	if errors.Is(err, mint.ErrNotInstantiated) {
		return false, nil
	}
	return err == nil, err
}

func (r *Runtime) nextEnv(sender [20]byte, now time.Time) types.Env {
	height := r.height + 1
	id := r.idFn()
	env := types.Env{
		BlockHeight: height,
		BlockTime:   now.Unix(),
		ChainID:     r.chainID,
		Contract:    r.contract,
	}
	copy(env.TxHash[:], ethcrypto.Keccak256(id[:], encodeHeight(height), sender[:]))
	return env
}

// outcome buckets an error for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, mint.ErrPoolCorrupt):
		return "corrupt"
	case IsClientError(err):
		return "rejected"
	default:
		return "failed"
	}
}

// IsClientError reports whether err stems from the request rather than the host.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidMessage,
		mint.ErrUnrecognizedChannel,
		mint.ErrPaymentMismatch,
		mint.ErrEmptyRequest,
		mint.ErrPoolExhausted,
		mint.ErrInsufficientSupply,
		mint.ErrNotOwner,
		mint.ErrUnauthorized,
		mint.ErrNotInstantiated,
		mint.ErrAlreadyInstantiated,
		mint.ErrIntentRequired,
		mint.ErrInvalidIntent,
		mint.ErrPoolCapacity,
		mint.ErrInvalidParams,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (r *Runtime) execute(ctx context.Context, action string, sender [20]byte, fn executeFn) (*ExecuteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.nowFn()
	ctx, span := r.tracer.Start(ctx, "mint."+action, trace.WithAttributes(attribute.String("mint.action", action)))
	defer span.End()

	env := r.nextEnv(sender, start)
	overlay := storage.NewOverlay(r.db)
	buf := &events.Buffer{}
	r.engine.SetState(state.NewMintStore(overlay))
	r.engine.SetEmitter(buf)
	defer func() {
		r.engine.SetState(state.NewMintStore(r.db))
		r.engine.SetEmitter(nil)
	}()

	resp, alloc, err := fn(env)
	if err == nil {
		err = overlay.Put(heightKey, encodeHeight(env.BlockHeight))
	}
	if err == nil {
		err = overlay.Commit()
	}
	metrics := observability.MintMetrics()
	if err != nil {
		overlay.Discard()
		result := outcome(err)
		metrics.ObserveInvocation(action, result, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if errors.Is(err, mint.ErrPoolCorrupt) {
			metrics.SetHalted(true)
			r.logger.Error("mint allocation halted", "action", action, "height", env.BlockHeight, "error", err.Error())
		} else {
			r.logger.Info("mint invocation rejected", "action", action, "outcome", result, "error", err.Error())
		}
		return nil, err
	}
	r.height = env.BlockHeight

	if resp == nil {
		resp = &ExecuteResponse{}
	}
	resp.Action = action
	resp.TxHash = "0x" + hex.EncodeToString(env.TxHash[:])
	resp.Height = env.BlockHeight
	resp.Events = buf.Rendered()

	span.SetAttributes(attribute.String("mint.tx", resp.TxHash), attribute.Int64("mint.height", int64(env.BlockHeight)))
	if alloc != nil {
		metrics.RecordAllocated(alloc.Channel, len(alloc.Items))
	}
	r.engine.SetState(state.NewMintStore(r.db))
	if cfg, cfgErr := r.engine.Config(); cfgErr == nil {
		metrics.SetRemaining(cfg.Total)
	}
	metrics.ObserveInvocation(action, "ok", time.Since(start))
	r.logger.Info("mint invocation committed", "action", action, "tx", resp.TxHash, "height", resp.Height, "events", len(resp.Events))
	r.record(ctx, env, sender, resp, alloc)
	return resp, nil
}

func (r *Runtime) record(ctx context.Context, env types.Env, sender [20]byte, resp *ExecuteResponse, alloc *mint.Allocation) {
	if r.journal == nil {
		return
	}
	receipt := &receipts.Receipt{
		TxHash:    resp.TxHash,
		Height:    resp.Height,
		Sender:    crypto.FormatIdentity(sender),
		Action:    resp.Action,
		Recipient: resp.Recipient,
		BlockTime: env.BlockTime,
		CreatedAt: time.Unix(env.BlockTime, 0).UTC(),
	}
	if alloc != nil {
		receipt.Channel = alloc.Channel
		receipt.Payer = crypto.FormatIdentity(alloc.Payer)
		for _, item := range alloc.Items {
			receipt.TokenIDs = append(receipt.TokenIDs, item.ID)
		}
	}
	if len(resp.Instructions) > 0 {
		if encoded, err := json.Marshal(resp.Instructions); err == nil {
			receipt.Instructions = string(encoded)
		}
	}
	// The invocation is already committed; a journal failure only loses the audit row.
	if err := r.journal.Append(ctx, receipt); err != nil {
		r.logger.Warn("receipt journal append failed", "tx", resp.TxHash, "error", err.Error())
	}
}

// Instantiate creates the mint. owner becomes the only identity allowed to
// load the pool or set the viewing key.
func (r *Runtime) Instantiate(ctx context.Context, owner [20]byte, msg InstantiateMsg) (*ExecuteResponse, error) {
	return r.execute(ctx, "instantiate", owner, func(env types.Env) (*ExecuteResponse, *mint.Allocation, error) {
		params, err := msg.Params()
		if err != nil {
			return nil, nil, err
		}
		instructions, err := r.engine.Instantiate(owner, params)
		if err != nil {
			return nil, nil, err
		}
		return &ExecuteResponse{Instructions: instructions}, nil, nil
	})
}

// Execute runs a state changing message on behalf of sender. For receive,
// sender is the payment channel contract that moved the funds.
func (r *Runtime) Execute(ctx context.Context, sender [20]byte, msg ExecuteMsg) (*ExecuteResponse, error) {
	variant, err := msg.Variant()
	if err != nil {
		observability.MintMetrics().ObserveInvocation("invalid", outcome(err), 0)
		return nil, err
	}
	switch variant {
	case "receive":
		return r.execute(ctx, variant, sender, func(env types.Env) (*ExecuteResponse, *mint.Allocation, error) {
			notice, err := msg.Receive.Notice(sender)
			if err != nil {
				return nil, nil, err
			}
			alloc, err := r.engine.OnPaymentNotice(env, notice)
			if err != nil {
				return nil, nil, err
			}
			return &ExecuteResponse{
				Recipient:    crypto.FormatIdentity(alloc.Recipient),
				Items:        alloc.Items,
				Instructions: alloc.Instructions,
			}, alloc, nil
		})
	case "pre_load":
		return r.execute(ctx, variant, sender, func(env types.Env) (*ExecuteResponse, *mint.Allocation, error) {
			total, err := r.engine.Load(sender, msg.PreLoad.NewData)
			if err != nil {
				return nil, nil, err
			}
			return &ExecuteResponse{Total: &total}, nil, nil
		})
	default:
		return r.execute(ctx, variant, sender, func(env types.Env) (*ExecuteResponse, *mint.Allocation, error) {
			r.logger.Debug("viewing key update requested", "sender", crypto.FormatIdentity(sender), logging.MaskField("viewing_key", msg.SetViewingKey.Key))
			if err := r.engine.SetViewingKey(sender, msg.SetViewingKey.Key); err != nil {
				return nil, nil, err
			}
			return &ExecuteResponse{}, nil, nil
		})
	}
}

// Query answers a read-only message. It never writes.
func (r *Runtime) Query(ctx context.Context, msg QueryMsg) (*MintInfoResponse, error) {
	if msg.GetMintInfo == nil {
		return nil, ErrInvalidMessage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, span := r.tracer.Start(ctx, "mint.get_mint_info")
	defer span.End()

	viewer, err := msg.GetMintInfo.Viewer.Viewer()
	if err != nil {
		return nil, err
	}
	info, err := r.engine.MintInfo(viewer)
	if err != nil {
		span.SetStatus(codes.Error, outcome(err))
		return nil, err
	}
	resp := &MintInfoResponse{
		NumMinted:  info.NumMinted,
		Total:      info.Total,
		AmountPaid: make([]PaymentTotal, 0, len(info.Payments)),
	}
	for _, p := range info.Payments {
		resp.AmountPaid = append(resp.AmountPaid, PaymentTotal{Kind: p.Kind, Amount: p.Amount.Dec()})
	}
	return resp, nil
}

// Receipts lists journal entries for a viewer holding the admin viewing key.
func (r *Runtime) Receipts(ctx context.Context, viewer ViewerInfo, filter receipts.Filter) ([]receipts.Receipt, error) {
	if r.journal == nil {
		return nil, ErrReceiptsDisabled
	}
	parsed, err := viewer.Viewer()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	err = r.engine.CheckViewer(parsed)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return r.journal.List(ctx, filter)
}
