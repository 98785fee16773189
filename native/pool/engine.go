package pool

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"factorpool/core/events"
	"factorpool/crypto"
	nativecommon "factorpool/native/common"
)

// Flow identifiers used with the pause guard.
const (
	flowDeposit  = "pool.deposit"
	flowWithdraw = "pool.withdraw"
	flowFund     = "pool.fund"
	flowRepay    = "pool.repay"
	flowFees     = "pool.fees"
)

// Bounds on governance parameters.
const (
	maxUtilizationCapBps = 10_000
	maxProtocolFeeBps    = 5_000
)

// Custodian moves the underlying stablecoin between external accounts and
// the pool. Its failures abort the enclosing operation before any state is
// persisted.
type Custodian interface {
	TransferIn(from crypto.Address, amount *uint256.Int) error
	TransferOut(to crypto.Address, amount *uint256.Int) error
	BalanceOf(addr crypto.Address) (*uint256.Int, error)
}

// BorrowerRegistry gates which sellers may receive loan funding. Identity
// management itself lives outside the engine.
type BorrowerRegistry interface {
	IsAuthorizedBorrower(addr crypto.Address) bool
}

// Engine owns the accounting and loan-authorization state transitions for a
// single pool instance. Every mutating operation executes under one write
// lock; read-only views share a read lock so they observe consistent
// snapshots of the fields composing total assets.
type Engine struct {
	mu        sync.RWMutex
	state     EngineState
	custodian Custodian
	registry  BorrowerRegistry
	verifier  Verifier
	emitter   events.Emitter
	pauses    nativecommon.PauseView

	poolID string
	oracle [20]byte
	nowFn  func() int64

	haltErr error
}

// NewEngine constructs an engine for the identified pool trusting the given
// oracle signer. Events are discarded until SetEmitter is called.
func NewEngine(poolID string, oracle [20]byte) *Engine {
	return &Engine{
		poolID:   strings.TrimSpace(poolID),
		oracle:   oracle,
		verifier: Secp256k1Verifier{},
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state EngineState) { e.state = state }

// SetCustodian wires the asset-custody collaborator.
func (e *Engine) SetCustodian(c Custodian) { e.custodian = c }

// SetRegistry wires the borrower authorization gate. A nil registry admits
// every seller.
func (e *Engine) SetRegistry(r BorrowerRegistry) { e.registry = r }

// SetVerifier overrides the signature verifier, primarily so tests can
// inject a fake. Passing nil restores the production verifier.
func (e *Engine) SetVerifier(v Verifier) {
	if v == nil {
		e.verifier = Secp256k1Verifier{}
		return
	}
	e.verifier = v
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

// SetPauses wires the administrative pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() int64) {
	if now != nil {
		e.nowFn = now
	}
}

// PoolID returns the configured pool identifier.
func (e *Engine) PoolID() string { return e.poolID }

// InitializePool writes the initial pool record. It fails if the pool has
// already been initialized or a parameter is out of range.
func (e *Engine) InitializePool(maxUtilizationBps, protocolFeeBps uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrNilState
	}
	if maxUtilizationBps > maxUtilizationCapBps {
		return fmt.Errorf("%w: max utilization %d bps", ErrInvalidAmount, maxUtilizationBps)
	}
	if protocolFeeBps > maxProtocolFeeBps {
		return fmt.Errorf("%w: protocol fee %d bps", ErrInvalidAmount, protocolFeeBps)
	}
	existing, err := e.state.PoolGet()
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("pool engine: already initialized")
	}
	state := &PoolState{
		TotalShares:       uint256.NewInt(0),
		IdleAssets:        uint256.NewInt(0),
		TotalActiveLoans:  uint256.NewInt(0),
		AccumulatedFees:   uint256.NewInt(0),
		MaxUtilizationBps: maxUtilizationBps,
		ProtocolFeeBps:    protocolFeeBps,
	}
	return e.state.PoolPut(state)
}

// beginMutation runs the shared admission checks for a mutating flow. The
// caller must hold the write lock.
func (e *Engine) beginMutation(flow string) (*PoolState, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	if e.haltErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolHalted, e.haltErr)
	}
	if err := nativecommon.Guard(e.pauses, flow); err != nil {
		return nil, err
	}
	return e.loadPool()
}

func (e *Engine) loadPool() (*PoolState, error) {
	state, err := e.state.PoolGet()
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrPoolNotInitialized
	}
	state.normalize()
	return state, nil
}

// checkIntegrity validates the pool invariants on the candidate state. A
// violation marks the engine halted; every later mutating call fails with
// ErrPoolHalted until operator intervention.
func (e *Engine) checkIntegrity(state *PoolState) error {
	if _, ok := state.totalAssets(); !ok {
		e.haltErr = ErrIntegrity
		return fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	if state.IdleAssets.Cmp(state.AccumulatedFees) < 0 {
		e.haltErr = ErrIntegrity
		return fmt.Errorf("%w: accrued fees exceed idle assets", ErrIntegrity)
	}
	return nil
}

// Halted reports whether the engine refused further mutations after an
// integrity failure.
func (e *Engine) Halted() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.haltErr != nil
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func (e *Engine) now() int64 {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().Unix()
}

// TotalAssets returns idle assets plus active principal minus accrued fees.
func (e *Engine) TotalAssets() (*uint256.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total, ok := state.totalAssets()
	if !ok {
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	return total, nil
}

// Stats summarizes the pool for the outward query surface.
func (e *Engine) Stats() (*PoolStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	total, ok := state.totalAssets()
	if !ok {
		return nil, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	stats := &PoolStats{
		TotalAssets:      total,
		TotalShares:      new(uint256.Int).Set(state.TotalShares),
		TotalActiveLoans: new(uint256.Int).Set(state.TotalActiveLoans),
	}
	if !total.IsZero() {
		util := mulDivFloor(state.TotalActiveLoans, bpsDenominator, total)
		stats.UtilizationBps = util.Uint64()
	}
	maxLoanable := bpsShare(total, state.MaxUtilizationBps)
	headroom := uint256.NewInt(0)
	if maxLoanable.Cmp(state.TotalActiveLoans) > 0 {
		headroom = new(uint256.Int).Sub(maxLoanable, state.TotalActiveLoans)
	}
	stats.AvailableForLoans = minU256(headroom, state.availableLiquidity())
	return stats, nil
}

// EstimatedAPYBps is a rough utilization-scaled yield figure for display
// only. It is not weighted by time to maturity or realized yields and must
// never be treated as a guaranteed return.
func (e *Engine) EstimatedAPYBps() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return 0, ErrNilState
	}
	state, err := e.loadPool()
	if err != nil {
		return 0, err
	}
	total, ok := state.totalAssets()
	if !ok || total.IsZero() {
		return 0, nil
	}
	estimate := mulDivFloor(state.TotalActiveLoans, uint256.NewInt(1000), total)
	return estimate.Uint64(), nil
}

// GetPosition returns the reporting view of a liquidity provider. A missing
// position reads as an empty one.
func (e *Engine) GetPosition(addr crypto.Address) (*Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	if addr.IsZero() {
		return nil, ErrZeroAddress
	}
	pos, ok, err := e.state.PositionGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		pos = &Position{Address: addr}
	}
	pos.normalize()
	return pos, nil
}
