package pool

import (
	"sync"

	"github.com/holiman/uint256"

	"factorpool/crypto"
)

// EngineState abstracts the persistence layer backing one pool instance. The
// engine loads records, mutates deep copies, and persists them only once an
// operation has fully validated, so an implementation never observes a
// partial mutation (the nonce ledger is the single deliberate exception).
type EngineState interface {
	PoolGet() (*PoolState, error)
	PoolPut(*PoolState) error

	LoanGet(id uint64) (*Loan, bool, error)
	LoanPut(*Loan) error
	NextLoanID() (uint64, error)

	LoanIDByFingerprint(fp [32]byte) (uint64, bool, error)
	FingerprintPut(fp [32]byte, loanID uint64) error
	FingerprintDelete(fp [32]byte) error

	PositionGet(addr crypto.Address) (*Position, bool, error)
	PositionPut(*Position) error

	AllowanceGet(owner, spender crypto.Address) (*uint256.Int, error)
	AllowancePut(owner, spender crypto.Address, value *uint256.Int) error

	NonceConsumed(nonce [32]byte) (bool, error)
	NonceConsume(nonce [32]byte) error
}

// MemoryState is an in-process EngineState used by tests and as a default
// backend when durability is not required.
type MemoryState struct {
	mu           sync.Mutex
	pool         *PoolState
	loans        map[uint64]*Loan
	fingerprints map[[32]byte]uint64
	positions    map[string]*Position
	allowances   map[string]*uint256.Int
	nonces       map[[32]byte]struct{}
	nextLoanID   uint64
}

// NewMemoryState returns an empty in-memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		loans:        make(map[uint64]*Loan),
		fingerprints: make(map[[32]byte]uint64),
		positions:    make(map[string]*Position),
		allowances:   make(map[string]*uint256.Int),
		nonces:       make(map[[32]byte]struct{}),
		nextLoanID:   1,
	}
}

func (m *MemoryState) PoolGet() (*PoolState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool == nil {
		return nil, nil
	}
	return m.pool.Clone(), nil
}

func (m *MemoryState) PoolPut(p *PoolState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool = p.Clone()
	return nil
}

func (m *MemoryState) LoanGet(id uint64) (*Loan, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *MemoryState) LoanPut(loan *Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if loan == nil {
		return nil
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *MemoryState) NextLoanID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextLoanID
	m.nextLoanID++
	return id, nil
}

func (m *MemoryState) LoanIDByFingerprint(fp [32]byte) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.fingerprints[fp]
	return id, ok, nil
}

func (m *MemoryState) FingerprintPut(fp [32]byte, loanID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fingerprints[fp] = loanID
	return nil
}

func (m *MemoryState) FingerprintDelete(fp [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fingerprints, fp)
	return nil
}

func (m *MemoryState) PositionGet(addr crypto.Address) (*Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[string(addr.Bytes())]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (m *MemoryState) PositionPut(pos *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos == nil {
		return nil
	}
	m.positions[string(pos.Address.Bytes())] = pos.Clone()
	return nil
}

func allowanceKey(owner, spender crypto.Address) string {
	return string(owner.Bytes()) + "/" + string(spender.Bytes())
}

func (m *MemoryState) AllowanceGet(owner, spender crypto.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.allowances[allowanceKey(owner, spender)]
	if !ok || value == nil {
		return uint256.NewInt(0), nil
	}
	return new(uint256.Int).Set(value), nil
}

func (m *MemoryState) AllowancePut(owner, spender crypto.Address, value *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == nil || value.IsZero() {
		delete(m.allowances, allowanceKey(owner, spender))
		return nil
	}
	m.allowances[allowanceKey(owner, spender)] = new(uint256.Int).Set(value)
	return nil
}

func (m *MemoryState) NonceConsumed(nonce [32]byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.nonces[nonce]
	return ok, nil
}

func (m *MemoryState) NonceConsume(nonce [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[nonce] = struct{}{}
	return nil
}
