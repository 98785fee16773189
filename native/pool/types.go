package pool

import (
	"github.com/holiman/uint256"

	"factorpool/crypto"
)

// LoanStatus tracks the lifecycle of a funded obligation. Burned is a
// terminal archival state only reachable from Repaid.
type LoanStatus uint8

const (
	LoanStatusUnknown LoanStatus = iota
	LoanStatusActive
	LoanStatusRepaid
	LoanStatusBurned
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusActive:
		return "active"
	case LoanStatusRepaid:
		return "repaid"
	case LoanStatusBurned:
		return "burned"
	default:
		return "unknown"
	}
}

// PoolState captures the global accounting state for one pool instance.
// Amount values carry 6-decimal stablecoin precision.
type PoolState struct {
	// TotalShares is the sum of all LP share balances.
	TotalShares *uint256.Int
	// IdleAssets is the asset balance held and spendable by the pool.
	IdleAssets *uint256.Int
	// TotalActiveLoans is the sum of principal across currently funded
	// loans.
	TotalActiveLoans *uint256.Int
	// AccumulatedFees is the protocol fee owed to the fee recipient,
	// withdrawable at any time.
	AccumulatedFees *uint256.Int
	// MaxUtilizationBps caps TotalActiveLoans relative to total assets.
	MaxUtilizationBps uint64
	// ProtocolFeeBps is the fraction of realized yield retained by the
	// protocol, expressed in basis points.
	ProtocolFeeBps uint64
}

// normalize replaces nil amounts with zero so arithmetic never trips on a
// partially decoded record.
func (p *PoolState) normalize() {
	if p == nil {
		return
	}
	if p.TotalShares == nil {
		p.TotalShares = uint256.NewInt(0)
	}
	if p.IdleAssets == nil {
		p.IdleAssets = uint256.NewInt(0)
	}
	if p.TotalActiveLoans == nil {
		p.TotalActiveLoans = uint256.NewInt(0)
	}
	if p.AccumulatedFees == nil {
		p.AccumulatedFees = uint256.NewInt(0)
	}
}

// Clone returns a deep copy so callers can mutate without aliasing state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := &PoolState{
		MaxUtilizationBps: p.MaxUtilizationBps,
		ProtocolFeeBps:    p.ProtocolFeeBps,
	}
	if p.TotalShares != nil {
		clone.TotalShares = new(uint256.Int).Set(p.TotalShares)
	}
	if p.IdleAssets != nil {
		clone.IdleAssets = new(uint256.Int).Set(p.IdleAssets)
	}
	if p.TotalActiveLoans != nil {
		clone.TotalActiveLoans = new(uint256.Int).Set(p.TotalActiveLoans)
	}
	if p.AccumulatedFees != nil {
		clone.AccumulatedFees = new(uint256.Int).Set(p.AccumulatedFees)
	}
	clone.normalize()
	return clone
}

// totalAssets computes IdleAssets + TotalActiveLoans - AccumulatedFees. The
// second return is false when fees exceed the gross balance, which is an
// integrity violation.
func (p *PoolState) totalAssets() (*uint256.Int, bool) {
	if p == nil {
		return uint256.NewInt(0), true
	}
	gross := new(uint256.Int)
	if _, overflow := gross.AddOverflow(p.IdleAssets, p.TotalActiveLoans); overflow {
		return uint256.NewInt(0), false
	}
	if gross.Cmp(p.AccumulatedFees) < 0 {
		return uint256.NewInt(0), false
	}
	return new(uint256.Int).Sub(gross, p.AccumulatedFees), true
}

// availableLiquidity is the idle balance net of accrued fees, the portion
// withdraw/redeem and fundLoan may spend.
func (p *PoolState) availableLiquidity() *uint256.Int {
	if p == nil || p.IdleAssets.Cmp(p.AccumulatedFees) < 0 {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Sub(p.IdleAssets, p.AccumulatedFees)
}

// Loan is one funded invoice-like obligation, keyed by an opaque identifier.
type Loan struct {
	ID                  uint64
	Principal           *uint256.Int
	ExpectedYieldBps    uint64
	RiskScore           uint8
	Seller              crypto.Address
	DocumentFingerprint [32]byte
	FundedAt            int64
	DueDate             int64
	Status              LoanStatus
}

// Clone returns a deep copy of the loan record.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Principal != nil {
		clone.Principal = new(uint256.Int).Set(l.Principal)
	}
	return &clone
}

// Position maintains the share holdings for an individual liquidity
// provider. The cumulative totals are reporting-only; share value is always
// derived from pool totals.
type Position struct {
	Address        crypto.Address
	Shares         *uint256.Int
	TotalDeposited *uint256.Int
	TotalWithdrawn *uint256.Int
}

func (p *Position) normalize() {
	if p == nil {
		return
	}
	if p.Shares == nil {
		p.Shares = uint256.NewInt(0)
	}
	if p.TotalDeposited == nil {
		p.TotalDeposited = uint256.NewInt(0)
	}
	if p.TotalWithdrawn == nil {
		p.TotalWithdrawn = uint256.NewInt(0)
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	if p.Shares != nil {
		clone.Shares = new(uint256.Int).Set(p.Shares)
	}
	if p.TotalDeposited != nil {
		clone.TotalDeposited = new(uint256.Int).Set(p.TotalDeposited)
	}
	if p.TotalWithdrawn != nil {
		clone.TotalWithdrawn = new(uint256.Int).Set(p.TotalWithdrawn)
	}
	clone.normalize()
	return clone
}

// PoolStats is the outward query surface summarizing the pool.
type PoolStats struct {
	TotalAssets       *uint256.Int
	TotalShares       *uint256.Int
	TotalActiveLoans  *uint256.Int
	UtilizationBps    uint64
	AvailableForLoans *uint256.Int
}
