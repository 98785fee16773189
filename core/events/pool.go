package events

import (
	"encoding/hex"
	"strconv"

	"github.com/holiman/uint256"

	"factorpool/core/types"
	"factorpool/crypto"
)

const (
	TypePoolDeposited      = "pool.deposited"
	TypePoolWithdrawn      = "pool.withdrawn"
	TypePoolLoanFunded     = "pool.loan_funded"
	TypePoolLoanRepaid     = "pool.loan_repaid"
	TypePoolLoanBurned     = "pool.loan_burned"
	TypePoolFeesWithdrawn  = "pool.fees_withdrawn"
)

// PoolDeposited records a liquidity provider depositing assets for shares.
type PoolDeposited struct {
	Caller   crypto.Address
	Receiver crypto.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (PoolDeposited) EventType() string { return TypePoolDeposited }

func (e PoolDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypePoolDeposited,
		Attributes: map[string]string{
			"caller":   e.Caller.String(),
			"receiver": e.Receiver.String(),
			"assets":   formatAmount(e.Assets),
			"shares":   formatAmount(e.Shares),
		},
	}
}

// PoolWithdrawn records shares burned in exchange for assets leaving the pool.
type PoolWithdrawn struct {
	Owner    crypto.Address
	Receiver crypto.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (PoolWithdrawn) EventType() string { return TypePoolWithdrawn }

func (e PoolWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePoolWithdrawn,
		Attributes: map[string]string{
			"owner":    e.Owner.String(),
			"receiver": e.Receiver.String(),
			"assets":   formatAmount(e.Assets),
			"shares":   formatAmount(e.Shares),
		},
	}
}

// PoolLoanFunded records principal leaving the pool toward a seller.
type PoolLoanFunded struct {
	LoanID      uint64
	Fingerprint [32]byte
	Amount      *uint256.Int
	Seller      crypto.Address
	RiskScore   uint8
}

func (PoolLoanFunded) EventType() string { return TypePoolLoanFunded }

func (e PoolLoanFunded) Event() *types.Event {
	return &types.Event{
		Type: TypePoolLoanFunded,
		Attributes: map[string]string{
			"loanId":      strconv.FormatUint(e.LoanID, 10),
			"fingerprint": hex.EncodeToString(e.Fingerprint[:]),
			"amount":      formatAmount(e.Amount),
			"seller":      e.Seller.String(),
			"riskScore":   strconv.FormatUint(uint64(e.RiskScore), 10),
		},
	}
}

// PoolLoanRepaid records a loan closing with realized yield.
type PoolLoanRepaid struct {
	LoanID      uint64
	Fingerprint [32]byte
	Principal   *uint256.Int
	Yield       *uint256.Int
}

func (PoolLoanRepaid) EventType() string { return TypePoolLoanRepaid }

func (e PoolLoanRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypePoolLoanRepaid,
		Attributes: map[string]string{
			"loanId":      strconv.FormatUint(e.LoanID, 10),
			"fingerprint": hex.EncodeToString(e.Fingerprint[:]),
			"principal":   formatAmount(e.Principal),
			"yield":       formatAmount(e.Yield),
		},
	}
}

// PoolLoanBurned records archival removal of a repaid loan, releasing its
// document fingerprint.
type PoolLoanBurned struct {
	LoanID      uint64
	Fingerprint [32]byte
}

func (PoolLoanBurned) EventType() string { return TypePoolLoanBurned }

func (e PoolLoanBurned) Event() *types.Event {
	return &types.Event{
		Type: TypePoolLoanBurned,
		Attributes: map[string]string{
			"loanId":      strconv.FormatUint(e.LoanID, 10),
			"fingerprint": hex.EncodeToString(e.Fingerprint[:]),
		},
	}
}

// PoolFeesWithdrawn records accrued protocol fees leaving the pool.
type PoolFeesWithdrawn struct {
	Recipient crypto.Address
	Amount    *uint256.Int
}

func (PoolFeesWithdrawn) EventType() string { return TypePoolFeesWithdrawn }

func (e PoolFeesWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypePoolFeesWithdrawn,
		Attributes: map[string]string{
			"recipient": e.Recipient.String(),
			"amount":    formatAmount(e.Amount),
		},
	}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
