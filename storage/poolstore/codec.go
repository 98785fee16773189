package poolstore

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"factorpool/crypto"
	"factorpool/native/pool"
)

type poolStateRecord struct {
	TotalShares       string `json:"totalShares"`
	IdleAssets        string `json:"idleAssets"`
	TotalActiveLoans  string `json:"totalActiveLoans"`
	AccumulatedFees   string `json:"accumulatedFees"`
	MaxUtilizationBps uint64 `json:"maxUtilizationBps"`
	ProtocolFeeBps    uint64 `json:"protocolFeeBps"`
}

type loanRecord struct {
	ID               uint64 `json:"id"`
	Principal        string `json:"principal"`
	ExpectedYieldBps uint64 `json:"expectedYieldBps"`
	RiskScore        uint8  `json:"riskScore"`
	Seller           string `json:"seller"`
	Fingerprint      string `json:"documentFingerprint"`
	FundedAt         int64  `json:"fundedAt"`
	DueDate          int64  `json:"dueDate"`
	Status           uint8  `json:"status"`
}

type positionRecord struct {
	Address        string `json:"address"`
	Shares         string `json:"shares"`
	TotalDeposited string `json:"totalDeposited"`
	TotalWithdrawn string `json:"totalWithdrawn"`
}

func encodeAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func decodeAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return uint256.NewInt(0), nil
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("poolstore: corrupt %s %q: %w", field, raw, err)
	}
	return value, nil
}

func encodePoolState(p *pool.PoolState) ([]byte, error) {
	return json.Marshal(poolStateRecord{
		TotalShares:       encodeAmount(p.TotalShares),
		IdleAssets:        encodeAmount(p.IdleAssets),
		TotalActiveLoans:  encodeAmount(p.TotalActiveLoans),
		AccumulatedFees:   encodeAmount(p.AccumulatedFees),
		MaxUtilizationBps: p.MaxUtilizationBps,
		ProtocolFeeBps:    p.ProtocolFeeBps,
	})
}

func decodePoolState(raw []byte) (*pool.PoolState, error) {
	var record poolStateRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("poolstore: corrupt pool state: %w", err)
	}
	shares, err := decodeAmount("totalShares", record.TotalShares)
	if err != nil {
		return nil, err
	}
	idle, err := decodeAmount("idleAssets", record.IdleAssets)
	if err != nil {
		return nil, err
	}
	active, err := decodeAmount("totalActiveLoans", record.TotalActiveLoans)
	if err != nil {
		return nil, err
	}
	fees, err := decodeAmount("accumulatedFees", record.AccumulatedFees)
	if err != nil {
		return nil, err
	}
	return &pool.PoolState{
		TotalShares:       shares,
		IdleAssets:        idle,
		TotalActiveLoans:  active,
		AccumulatedFees:   fees,
		MaxUtilizationBps: record.MaxUtilizationBps,
		ProtocolFeeBps:    record.ProtocolFeeBps,
	}, nil
}

func encodeLoan(l *pool.Loan) ([]byte, error) {
	seller := ""
	if !l.Seller.IsZero() {
		seller = l.Seller.String()
	}
	return json.Marshal(loanRecord{
		ID:               l.ID,
		Principal:        encodeAmount(l.Principal),
		ExpectedYieldBps: l.ExpectedYieldBps,
		RiskScore:        l.RiskScore,
		Seller:           seller,
		Fingerprint:      hex.EncodeToString(l.DocumentFingerprint[:]),
		FundedAt:         l.FundedAt,
		DueDate:          l.DueDate,
		Status:           uint8(l.Status),
	})
}

func decodeLoan(raw []byte) (*pool.Loan, error) {
	var record loanRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("poolstore: corrupt loan: %w", err)
	}
	principal, err := decodeAmount("principal", record.Principal)
	if err != nil {
		return nil, err
	}
	var seller crypto.Address
	if strings.TrimSpace(record.Seller) != "" {
		seller, err = crypto.DecodeAddress(record.Seller)
		if err != nil {
			return nil, fmt.Errorf("poolstore: corrupt loan seller: %w", err)
		}
	}
	fingerprint, err := decodeFingerprint(record.Fingerprint)
	if err != nil {
		return nil, err
	}
	return &pool.Loan{
		ID:                  record.ID,
		Principal:           principal,
		ExpectedYieldBps:    record.ExpectedYieldBps,
		RiskScore:           record.RiskScore,
		Seller:              seller,
		DocumentFingerprint: fingerprint,
		FundedAt:            record.FundedAt,
		DueDate:             record.DueDate,
		Status:              pool.LoanStatus(record.Status),
	}, nil
}

func decodeFingerprint(raw string) ([32]byte, error) {
	var out [32]byte
	decoded, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return out, fmt.Errorf("poolstore: corrupt fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("poolstore: fingerprint must be 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

func encodePosition(p *pool.Position) ([]byte, error) {
	if p.Address.IsZero() {
		return nil, fmt.Errorf("poolstore: position requires an address")
	}
	return json.Marshal(positionRecord{
		Address:        p.Address.String(),
		Shares:         encodeAmount(p.Shares),
		TotalDeposited: encodeAmount(p.TotalDeposited),
		TotalWithdrawn: encodeAmount(p.TotalWithdrawn),
	})
}

func decodePosition(raw []byte) (*pool.Position, error) {
	var record positionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("poolstore: corrupt position: %w", err)
	}
	addr, err := crypto.DecodeAddress(record.Address)
	if err != nil {
		return nil, fmt.Errorf("poolstore: corrupt position address: %w", err)
	}
	shares, err := decodeAmount("shares", record.Shares)
	if err != nil {
		return nil, err
	}
	deposited, err := decodeAmount("totalDeposited", record.TotalDeposited)
	if err != nil {
		return nil, err
	}
	withdrawn, err := decodeAmount("totalWithdrawn", record.TotalWithdrawn)
	if err != nil {
		return nil, err
	}
	return &pool.Position{
		Address:        addr,
		Shares:         shares,
		TotalDeposited: deposited,
		TotalWithdrawn: withdrawn,
	}, nil
}
