package pool

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	repoCrypto "factorpool/crypto"
)

// AuthorizationDomainV1 tags the first version of the funding authorization
// payload. Any change to the field set or encoding bumps the domain.
const AuthorizationDomainV1 = "FACTORPOOL_FUND_V1"

// signatureLength is the raw [R || S || V] secp256k1 signature size.
const signatureLength = 65

// FundingAuthorization is the exact tuple covered by the oracle signature.
// Field order and encoding are fixed and versioned; any field change
// invalidates the signature.
type FundingAuthorization struct {
	Domain              string
	PoolID              string
	DocumentFingerprint [32]byte
	Amount              *uint256.Int
	DueDate             int64
	Seller              repoCrypto.Address
	RiskScore           uint8
	ExpectedYieldBps    uint64
	Nonce               [32]byte
}

type authorizationJSON struct {
	Domain           string `json:"domain"`
	PoolID           string `json:"poolId"`
	Fingerprint      string `json:"documentFingerprint"`
	Amount           string `json:"amount"`
	DueDate          int64  `json:"dueDate"`
	Seller           string `json:"seller"`
	RiskScore        uint8  `json:"riskScore"`
	ExpectedYieldBps uint64 `json:"expectedYieldBps"`
	Nonce            string `json:"nonce"`
}

// MarshalJSON encodes the authorization into the representation exchanged
// with the signing oracle.
func (a FundingAuthorization) MarshalJSON() ([]byte, error) {
	amountStr := "0"
	if a.Amount != nil {
		amountStr = a.Amount.Dec()
	}
	seller := ""
	if !a.Seller.IsZero() {
		seller = a.Seller.String()
	}
	payload := authorizationJSON{
		Domain:           strings.TrimSpace(a.Domain),
		PoolID:           strings.TrimSpace(a.PoolID),
		Fingerprint:      hex.EncodeToString(a.DocumentFingerprint[:]),
		Amount:           amountStr,
		DueDate:          a.DueDate,
		Seller:           seller,
		RiskScore:        a.RiskScore,
		ExpectedYieldBps: a.ExpectedYieldBps,
		Nonce:            hex.EncodeToString(a.Nonce[:]),
	}
	return json.Marshal(payload)
}

// UnmarshalJSON decodes the on-wire representation into the canonical struct.
func (a *FundingAuthorization) UnmarshalJSON(data []byte) error {
	if a == nil {
		return fmt.Errorf("authorization: nil receiver")
	}
	var payload authorizationJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	domain := strings.TrimSpace(payload.Domain)
	if domain == "" {
		return fmt.Errorf("authorization: domain required")
	}
	poolID := strings.TrimSpace(payload.PoolID)
	if poolID == "" {
		return fmt.Errorf("authorization: poolId required")
	}
	fingerprint, err := decodeHash32(payload.Fingerprint)
	if err != nil {
		return fmt.Errorf("authorization: documentFingerprint: %w", err)
	}
	amountStr := strings.TrimSpace(payload.Amount)
	if amountStr == "" {
		return fmt.Errorf("authorization: amount required")
	}
	amount, err := uint256.FromDecimal(amountStr)
	if err != nil {
		return fmt.Errorf("authorization: invalid amount %q: %w", payload.Amount, err)
	}
	if amount.IsZero() {
		return fmt.Errorf("authorization: amount must be positive")
	}
	sellerStr := strings.TrimSpace(payload.Seller)
	if sellerStr == "" {
		return fmt.Errorf("authorization: seller required")
	}
	seller, err := repoCrypto.DecodeAddress(sellerStr)
	if err != nil {
		return fmt.Errorf("authorization: seller: %w", err)
	}
	nonce, err := decodeHash32(payload.Nonce)
	if err != nil {
		return fmt.Errorf("authorization: nonce: %w", err)
	}
	*a = FundingAuthorization{
		Domain:              domain,
		PoolID:              poolID,
		DocumentFingerprint: fingerprint,
		Amount:              amount,
		DueDate:             payload.DueDate,
		Seller:              seller,
		RiskScore:           payload.RiskScore,
		ExpectedYieldBps:    payload.ExpectedYieldBps,
		Nonce:               nonce,
	}
	return nil
}

func decodeHash32(raw string) ([32]byte, error) {
	var out [32]byte
	normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	if normalized == "" {
		return out, fmt.Errorf("value required")
	}
	decoded, err := hex.DecodeString(normalized)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// Hash reconstructs the canonical message digest signed by the oracle.
func (a FundingAuthorization) Hash() []byte {
	amountStr := "0"
	if a.Amount != nil {
		amountStr = a.Amount.Dec()
	}
	payload := fmt.Sprintf("%s|pool=%s|doc=%s|amount=%s|due=%d|seller=%s|risk=%d|yield=%d|nonce=%s",
		strings.TrimSpace(a.Domain),
		strings.TrimSpace(a.PoolID),
		hex.EncodeToString(a.DocumentFingerprint[:]),
		amountStr,
		a.DueDate,
		hex.EncodeToString(a.Seller.Bytes()),
		a.RiskScore,
		a.ExpectedYieldBps,
		hex.EncodeToString(a.Nonce[:]),
	)
	return ethcrypto.Keccak256([]byte(payload))
}

// Sign produces the detached oracle signature over the canonical digest.
func (a FundingAuthorization) Sign(key *repoCrypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("authorization: nil signing key")
	}
	return ethcrypto.Sign(a.Hash(), key.PrivateKey)
}

// Verifier recovers the signer identity from a digest and detached
// signature. It is pluggable so the engine is testable without real
// elliptic-curve infrastructure.
type Verifier interface {
	RecoverSigner(digest []byte, signature []byte) ([20]byte, error)
}

// Secp256k1Verifier is the production Verifier backed by secp256k1 public
// key recovery.
type Secp256k1Verifier struct{}

// RecoverSigner implements Verifier.
func (Secp256k1Verifier) RecoverSigner(digest []byte, signature []byte) ([20]byte, error) {
	var out [20]byte
	if len(signature) != signatureLength {
		return out, fmt.Errorf("signature must be %d bytes, got %d", signatureLength, len(signature))
	}
	pubKey, err := ethcrypto.SigToPub(digest, signature)
	if err != nil {
		return out, err
	}
	copy(out[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return out, nil
}
