package pool

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"factorpool/core/events"
	"factorpool/crypto"
)

// FundLoan validates a signed funding authorization and, when every check
// passes, opens an Active loan and pays the principal out to the seller.
//
// The nonce is consumed before signature verification and is never rolled
// back, even when a later step fails in the same call. That is the one
// intentional exception to all-or-nothing semantics: a non-rolled-back nonce
// is the only way to guarantee true single-use under automatic retries.
func (e *Engine) FundLoan(auth *FundingAuthorization, signature []byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowFund)
	if err != nil {
		return 0, err
	}
	if err := e.validateAuthorization(auth); err != nil {
		return 0, err
	}
	if e.custodian == nil {
		return 0, ErrNilCustodian
	}

	consumed, err := e.state.NonceConsumed(auth.Nonce)
	if err != nil {
		return 0, err
	}
	if consumed {
		return 0, ErrNonceReused
	}
	// Consumed immediately and deliberately not rolled back on any later
	// failure in this call.
	if err := e.state.NonceConsume(auth.Nonce); err != nil {
		return 0, err
	}

	signer, err := e.verifier.RecoverSigner(auth.Hash(), signature)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != e.oracle {
		return 0, ErrInvalidSignature
	}

	if e.registry != nil && !e.registry.IsAuthorizedBorrower(auth.Seller) {
		return 0, ErrBorrowerNotAuthorized
	}

	now := e.now()
	if auth.DueDate <= now {
		return 0, ErrInvoiceExpired
	}

	total, ok := state.totalAssets()
	if !ok {
		e.haltErr = ErrIntegrity
		return 0, fmt.Errorf("%w: total assets negative", ErrIntegrity)
	}
	maxLoanable := bpsShare(total, state.MaxUtilizationBps)
	projected := new(uint256.Int).Add(state.TotalActiveLoans, auth.Amount)
	if projected.Cmp(maxLoanable) > 0 {
		return 0, ErrExceedsMaxUtilization
	}
	if auth.Amount.Cmp(state.availableLiquidity()) > 0 {
		return 0, ErrInsufficientLiquidity
	}

	if _, financed, err := e.state.LoanIDByFingerprint(auth.DocumentFingerprint); err != nil {
		return 0, err
	} else if financed {
		return 0, ErrDocumentAlreadyFinanced
	}

	// Principal moves to the seller through the custodian, not inside the
	// pool.
	if err := e.custodian.TransferOut(auth.Seller, auth.Amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	loanID, err := e.state.NextLoanID()
	if err != nil {
		return 0, err
	}
	loan := &Loan{
		ID:                  loanID,
		Principal:           new(uint256.Int).Set(auth.Amount),
		ExpectedYieldBps:    auth.ExpectedYieldBps,
		RiskScore:           auth.RiskScore,
		Seller:              auth.Seller,
		DocumentFingerprint: auth.DocumentFingerprint,
		FundedAt:            now,
		DueDate:             auth.DueDate,
		Status:              LoanStatusActive,
	}

	state.TotalActiveLoans = projected
	state.IdleAssets = new(uint256.Int).Sub(state.IdleAssets, auth.Amount)

	if err := e.checkIntegrity(state); err != nil {
		return 0, err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return 0, err
	}
	if err := e.state.FingerprintPut(auth.DocumentFingerprint, loanID); err != nil {
		return 0, err
	}
	if err := e.state.PoolPut(state); err != nil {
		return 0, err
	}

	e.emit(events.PoolLoanFunded{
		LoanID:      loanID,
		Fingerprint: auth.DocumentFingerprint,
		Amount:      new(uint256.Int).Set(auth.Amount),
		Seller:      auth.Seller,
		RiskScore:   auth.RiskScore,
	})
	return loanID, nil
}

// validateAuthorization rejects malformed requests before the nonce is
// consumed, so a shape error never burns a nonce.
func (e *Engine) validateAuthorization(auth *FundingAuthorization) error {
	if auth == nil {
		return fmt.Errorf("%w: authorization required", ErrInvalidAmount)
	}
	if err := validateAmount(auth.Amount); err != nil {
		return err
	}
	if auth.Seller.IsZero() {
		return ErrZeroAddress
	}
	if auth.DocumentFingerprint == ([32]byte{}) {
		return fmt.Errorf("%w: document fingerprint required", ErrInvalidAmount)
	}
	if auth.Nonce == ([32]byte{}) {
		return fmt.Errorf("%w: nonce required", ErrInvalidAmount)
	}
	if !strings.EqualFold(strings.TrimSpace(auth.Domain), AuthorizationDomainV1) {
		return ErrInvalidSignature
	}
	if strings.TrimSpace(auth.PoolID) != e.poolID {
		return ErrPoolMismatch
	}
	expectedBps, err := YieldBpsForScore(auth.RiskScore)
	if err != nil {
		return err
	}
	if auth.ExpectedYieldBps != expectedBps {
		return ErrYieldMismatch
	}
	return nil
}

// DepositRepayment pulls repayment funds (principal plus realized yield)
// into pool idle assets. Funds movement is an explicit step separate from
// RepayLoan bookkeeping so both sides can be audited independently.
func (e *Engine) DepositRepayment(from crypto.Address, amount *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowRepay)
	if err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if from.IsZero() {
		return ErrZeroAddress
	}
	if e.custodian == nil {
		return ErrNilCustodian
	}

	if err := e.custodian.TransferIn(from, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	state.IdleAssets = new(uint256.Int).Add(state.IdleAssets, amount)

	if err := e.checkIntegrity(state); err != nil {
		return err
	}
	return e.state.PoolPut(state)
}

// RepayLoan closes an Active loan. The repayment funds must already sit in
// idle assets via DepositRepayment; this method only rebooks them: the
// protocol fee is carved out of the realized yield and the remainder raises
// the share price for every liquidity provider proportionally.
func (e *Engine) RepayLoan(loanID uint64, actualYield *uint256.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.beginMutation(flowRepay)
	if err != nil {
		return err
	}
	if actualYield == nil {
		actualYield = uint256.NewInt(0)
	}

	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.Status != LoanStatusActive {
		return ErrLoanNotActive
	}
	if state.TotalActiveLoans.Cmp(loan.Principal) < 0 {
		e.haltErr = ErrIntegrity
		return fmt.Errorf("%w: active principal below loan principal", ErrIntegrity)
	}

	fee := bpsShare(actualYield, state.ProtocolFeeBps)
	newFees := new(uint256.Int).Add(state.AccumulatedFees, fee)
	// Fees stay inside idle assets; if they would exceed the idle balance
	// the repayment deposit step was skipped.
	if newFees.Cmp(state.IdleAssets) > 0 {
		return ErrInsufficientLiquidity
	}

	loan.Status = LoanStatusRepaid
	state.TotalActiveLoans = new(uint256.Int).Sub(state.TotalActiveLoans, loan.Principal)
	state.AccumulatedFees = newFees

	if err := e.checkIntegrity(state); err != nil {
		return err
	}
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	if err := e.state.PoolPut(state); err != nil {
		return err
	}

	e.emit(events.PoolLoanRepaid{
		LoanID:      loan.ID,
		Fingerprint: loan.DocumentFingerprint,
		Principal:   new(uint256.Int).Set(loan.Principal),
		Yield:       new(uint256.Int).Set(actualYield),
	})
	return nil
}

// BurnLoan archives a repaid loan and releases its document fingerprint so
// the same document may be financed again. Pure archival; no monetary
// effect.
func (e *Engine) BurnLoan(loanID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.beginMutation(flowRepay); err != nil {
		return err
	}

	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.Status != LoanStatusRepaid {
		return ErrLoanNotRepaid
	}

	loan.Status = LoanStatusBurned
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	if err := e.state.FingerprintDelete(loan.DocumentFingerprint); err != nil {
		return err
	}

	e.emit(events.PoolLoanBurned{LoanID: loan.ID, Fingerprint: loan.DocumentFingerprint})
	return nil
}

// GetLoan returns the loan record for the identifier.
func (e *Engine) GetLoan(loanID uint64) (*Loan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LoanGet(loanID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// GetLoanByFingerprint resolves the loan currently holding the fingerprint,
// if any.
func (e *Engine) GetLoanByFingerprint(fp [32]byte) (*Loan, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return nil, false, ErrNilState
	}
	id, ok, err := e.state.LoanIDByFingerprint(fp)
	if err != nil || !ok {
		return nil, false, err
	}
	loan, ok, err := e.state.LoanGet(id)
	if err != nil || !ok {
		return nil, false, err
	}
	return loan, true, nil
}

// IsDocumentFinanced reports whether the fingerprint is held by a loan that
// has not been burned. This, not the nonce ledger, is what prevents
// financing the same underlying document twice concurrently.
func (e *Engine) IsDocumentFinanced(fp [32]byte) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return false, ErrNilState
	}
	_, ok, err := e.state.LoanIDByFingerprint(fp)
	return ok, err
}
