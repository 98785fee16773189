package pool

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestFundLoanHappyPath(t *testing.T) {
	engine, state, custodian := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	auth := testAuthorization(t, 1, uint256.NewInt(400_000), 25)
	loanID, err := engine.FundLoan(auth, []byte("sig"))
	if err != nil {
		t.Fatalf("fund loan: %v", err)
	}

	loan, err := engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusActive {
		t.Fatalf("expected active loan, got %s", loan.Status)
	}
	if loan.ExpectedYieldBps != 400 {
		t.Fatalf("expected 400 bps for risk 25 (rating A), got %d", loan.ExpectedYieldBps)
	}

	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if pool.TotalActiveLoans.Cmp(uint256.NewInt(400_000)) != 0 {
		t.Fatalf("expected active loans 400000, got %s", pool.TotalActiveLoans.Dec())
	}
	if pool.IdleAssets.Cmp(uint256.NewInt(600_000)) != 0 {
		t.Fatalf("expected idle 600000, got %s", pool.IdleAssets.Dec())
	}

	last := custodian.out[len(custodian.out)-1]
	if last.amount.Cmp(uint256.NewInt(400_000)) != 0 {
		t.Fatalf("expected principal 400000 paid to seller, got %s", last.amount.Dec())
	}

	financed, err := engine.IsDocumentFinanced(auth.DocumentFingerprint)
	if err != nil {
		t.Fatalf("is financed: %v", err)
	}
	if !financed {
		t.Fatalf("expected fingerprint marked financed")
	}
}

func TestFundLoanRejectsDuplicateFingerprint(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	first := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	if _, err := engine.FundLoan(first, []byte("sig")); err != nil {
		t.Fatalf("first fund: %v", err)
	}

	// Same fingerprint, fresh nonce.
	second := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	second.Nonce[16] = 0x99
	if _, err := engine.FundLoan(second, []byte("sig")); !errors.Is(err, ErrDocumentAlreadyFinanced) {
		t.Fatalf("expected ErrDocumentAlreadyFinanced, got %v", err)
	}
}

func TestNonceSingleUseEvenAfterFailedCall(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// First attempt fails after nonce consumption: the signature does not
	// recover to the trusted oracle.
	engine.SetVerifier(fakeVerifier{signer: [20]byte{0xDE, 0xAD}})
	auth := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	if _, err := engine.FundLoan(auth, []byte("sig")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	// Retry with a now-valid signature and the same nonce must fail, even
	// with other fields changed.
	engine.SetVerifier(fakeVerifier{signer: testOracle})
	retry := testAuthorization(t, 2, uint256.NewInt(100_000), 25)
	retry.Nonce = auth.Nonce
	if _, err := engine.FundLoan(retry, []byte("sig")); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected ErrNonceReused, got %v", err)
	}
}

func TestFundLoanValidationDoesNotBurnNonce(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	bad := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	bad.ExpectedYieldBps = 9_999
	if _, err := engine.FundLoan(bad, []byte("sig")); !errors.Is(err, ErrYieldMismatch) {
		t.Fatalf("expected ErrYieldMismatch, got %v", err)
	}

	// The malformed request must not have consumed the nonce.
	good := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	if _, err := engine.FundLoan(good, []byte("sig")); err != nil {
		t.Fatalf("expected fund to succeed after validation failure, got %v", err)
	}
}

func TestFundLoanChecks(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	expired := testAuthorization(t, 1, uint256.NewInt(200_000), 25)
	expired.DueDate = 1_700_000_000
	if _, err := engine.FundLoan(expired, []byte("sig")); !errors.Is(err, ErrInvoiceExpired) {
		t.Fatalf("expected ErrInvoiceExpired, got %v", err)
	}

	wrongPool := testAuthorization(t, 2, uint256.NewInt(200_000), 25)
	wrongPool.PoolID = "other"
	if _, err := engine.FundLoan(wrongPool, []byte("sig")); !errors.Is(err, ErrPoolMismatch) {
		t.Fatalf("expected ErrPoolMismatch, got %v", err)
	}

	badScore := testAuthorization(t, 3, uint256.NewInt(200_000), 25)
	badScore.RiskScore = 150
	if _, err := engine.FundLoan(badScore, []byte("sig")); !errors.Is(err, ErrInvalidRiskScore) {
		t.Fatalf("expected ErrInvalidRiskScore, got %v", err)
	}

	engine.SetRegistry(denyRegistry{})
	denied := testAuthorization(t, 4, uint256.NewInt(200_000), 25)
	if _, err := engine.FundLoan(denied, []byte("sig")); !errors.Is(err, ErrBorrowerNotAuthorized) {
		t.Fatalf("expected ErrBorrowerNotAuthorized, got %v", err)
	}
	engine.SetRegistry(nil)
}

func TestFundLoanUtilizationCap(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Cap is 90% of 1000000 = 900000.
	over := testAuthorization(t, 1, uint256.NewInt(950_000), 25)
	if _, err := engine.FundLoan(over, []byte("sig")); !errors.Is(err, ErrExceedsMaxUtilization) {
		t.Fatalf("expected ErrExceedsMaxUtilization, got %v", err)
	}

	// The cap binds at every step, not just in aggregate.
	first := testAuthorization(t, 2, uint256.NewInt(600_000), 25)
	if _, err := engine.FundLoan(first, []byte("sig")); err != nil {
		t.Fatalf("first fund: %v", err)
	}
	second := testAuthorization(t, 3, uint256.NewInt(350_000), 25)
	if _, err := engine.FundLoan(second, []byte("sig")); !errors.Is(err, ErrExceedsMaxUtilization) {
		t.Fatalf("expected ErrExceedsMaxUtilization on second fund, got %v", err)
	}
	third := testAuthorization(t, 4, uint256.NewInt(300_000), 25)
	if _, err := engine.FundLoan(third, []byte("sig")); err != nil {
		t.Fatalf("third fund within cap: %v", err)
	}
}

func TestRepayLoanAccounting(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)

	if err := engine.RepayLoan(99, uint256.NewInt(1)); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}

	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(416_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(16_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if !pool.TotalActiveLoans.IsZero() {
		t.Fatalf("expected no active loans, got %s", pool.TotalActiveLoans.Dec())
	}
	if pool.AccumulatedFees.Cmp(uint256.NewInt(1_600)) != 0 {
		t.Fatalf("expected fees 1600, got %s", pool.AccumulatedFees.Dec())
	}
	if pool.IdleAssets.Cmp(uint256.NewInt(1_016_000)) != 0 {
		t.Fatalf("expected idle 1016000, got %s", pool.IdleAssets.Dec())
	}

	loan, err := engine.GetLoan(loanID)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if loan.Status != LoanStatusRepaid {
		t.Fatalf("expected repaid, got %s", loan.Status)
	}

	if err := engine.RepayLoan(loanID, uint256.NewInt(1)); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive on double repay, got %v", err)
	}
}

func TestBurnLoanReleasesFingerprint(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(300_000), 25)

	if err := engine.BurnLoan(loanID); !errors.Is(err, ErrLoanNotRepaid) {
		t.Fatalf("expected ErrLoanNotRepaid for active loan, got %v", err)
	}

	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(312_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(12_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	// Repaid but unburned still blocks refinancing.
	blocked := testAuthorization(t, 1, uint256.NewInt(100_000), 25)
	blocked.Nonce[20] = 0x77
	if _, err := engine.FundLoan(blocked, []byte("sig")); !errors.Is(err, ErrDocumentAlreadyFinanced) {
		t.Fatalf("expected ErrDocumentAlreadyFinanced before burn, got %v", err)
	}

	if err := engine.BurnLoan(loanID); err != nil {
		t.Fatalf("burn: %v", err)
	}
	financed, err := engine.IsDocumentFinanced(blocked.DocumentFingerprint)
	if err != nil {
		t.Fatalf("is financed: %v", err)
	}
	if financed {
		t.Fatalf("expected fingerprint released after burn")
	}

	// Deliberate re-financing allowance: the same document may be funded
	// again once the previous loan is burned.
	refinance := testAuthorization(t, 1, uint256.NewInt(100_000), 25)
	refinance.Nonce[20] = 0x78
	if _, err := engine.FundLoan(refinance, []byte("sig")); err != nil {
		t.Fatalf("refinance after burn: %v", err)
	}

	if err := engine.BurnLoan(loanID); !errors.Is(err, ErrLoanNotRepaid) {
		t.Fatalf("expected ErrLoanNotRepaid on double burn, got %v", err)
	}
}

func TestGetLoanByFingerprint(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	auth := testAuthorization(t, 1, uint256.NewInt(300_000), 25)
	loanID, err := engine.FundLoan(auth, []byte("sig"))
	if err != nil {
		t.Fatalf("fund: %v", err)
	}

	loan, ok, err := engine.GetLoanByFingerprint(auth.DocumentFingerprint)
	if err != nil {
		t.Fatalf("get by fingerprint: %v", err)
	}
	if !ok || loan.ID != loanID {
		t.Fatalf("expected loan %d, got ok=%v loan=%+v", loanID, ok, loan)
	}

	var unknown [32]byte
	unknown[0] = 0xEE
	if _, ok, err := engine.GetLoanByFingerprint(unknown); err != nil || ok {
		t.Fatalf("expected no loan for unknown fingerprint, ok=%v err=%v", ok, err)
	}
}

func TestRepayLoanRequiresBackingDeposit(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(100_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(90_000), 25)

	// Drain the remaining idle so the protocol fee has nothing to live in.
	if _, err := engine.Withdraw(lp, lp, lp, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if err := engine.RepayLoan(loanID, uint256.NewInt(10_000)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity without repayment deposit, got %v", err)
	}

	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(100_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("repay after deposit: %v", err)
	}
}
