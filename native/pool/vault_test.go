package pool

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"factorpool/crypto"
)

func TestDepositOnEmptyPoolMintsOneToOne(t *testing.T) {
	engine, state, custodian := newTestEngine(t)
	lp := makeAddress(0x01)

	shares, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Cmp(uint256.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected 1000000 shares on empty pool, got %s", shares.Dec())
	}

	total, err := engine.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(uint256.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected total assets 1000000, got %s", total.Dec())
	}

	pos, ok, err := state.PositionGet(lp)
	if err != nil || !ok {
		t.Fatalf("position get: ok=%v err=%v", ok, err)
	}
	if pos.Shares.Cmp(uint256.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected position shares 1000000, got %s", pos.Shares.Dec())
	}
	if len(custodian.in) != 1 || custodian.in[0].amount.Cmp(uint256.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected one transfer-in of 1000000, got %+v", custodian.in)
	}
}

func TestDepositValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)

	if _, err := engine.Deposit(lp, lp, uint256.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Deposit(lp, crypto.Address{}, uint256.NewInt(10)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
}

func TestDepositTransferFailureLeavesStateUntouched(t *testing.T) {
	engine, state, custodian := newTestEngine(t)
	custodian.failIn = errors.New("allowance exhausted")
	lp := makeAddress(0x01)

	if _, err := engine.Deposit(lp, lp, uint256.NewInt(500)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if !pool.IdleAssets.IsZero() || !pool.TotalShares.IsZero() {
		t.Fatalf("expected pool untouched, got idle=%s shares=%s", pool.IdleAssets.Dec(), pool.TotalShares.Dec())
	}
}

func TestMintChargesRoundedUpAssets(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)

	// Seed a 3-shares / 10-assets pool so the price is fractional.
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(3)); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	if err := engine.DepositRepayment(lp, uint256.NewInt(7)); err != nil {
		t.Fatalf("seed yield: %v", err)
	}

	assets, err := engine.Mint(lp, lp, uint256.NewInt(1))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if assets.Cmp(uint256.NewInt(4)) != 0 {
		t.Fatalf("minting 1 share cost %s assets, want 4 (rounded up)", assets.Dec())
	}
}

func TestWithdrawRespectsIdleLiquidity(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)

	// Only 600000 is idle; the rest is lent out.
	if _, err := engine.Withdraw(lp, lp, lp, uint256.NewInt(700_000)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	shares, err := engine.Withdraw(lp, lp, lp, uint256.NewInt(600_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if shares.Cmp(uint256.NewInt(600_000)) != 0 {
		t.Fatalf("expected 600000 shares burned, got %s", shares.Dec())
	}
}

func TestWithdrawNeverDipsBelowAccruedFees(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)
	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(416_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(16_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	// Idle is 1016000 with 1600 accrued fees; at most 1014400 may leave.
	if _, err := engine.Withdraw(lp, lp, lp, uint256.NewInt(1_015_000)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if _, err := engine.Withdraw(lp, lp, lp, uint256.NewInt(1_014_400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if pool.IdleAssets.Cmp(pool.AccumulatedFees) < 0 {
		t.Fatalf("idle %s dipped below fees %s", pool.IdleAssets.Dec(), pool.AccumulatedFees.Dec())
	}
}

func TestRedeemAllAfterYieldLeavesOnlyFees(t *testing.T) {
	engine, state, custodian := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)
	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(416_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(16_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	assets, err := engine.Redeem(lp, lp, lp, uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	// 1016000 idle - 1600 fees: the full LP entitlement.
	if assets.Cmp(uint256.NewInt(1_014_400)) != 0 {
		t.Fatalf("expected 1014400 assets out, got %s", assets.Dec())
	}

	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if pool.IdleAssets.Cmp(pool.AccumulatedFees) != 0 {
		t.Fatalf("expected idle %s to equal fees %s", pool.IdleAssets.Dec(), pool.AccumulatedFees.Dec())
	}
	if !pool.TotalShares.IsZero() {
		t.Fatalf("expected all shares burned, got %s", pool.TotalShares.Dec())
	}
	last := custodian.out[len(custodian.out)-1]
	if last.amount.Cmp(uint256.NewInt(1_014_400)) != 0 {
		t.Fatalf("expected transfer-out 1014400, got %s", last.amount.Dec())
	}
}

func TestSharePriceConstantWithoutYield(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	other := makeAddress(0x02)

	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before, err := engine.ConvertToAssets(uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := engine.Deposit(other, other, uint256.NewInt(333_333)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if _, err := engine.Withdraw(other, other, other, uint256.NewInt(100_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	after, err := engine.ConvertToAssets(uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if before.Cmp(after) != 0 {
		t.Fatalf("share price moved without yield: %s -> %s", before.Dec(), after.Dec())
	}
}

func TestSharePriceIncreasesAfterYield(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	before, err := engine.ConvertToAssets(uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)
	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(416_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(16_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	after, err := engine.ConvertToAssets(uint256.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if after.Cmp(before) <= 0 {
		t.Fatalf("share price did not increase after yield: %s -> %s", before.Dec(), after.Dec())
	}
	// 1016000 idle - 1600 fee = 1014400 backing 1000000 shares.
	if after.Cmp(uint256.NewInt(1_014_400)) != 0 {
		t.Fatalf("expected 1014400 per 1000000 shares, got %s", after.Dec())
	}
}

func TestWithdrawOnBehalfRequiresAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := makeAddress(0x01)
	operator := makeAddress(0x02)
	if _, err := engine.Deposit(owner, owner, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := engine.Withdraw(operator, operator, owner, uint256.NewInt(10_000)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := engine.Approve(owner, operator, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Withdraw(operator, operator, owner, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("withdraw on behalf: %v", err)
	}
	remaining, err := engine.Allowance(owner, operator)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !remaining.IsZero() {
		t.Fatalf("expected allowance spent to zero, got %s", remaining.Dec())
	}
	if _, err := engine.Withdraw(operator, operator, owner, uint256.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance after spend, got %v", err)
	}
}

func TestUnlimitedAllowanceIsNotDecremented(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := makeAddress(0x01)
	operator := makeAddress(0x02)
	if _, err := engine.Deposit(owner, owner, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Approve(owner, operator, UnlimitedAllowance); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Withdraw(operator, operator, owner, uint256.NewInt(250_000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	remaining, err := engine.Allowance(owner, operator)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !remaining.Eq(UnlimitedAllowance) {
		t.Fatalf("expected unlimited allowance preserved, got %s", remaining.Dec())
	}
}

func TestMaxWithdrawClampsToIdleLiquidity(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	lp := makeAddress(0x01)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)

	max, err := engine.MaxWithdraw(lp)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	if max.Cmp(uint256.NewInt(600_000)) != 0 {
		t.Fatalf("expected max withdraw 600000, got %s", max.Dec())
	}
	maxShares, err := engine.MaxRedeem(lp)
	if err != nil {
		t.Fatalf("max redeem: %v", err)
	}
	if maxShares.Cmp(uint256.NewInt(600_000)) != 0 {
		t.Fatalf("expected max redeem 600000, got %s", maxShares.Dec())
	}
}

func TestWithdrawProtocolFees(t *testing.T) {
	engine, state, custodian := newTestEngine(t)
	lp := makeAddress(0x01)
	treasury := makeAddress(0x0F)
	if _, err := engine.Deposit(lp, lp, uint256.NewInt(1_000_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	loanID := fundTestLoan(t, engine, 1, uint256.NewInt(400_000), 25)
	if err := engine.DepositRepayment(makeAddress(0xBB), uint256.NewInt(416_000)); err != nil {
		t.Fatalf("repayment deposit: %v", err)
	}
	if err := engine.RepayLoan(loanID, uint256.NewInt(16_000)); err != nil {
		t.Fatalf("repay: %v", err)
	}

	if err := engine.WithdrawProtocolFees(treasury, uint256.NewInt(2_000)); !errors.Is(err, ErrInsufficientFees) {
		t.Fatalf("expected ErrInsufficientFees, got %v", err)
	}
	if err := engine.WithdrawProtocolFees(treasury, uint256.NewInt(1_600)); err != nil {
		t.Fatalf("withdraw fees: %v", err)
	}
	pool, err := state.PoolGet()
	if err != nil {
		t.Fatalf("pool get: %v", err)
	}
	if !pool.AccumulatedFees.IsZero() {
		t.Fatalf("expected fees drained, got %s", pool.AccumulatedFees.Dec())
	}
	last := custodian.out[len(custodian.out)-1]
	if last.amount.Cmp(uint256.NewInt(1_600)) != 0 {
		t.Fatalf("expected fee transfer 1600, got %s", last.amount.Dec())
	}
	// Fee withdrawal removes fees and idle equally; total assets hold.
	total, err := engine.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(uint256.NewInt(1_014_400)) != 0 {
		t.Fatalf("expected total assets 1014400, got %s", total.Dec())
	}
}
