package pool

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivRounding(t *testing.T) {
	a := uint256.NewInt(10)
	b := uint256.NewInt(3)
	d := uint256.NewInt(4)

	if got := mulDivFloor(a, b, d); got.Cmp(uint256.NewInt(7)) != 0 {
		t.Fatalf("floor(10*3/4) = %s, want 7", got.Dec())
	}
	if got := mulDivCeil(a, b, d); got.Cmp(uint256.NewInt(8)) != 0 {
		t.Fatalf("ceil(10*3/4) = %s, want 8", got.Dec())
	}
	// Exact division rounds identically both ways.
	if got := mulDivCeil(uint256.NewInt(8), b, d); got.Cmp(uint256.NewInt(6)) != 0 {
		t.Fatalf("ceil(8*3/4) = %s, want 6", got.Dec())
	}
	if got := mulDivFloor(a, b, uint256.NewInt(0)); !got.IsZero() {
		t.Fatalf("zero divisor must yield zero, got %s", got.Dec())
	}
}

func TestEmptyPoolConvertsOneToOne(t *testing.T) {
	zero := uint256.NewInt(0)
	amount := uint256.NewInt(123_456)

	if got := convertToShares(amount, zero, zero); got.Cmp(amount) != 0 {
		t.Fatalf("empty pool shares = %s, want %s", got.Dec(), amount.Dec())
	}
	if got := convertToAssets(amount, zero, zero); got.Cmp(amount) != 0 {
		t.Fatalf("empty pool assets = %s, want %s", got.Dec(), amount.Dec())
	}
	if got := sharesForWithdraw(amount, zero, zero); got.Cmp(amount) != 0 {
		t.Fatalf("empty pool withdraw shares = %s, want %s", got.Dec(), amount.Dec())
	}
	if got := assetsForMint(amount, zero, zero); got.Cmp(amount) != 0 {
		t.Fatalf("empty pool mint assets = %s, want %s", got.Dec(), amount.Dec())
	}
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	totalShares := uint256.NewInt(1_000_000)
	totalAssets := uint256.NewInt(1_016_000)

	for _, amount := range []uint64{1, 3, 999, 12_345, 500_000, 1_015_999} {
		assets := uint256.NewInt(amount)
		shares := convertToShares(assets, totalShares, totalAssets)
		back := convertToAssets(shares, totalShares, totalAssets)
		if back.Cmp(assets) > 0 {
			t.Fatalf("round trip of %d produced %s, value created", amount, back.Dec())
		}
	}
}

func TestPayoutRoundingFavorsPool(t *testing.T) {
	totalShares := uint256.NewInt(3)
	totalAssets := uint256.NewInt(10)

	// Withdrawing 7 assets must burn ceil(7*3/10)=3 shares, not 2.
	if got := sharesForWithdraw(uint256.NewInt(7), totalShares, totalAssets); got.Cmp(uint256.NewInt(3)) != 0 {
		t.Fatalf("withdraw shares = %s, want 3", got.Dec())
	}
	// Minting 1 share must cost ceil(1*10/3)=4 assets, not 3.
	if got := assetsForMint(uint256.NewInt(1), totalShares, totalAssets); got.Cmp(uint256.NewInt(4)) != 0 {
		t.Fatalf("mint assets = %s, want 4", got.Dec())
	}
	// Redeeming 1 share pays floor(1*10/3)=3 assets.
	if got := convertToAssets(uint256.NewInt(1), totalShares, totalAssets); got.Cmp(uint256.NewInt(3)) != 0 {
		t.Fatalf("redeem assets = %s, want 3", got.Dec())
	}
}

func TestBpsShare(t *testing.T) {
	if got := bpsShare(uint256.NewInt(400_000), 400); got.Cmp(uint256.NewInt(16_000)) != 0 {
		t.Fatalf("400 bps of 400000 = %s, want 16000", got.Dec())
	}
	if got := bpsShare(uint256.NewInt(16_000), 1_000); got.Cmp(uint256.NewInt(1_600)) != 0 {
		t.Fatalf("1000 bps of 16000 = %s, want 1600", got.Dec())
	}
	if got := bpsShare(nil, 400); !got.IsZero() {
		t.Fatalf("nil amount must yield zero, got %s", got.Dec())
	}
	// Floor division truncates.
	if got := bpsShare(uint256.NewInt(33), 100); !got.IsZero() {
		t.Fatalf("100 bps of 33 = %s, want 0", got.Dec())
	}
}
