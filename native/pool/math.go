package pool

import "github.com/holiman/uint256"

// All monetary quantities carry 6-decimal stablecoin semantics and are
// manipulated exclusively as unsigned 256-bit integers. Conversions that pay
// value out of the pool round down; conversions that compute what a caller
// must give up round up. The pool never loses dust to rounding.

// AssetDecimals is the scale shared by assets and shares.
const AssetDecimals = 6

var bpsDenominator = uint256.NewInt(10_000)

// mulDivFloor computes floor(a*b/d) with a 512-bit intermediate product. A
// zero divisor or overflowing quotient yields zero, mirroring the defensive
// zero returns used across the ledger math.
func mulDivFloor(a, b, d *uint256.Int) *uint256.Int {
	if a == nil || b == nil || d == nil || d.IsZero() {
		return uint256.NewInt(0)
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return uint256.NewInt(0)
	}
	return res
}

// mulDivCeil computes ceil(a*b/d) under the same guards as mulDivFloor.
func mulDivCeil(a, b, d *uint256.Int) *uint256.Int {
	if a == nil || b == nil || d == nil || d.IsZero() {
		return uint256.NewInt(0)
	}
	res, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return uint256.NewInt(0)
	}
	rem := new(uint256.Int).MulMod(a, b, d)
	if !rem.IsZero() {
		res = new(uint256.Int).Add(res, uint256.NewInt(1))
	}
	return res
}

// emptyPool reports whether conversions should fall back to the 1:1 bootstrap
// mapping. This covers the defined division-by-zero special case.
func emptyPool(totalShares, totalAssets *uint256.Int) bool {
	if totalShares == nil || totalShares.IsZero() {
		return true
	}
	return totalAssets == nil || totalAssets.IsZero()
}

// convertToShares values a deposit of assets in shares, rounding down.
func convertToShares(assets, totalShares, totalAssets *uint256.Int) *uint256.Int {
	if assets == nil {
		return uint256.NewInt(0)
	}
	if emptyPool(totalShares, totalAssets) {
		return new(uint256.Int).Set(assets)
	}
	return mulDivFloor(assets, totalShares, totalAssets)
}

// convertToAssets values a share balance in assets, rounding down.
func convertToAssets(shares, totalShares, totalAssets *uint256.Int) *uint256.Int {
	if shares == nil {
		return uint256.NewInt(0)
	}
	if emptyPool(totalShares, totalAssets) {
		return new(uint256.Int).Set(shares)
	}
	return mulDivFloor(shares, totalAssets, totalShares)
}

// sharesForWithdraw computes the shares that must be burned to release an
// exact asset amount, rounding up in the pool's favor.
func sharesForWithdraw(assets, totalShares, totalAssets *uint256.Int) *uint256.Int {
	if assets == nil {
		return uint256.NewInt(0)
	}
	if emptyPool(totalShares, totalAssets) {
		return new(uint256.Int).Set(assets)
	}
	return mulDivCeil(assets, totalShares, totalAssets)
}

// assetsForMint computes the assets that must be supplied to mint an exact
// share amount, rounding up in the pool's favor.
func assetsForMint(shares, totalShares, totalAssets *uint256.Int) *uint256.Int {
	if shares == nil {
		return uint256.NewInt(0)
	}
	if emptyPool(totalShares, totalAssets) {
		return new(uint256.Int).Set(shares)
	}
	return mulDivCeil(shares, totalAssets, totalShares)
}

// bpsShare computes floor(amount*bps/10000).
func bpsShare(amount *uint256.Int, bps uint64) *uint256.Int {
	if amount == nil || bps == 0 {
		return uint256.NewInt(0)
	}
	return mulDivFloor(amount, uint256.NewInt(bps), bpsDenominator)
}

// minU256 returns the smaller operand as a fresh value.
func minU256(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		return uint256.NewInt(0)
	}
	if b == nil {
		return uint256.NewInt(0)
	}
	if a.Cmp(b) <= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}
