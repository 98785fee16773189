package pool

import "github.com/holiman/uint256"

// Rating buckets a 0-100 risk score into a credit grade. The thresholds and
// yield table are fixed protocol constants; the signing oracle and the pool
// verifier run this exact code path, since the resulting yield basis points
// are part of the signed authorization payload.
type Rating string

const (
	RatingAAA Rating = "AAA"
	RatingAA  Rating = "AA"
	RatingA   Rating = "A"
	RatingBBB Rating = "BBB"
	RatingBB  Rating = "BB"
	RatingB   Rating = "B"
	RatingCCC Rating = "CCC"
)

// MaxRiskScore bounds the accepted risk score range.
const MaxRiskScore = 100

// RatingOf maps a risk score to its credit grade.
func RatingOf(score uint8) (Rating, error) {
	switch {
	case score > MaxRiskScore:
		return "", ErrInvalidRiskScore
	case score <= 10:
		return RatingAAA, nil
	case score <= 20:
		return RatingAA, nil
	case score <= 35:
		return RatingA, nil
	case score <= 50:
		return RatingBBB, nil
	case score <= 65:
		return RatingBB, nil
	case score <= 80:
		return RatingB, nil
	default:
		return RatingCCC, nil
	}
}

// YieldBpsOf returns the fixed annualized yield for a credit grade in basis
// points. Unknown grades yield the most conservative CCC rate.
func YieldBpsOf(r Rating) uint64 {
	switch r {
	case RatingAAA:
		return 200
	case RatingAA:
		return 300
	case RatingA:
		return 400
	case RatingBBB:
		return 600
	case RatingBB:
		return 800
	case RatingB:
		return 1100
	default:
		return 1500
	}
}

// YieldBpsForScore resolves the yield basis points for a raw risk score.
func YieldBpsForScore(score uint8) (uint64, error) {
	rating, err := RatingOf(score)
	if err != nil {
		return 0, err
	}
	return YieldBpsOf(rating), nil
}

// ExpectedYield computes floor(amount * yieldBps / 10000) for the grade the
// score falls into.
func ExpectedYield(amount *uint256.Int, score uint8) (*uint256.Int, error) {
	bps, err := YieldBpsForScore(score)
	if err != nil {
		return nil, err
	}
	return bpsShare(amount, bps), nil
}
