package fees

import (
	"fmt"

	"campusmart/models"
)

// Platform fee rates in basis points per listing type. Digital goods carry a
// higher rate because the platform also hosts and serves the files.
const (
	DigitalBps  = 2000
	PhysicalBps = 1000

	bpsDenominator = 10_000
)

// Split is the result of applying the fee policy to a gross price. The
// invariant Fee + Payout == price holds for every input.
type Split struct {
	Fee    int64
	Payout int64
}

// RateBps returns the platform rate for the supplied listing type.
func RateBps(listingType models.ListingType) (int64, error) {
	switch listingType {
	case models.ListingDigital:
		return DigitalBps, nil
	case models.ListingPhysical:
		return PhysicalBps, nil
	default:
		return 0, fmt.Errorf("fees: unknown listing type %q", listingType)
	}
}

// ComputeSplit applies the rate table to a gross price in whole currency
// units. The fee is price*rate rounded half up; the payout is the remainder.
// The function is pure: identical inputs always produce identical outputs.
func ComputeSplit(price int64, listingType models.ListingType) (Split, error) {
	if price < 0 {
		return Split{}, fmt.Errorf("fees: price must be non-negative, got %d", price)
	}
	bps, err := RateBps(listingType)
	if err != nil {
		return Split{}, err
	}
	fee := (price*bps + bpsDenominator/2) / bpsDenominator
	return Split{Fee: fee, Payout: price - fee}, nil
}
