package fees

import (
	"testing"

	"github.com/stretchr/testify/require"

	"campusmart/models"
)

func TestComputeSplit(t *testing.T) {
	cases := []struct {
		name    string
		price   int64
		kind    models.ListingType
		fee     int64
		payout  int64
		wantErr bool
	}{
		{name: "digital basic", price: 100, kind: models.ListingDigital, fee: 20, payout: 80},
		{name: "physical basic", price: 100, kind: models.ListingPhysical, fee: 10, payout: 90},
		{name: "digital rounds half up", price: 3, kind: models.ListingDigital, fee: 1, payout: 2},
		{name: "physical rounds half up", price: 5, kind: models.ListingPhysical, fee: 1, payout: 4},
		{name: "physical rounds down below half", price: 4, kind: models.ListingPhysical, fee: 0, payout: 4},
		{name: "zero price", price: 0, kind: models.ListingDigital, fee: 0, payout: 0},
		{name: "large price", price: 1_000_000, kind: models.ListingDigital, fee: 200_000, payout: 800_000},
		{name: "negative price", price: -1, kind: models.ListingDigital, wantErr: true},
		{name: "unknown type", price: 100, kind: models.ListingType("service"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split, err := ComputeSplit(tc.price, tc.kind)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.fee, split.Fee)
			require.Equal(t, tc.payout, split.Payout)
		})
	}
}

func TestSplitConservesPrice(t *testing.T) {
	for _, kind := range []models.ListingType{models.ListingDigital, models.ListingPhysical} {
		for price := int64(0); price <= 2_000; price++ {
			split, err := ComputeSplit(price, kind)
			require.NoError(t, err)
			require.Equal(t, price, split.Fee+split.Payout, "price %d type %s", price, kind)
			require.GreaterOrEqual(t, split.Fee, int64(0))
			require.GreaterOrEqual(t, split.Payout, int64(0))

			again, err := ComputeSplit(price, kind)
			require.NoError(t, err)
			require.Equal(t, split, again)
		}
	}
}
