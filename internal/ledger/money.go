package ledger

import "fmt"

// Breakdown splits a charged amount between the platform and the provider.
// All values are currency minor units.
type Breakdown struct {
	TotalAmount    int64 `json:"totalAmount"`
	PlatformFee    int64 `json:"platformFee"`
	ProviderPayout int64 `json:"providerPayout"`
}

// ComputeBreakdown calculates the fee split for a total amount. The fee is
// rounded down so any remainder from an uneven split goes to the provider,
// keeping TotalAmount == PlatformFee + ProviderPayout exact.
func ComputeBreakdown(totalAmount int64, feePercentage float64) (Breakdown, error) {
	if totalAmount <= 0 {
		return Breakdown{}, fmt.Errorf("amount must be positive, got %d", totalAmount)
	}
	if feePercentage < 0 || feePercentage >= 1 {
		return Breakdown{}, fmt.Errorf("fee percentage out of range: %f", feePercentage)
	}

	fee := int64(float64(totalAmount) * feePercentage)

	return Breakdown{
		TotalAmount:    totalAmount,
		PlatformFee:    fee,
		ProviderPayout: totalAmount - fee,
	}, nil
}
