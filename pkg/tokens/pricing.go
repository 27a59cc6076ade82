package tokens

// PricingConfig is the search cost policy. The same config prices both the
// pre-authorization estimate and the settlement charge so the two can never
// diverge.
type PricingConfig struct {
	BaseCost        int64
	PerResultCost   int64
	MinimumCharge   int64
	MaxResultsLimit int
}

// DefaultPricingConfig returns the production cost policy.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		BaseCost:        defaultBaseCost,
		PerResultCost:   defaultPerResultCost,
		MinimumCharge:   defaultMinimumCharge,
		MaxResultsLimit: defaultMaxResultsLimit,
	}
}

// QuoteCost computes the token charge for a result count:
// max(base + perResult*count, minimum). Pure and total over non-negative
// counts; callers clamp the count into policy bounds before quoting.
func QuoteCost(config PricingConfig, resultCount int) int64 {
	charge := config.BaseCost + config.PerResultCost*int64(resultCount)
	if charge < config.MinimumCharge {
		return config.MinimumCharge
	}
	return charge
}

// CostBreakdown is a transient quote shown to the user; it is never
// persisted and never authoritative for the debit itself.
type CostBreakdown struct {
	BaseCost       int64 `json:"base_cost"`
	PerResultCost  int64 `json:"per_result_cost"`
	ResultCount    int   `json:"result_count"`
	Subtotal       int64 `json:"subtotal"`
	MinimumCharge  int64 `json:"minimum_charge"`
	TotalCharge    int64 `json:"total_charge"`
	AppliedMinimum bool  `json:"applied_minimum"`
}

// QuoteBreakdown expands QuoteCost into its displayable parts.
func QuoteBreakdown(config PricingConfig, resultCount int) CostBreakdown {
	subtotal := config.BaseCost + config.PerResultCost*int64(resultCount)
	total := QuoteCost(config, resultCount)
	return CostBreakdown{
		BaseCost:       config.BaseCost,
		PerResultCost:  config.PerResultCost,
		ResultCount:    resultCount,
		Subtotal:       subtotal,
		MinimumCharge:  config.MinimumCharge,
		TotalCharge:    total,
		AppliedMinimum: total > subtotal,
	}
}
