package pricing

// DefaultConfig returns the static pricing configuration seeded at process
// startup: a three-tier purchase schedule, a bulk discount, loyalty tiers,
// and a peak-hours window. Numbers are illustrative defaults an operator is
// expected to override via the configuration layer for a real deployment.
func DefaultConfig() *Config {
	return &Config{
		ConversionRate:        1000,
		SubUnitTick:           0.00000001, // one tinybar
		BulkDiscountThreshold: 100,
		BulkDiscountPercent:   10,
		PeakStartHourUTC:      18,
		PeakEndHourUTC:        22,
		PurchaseTiers: []Tier{
			{MinCredits: 0, CreditsPerUSD: 1000},
			{MinCredits: 50_000, CreditsPerUSD: 1100},
			{MinCredits: 200_000, CreditsPerUSD: 1250},
		},
		LoyaltyTiers: []LoyaltyTier{
			{Threshold: 0, DiscountPercent: 0},
			{Threshold: 10_000, DiscountPercent: 5},
			{Threshold: 100_000, DiscountPercent: 15},
		},
	}
}

// DefaultOperationCosts is the static operation-cost catalog seeded once at
// initialization, naming the priced operations this deployment exposes
// through the Operation Facade.
func DefaultOperationCosts() []OperationCost {
	return []OperationCost{
		{Name: "health_check", BaseCost: 0, Category: "free"},
		{Name: "get_server_info", BaseCost: 0, Category: "free"},
		{Name: "execute_transaction", BaseCost: 15, Category: "write"},
		{Name: "query_account", BaseCost: 2, Category: "read"},
		{Name: "query_contract", BaseCost: 5, Category: "read", NetworkMultiplier: 1.2},
		{Name: "submit_message", BaseCost: 8, Category: "write", SizeMultiplierPerKB: 0.5},
	}
}
