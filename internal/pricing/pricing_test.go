package pricing

import "testing"

func testConfig() *Config {
	c := &Config{
		ConversionRate: 1000,
		PurchaseTiers: []Tier{
			{MinCredits: 0, CreditsPerUSD: 1000},
			{MinCredits: 50_000, CreditsPerUSD: 1100},
			{MinCredits: 200_000, CreditsPerUSD: 1250},
		},
		BulkDiscountThreshold: 100,
		BulkDiscountPercent:   10,
		PeakStartHourUTC:      18,
		PeakEndHourUTC:        22,
		LoyaltyTiers: []LoyaltyTier{
			{Threshold: 0, DiscountPercent: 0},
			{Threshold: 10_000, DiscountPercent: 5},
			{Threshold: 100_000, DiscountPercent: 15},
		},
		SubUnitTick: 0.00000001,
	}
	c.SeedOperationCosts([]OperationCost{
		{Name: "execute_transaction", BaseCost: 15, Category: "write"},
		{Name: "query_balance", BaseCost: 1, Category: "read"},
		{Name: "submit_large_payload", BaseCost: 10, Category: "write", SizeMultiplierPerKB: 2},
		{Name: "consensus_submit", BaseCost: 5, Category: "write", NetworkMultiplier: 2},
	})
	return c
}

func TestCreditsForAmountZeroAndNegative(t *testing.T) {
	c := testConfig()
	if got := c.CreditsForAmount(0); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
	if got := c.CreditsForAmount(-5); got != 0 {
		t.Fatalf("want 0, got %d", got)
	}
}

func TestCreditsForAmountSingleTier(t *testing.T) {
	c := testConfig()
	// 1.0 HBAR-equivalent USD * 1000 credits/$ within first 50,000-credit band -> 1000 credits
	got := c.CreditsForAmount(1.0)
	if got != 1000 {
		t.Fatalf("want 1000, got %d", got)
	}
}

func TestCreditsForAmountCrossesTiers(t *testing.T) {
	c := testConfig()
	// First band: 50,000 credits costs 50,000/1000 = $50
	// Remaining $10 at 1100 credits/$ = 11,000 credits
	got := c.CreditsForAmount(60.0)
	want := int64(50_000 + 11_000)
	if got != want {
		t.Fatalf("want %d, got %d", want, got)
	}
}

func TestAmountForCreditsRoundTripBound(t *testing.T) {
	c := testConfig()
	amount := 60.0
	credits := c.CreditsForAmount(amount)
	back := c.AmountForCredits(credits)
	if back < amount-0.01 {
		t.Fatalf("round trip lost too much value: amount=%v back=%v", amount, back)
	}
	if back > amount+c.SubUnitTick+1e-9 {
		t.Fatalf("round trip overshot by more than one tick: amount=%v back=%v", amount, back)
	}
}

func TestOperationCostUnknownIsFree(t *testing.T) {
	c := testConfig()
	if got := c.OperationCost("nonexistent_admin_op", CostOptions{}); got != 0 {
		t.Fatalf("want 0 for unknown operation, got %d", got)
	}
}

func TestOperationCostBaseOnly(t *testing.T) {
	c := testConfig()
	got := c.OperationCost("execute_transaction", CostOptions{NowUTCHour: 9})
	if got != 15 {
		t.Fatalf("want 15, got %d", got)
	}
}

func TestOperationCostNetworkMultiplier(t *testing.T) {
	c := testConfig()
	got := c.OperationCost("consensus_submit", CostOptions{NowUTCHour: 9})
	if got != 10 {
		t.Fatalf("want 10, got %d", got)
	}
}

func TestOperationCostPayloadSize(t *testing.T) {
	c := testConfig()
	// base 10 + 5kb * 2 = 20
	got := c.OperationCost("submit_large_payload", CostOptions{PayloadSizeKB: 5, NowUTCHour: 9})
	if got != 20 {
		t.Fatalf("want 20, got %d", got)
	}
}

func TestOperationCostBulkDiscount(t *testing.T) {
	c := testConfig()
	// 15 * 0.9 = 13.5 -> ceil 14
	got := c.OperationCost("execute_transaction", CostOptions{IsBulk: true, NowUTCHour: 9})
	if got != 14 {
		t.Fatalf("want 14, got %d", got)
	}
}

func TestOperationCostLoyaltyDiscount(t *testing.T) {
	c := testConfig()
	// highest threshold <= 150,000 is 100,000 -> 15% off: 15*0.85=12.75 -> ceil 13
	got := c.OperationCost("execute_transaction", CostOptions{UserTotalConsumed: 150_000, NowUTCHour: 9})
	if got != 13 {
		t.Fatalf("want 13, got %d", got)
	}
}

func TestOperationCostPeakHours(t *testing.T) {
	c := testConfig()
	// 15 * 1.25 = 18.75 -> ceil 19
	got := c.OperationCost("execute_transaction", CostOptions{NowUTCHour: 19})
	if got != 19 {
		t.Fatalf("want 19, got %d", got)
	}
}

func TestOperationCostFullCompositionOrder(t *testing.T) {
	c := testConfig()
	// base 15 * network(n/a) = 15
	// + payload: execute_transaction has no SizeMultiplierPerKB so unaffected
	// * bulk 0.9 = 13.5
	// * loyalty 0.85 (150k consumed) = 11.475
	// * peak 1.25 = 14.34375 -> ceil 15
	got := c.OperationCost("execute_transaction", CostOptions{
		IsBulk:            true,
		UserTotalConsumed: 150_000,
		NowUTCHour:        19,
	})
	if got != 15 {
		t.Fatalf("want 15, got %d", got)
	}
}
