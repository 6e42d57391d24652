// Package pricing implements the pure tier, modifier, and operation-cost
// math that every other component defers to for a credits figure. Nothing
// in this package touches a store, a clock that can't be mocked, or the
// network — it is safe to call from any goroutine at any time.
package pricing

import "sort"

// Tier is one bracket of the purchase-pricing table.
type Tier struct {
	MinCredits    int64
	CreditsPerUSD float64
}

// LoyaltyTier discounts an operation once a customer's lifetime consumption
// crosses a threshold.
type LoyaltyTier struct {
	Threshold      int64
	DiscountPercent float64
}

// OperationCost is one row of the seeded operation-cost catalog.
type OperationCost struct {
	Name                string
	BaseCost            int64
	Category            string
	NetworkMultiplier   float64 // 0 means "no network multiplier"
	SizeMultiplierPerKB float64 // 0 means "no payload-size component"
}

// Config is the static pricing configuration: conversion rate, purchase
// tiers, bulk discount, peak-hours window, and loyalty tiers. It is loaded
// once at startup and never mutated; every Credit Manager and every request
// handler shares one instance by reference.
type Config struct {
	ConversionRate       float64 // credits per USD; CreditsForAmount/AmountForCredits use it as a flat rate only when PurchaseTiers is empty
	PurchaseTiers        []Tier  // ascending by MinCredits
	BulkDiscountThreshold int64
	BulkDiscountPercent   float64
	PeakStartHourUTC      int // inclusive
	PeakEndHourUTC        int // exclusive
	LoyaltyTiers          []LoyaltyTier // any order; sorted internally
	SubUnitTick           float64       // smallest native-token increment amountForCredits rounds up to

	operationCosts map[string]OperationCost
}

// SeedOperationCosts installs the static operation-cost catalog. Called
// once by CreditManager.Initialize; read-only after that.
func (c *Config) SeedOperationCosts(costs []OperationCost) {
	c.operationCosts = make(map[string]OperationCost, len(costs))
	for _, oc := range costs {
		c.operationCosts[oc.Name] = oc
	}
}

// OperationCosts returns the seeded catalog, newest-insertion order is not
// meaningful so callers get it sorted by name for stable output.
func (c *Config) OperationCosts() []OperationCost {
	out := make([]OperationCost, 0, len(c.operationCosts))
	for _, oc := range c.operationCosts {
		out = append(out, oc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Config) lookupOperation(name string) (OperationCost, bool) {
	oc, ok := c.operationCosts[name]
	return oc, ok
}

// sortedLoyaltyTiers returns loyalty tiers descending by threshold, so the
// first match scanning front-to-back is the highest threshold the
// customer's consumption clears.
func (c *Config) sortedLoyaltyTiers() []LoyaltyTier {
	out := make([]LoyaltyTier, len(c.LoyaltyTiers))
	copy(out, c.LoyaltyTiers)
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold > out[j].Threshold })
	return out
}

// sortedPurchaseTiers returns purchase tiers ascending by MinCredits.
func (c *Config) sortedPurchaseTiers() []Tier {
	out := make([]Tier, len(c.PurchaseTiers))
	copy(out, c.PurchaseTiers)
	sort.Slice(out, func(i, j int) bool { return out[i].MinCredits < out[j].MinCredits })
	return out
}
