package domain

import "math"

// Economy holds the tuned constants of the upgrade cost curves
type Economy struct {
	PerActionK float64
	PerActionC float64
	PassiveK   float64
	PassiveC   float64
}

// DefaultEconomy matches the shipped client's displayed prices
var DefaultEconomy = Economy{
	PerActionK: 5000,
	PerActionC: 800,
	PassiveK:   6000,
	PassiveC:   1500,
}

// PerActionCost is the price of doubling perAction from its current value
func (e Economy) PerActionCost(perAction int64) float64 {
	p := float64(perAction)
	return math.Ceil(p*math.Log2(p)*e.PerActionK + e.PerActionC)
}

// PassiveCost is the price of the next passive unit given the current count
func (e Economy) PassiveCost(passiveUnits int64) float64 {
	n := float64(passiveUnits + 1)
	return math.Ceil(n*math.Log2(n)*e.PassiveK + e.PassiveC)
}

// PassiveIncome is the per-tick gain of a record before the event multiplier
func PassiveIncome(u *UserRecord) float64 {
	return float64(u.PassiveUnits * u.PerAction)
}
