package models

import "math"

// Amounts are held internally as int64 minor units (kobo). Client-facing
// request and response bodies carry major-unit decimals; conversion happens
// exactly once at the HTTP boundary through these helpers.

// FromMajorUnits converts a major-unit decimal amount (e.g. 5000.00 NGN)
// to minor units (500000 kobo), rounding to the nearest kobo.
func FromMajorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// ToMajorUnits converts minor units back to a major-unit decimal.
func ToMajorUnits(amount int64) float64 {
	return float64(amount) / 100
}
