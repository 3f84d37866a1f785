package strategy

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	outputPlaces = 6
	// matchTolerance is how close an existing order must be to a desired level.
	matchTolerance = 1e-6
)

// round6 rounds to the precision intents are emitted with.
func round6(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(outputPlaces)
}

// formatFixed renders a value as a fixed six-decimal string.
func formatFixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(outputPlaces)
}

// sameLevel compares an existing order value with a desired value at output precision.
func sameLevel(existing, desired float64) bool {
	return math.Abs(existing-round6(desired).InexactFloat64()) <= matchTolerance
}
