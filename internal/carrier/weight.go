package carrier

import "storefront/internal/order"

// DefaultUnitWeightGrams applies to lines whose variant has no weight.
const DefaultUnitWeightGrams = 500

// WeightKg sums line weights and rounds up to whole kilograms, never
// returning less than 1.
func WeightKg(items []order.Item) int {
	grams := 0
	for _, it := range items {
		w := it.WeightGrams
		if w <= 0 {
			w = DefaultUnitWeightGrams
		}
		grams += w * it.Quantity
	}
	kg := (grams + 999) / 1000
	if kg < 1 {
		kg = 1
	}
	return kg
}
