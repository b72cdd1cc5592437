package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storefront/internal/order"
)

func TestWeightKg(t *testing.T) {
	tests := []struct {
		name  string
		items []order.Item
		want  int
	}{
		{"no items", nil, 1},
		{"default weight", []order.Item{{Quantity: 1}}, 1},
		{"default weight rounds up", []order.Item{{Quantity: 3}}, 2},
		{"recorded weights", []order.Item{{Quantity: 2, WeightGrams: 300}, {Quantity: 1, WeightGrams: 400}}, 1},
		{"exact kilogram", []order.Item{{Quantity: 2, WeightGrams: 1000}}, 2},
		{"mixed", []order.Item{{Quantity: 2, WeightGrams: 300}, {Quantity: 1}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WeightKg(tt.items))
		})
	}
}
