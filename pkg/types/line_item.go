package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LineItem is one entry of an order ticket.
type LineItem struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Qty   int             `json:"qty"`
}

// Subtotal returns price times quantity, counting a missing quantity as one.
func (l LineItem) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.EffectiveQty())))
}

// EffectiveQty treats zero or negative quantities as a single unit.
func (l LineItem) EffectiveQty() int {
	if l.Qty <= 0 {
		return 1
	}
	return l.Qty
}

// Normalize trims the name and pins the quantity to at least one.
func (l LineItem) Normalize() LineItem {
	l.Name = strings.TrimSpace(l.Name)
	l.Qty = l.EffectiveQty()
	return l
}

// LineItems is the ordered item list stored in a JSONB column.
type LineItems []LineItem

// Total sums every subtotal over the full list.
func (items LineItems) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Names returns item names in list order.
func (items LineItems) Names() []string {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.Name)
	}
	return names
}

// Count returns the number of units across the list.
func (items LineItems) Count() int {
	count := 0
	for _, item := range items {
		count += item.EffectiveQty()
	}
	return count
}
