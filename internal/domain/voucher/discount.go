package voucher

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Apply calculates the discount a voucher grants on the given items. It does
// not check activity, dates or usage; see Evaluator for the full rule order.
func Apply(v *Voucher, items []Item) (Discount, error) {
	applicable := applicableItems(v, items)
	if len(applicable) == 0 {
		return Discount{}, ErrNotApplicable
	}

	subtotal := calcSubtotal(applicable)
	if subtotal.LessThan(v.MinOrderValue) {
		return Discount{}, ErrBelowMinimum
	}

	var amount decimal.Decimal
	switch v.Kind {
	case KindFixed:
		amount = decimal.Min(v.Value, subtotal)
	case KindPercent:
		amount = subtotal.Mul(v.Value).Div(hundred)
		if v.MaxDiscount.IsPositive() {
			amount = decimal.Min(amount, v.MaxDiscount)
		}
	default:
		return Discount{}, errors.Errorf("unsupported voucher kind: %q", v.Kind)
	}

	// Whole VND, half-up, never above what the voucher applies to.
	amount = decimal.Min(floorAtZero(amount).Round(0), subtotal)

	return Discount{
		Code:        v.Code,
		Amount:      amount,
		Description: v.Description,
	}, nil
}

func applicableItems(v *Voucher, items []Item) []Item {
	if v.Scope == ScopeAll || v.Scope == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		switch v.Scope {
		case ScopeProducts:
			if slices.Contains(v.ApplicableIDs, it.ProductID) {
				out = append(out, it)
			}
		case ScopeCategories:
			if slices.Contains(v.ApplicableIDs, it.CategoryID) {
				out = append(out, it)
			}
		}
	}
	return out
}

// calcSubtotal returns the sum of price * quantity across all items.
func calcSubtotal(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return sum
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
