package domain

// DiscountRule is one tier of an event's volume discount: the
// percentage unlocks once the student count reaches MinStudents.
type DiscountRule struct {
	MinStudents int `json:"min_students"`
	DiscountPct int `json:"discount_percentage"`
}

// PriceQuote is the result of resolving a price for a student count.
// Amounts are integer minor units.
type PriceQuote struct {
	Subtotal       int64
	DiscountPct    int
	DiscountAmount int64
	Total          int64
}

// ResolvePrice computes the price for studentCount students at baseFee
// per student. Among all rules whose MinStudents is satisfied, the one
// with the greatest percentage wins; ties on MinStudents are therefore
// irrelevant. No rule qualifying means no discount.
//
// Pure and deterministic. Callers must re-invoke it after every change
// to the student count so pricing is always a function of current
// state; they must also reject studentCount < 1 before calling.
func ResolvePrice(baseFee int64, studentCount int, rules []DiscountRule) PriceQuote {
	subtotal := baseFee * int64(studentCount)

	pct := 0
	for _, r := range rules {
		if r.MinStudents <= studentCount && r.DiscountPct > pct {
			pct = r.DiscountPct
		}
	}

	// Round half-up to the minor unit.
	discount := (subtotal*int64(pct) + 50) / 100

	return PriceQuote{
		Subtotal:       subtotal,
		DiscountPct:    pct,
		DiscountAmount: discount,
		Total:          subtotal - discount,
	}
}
