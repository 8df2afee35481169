package domain

import "time"

// FormField is one entry of an event's dynamic form schema. Spreadsheet
// columns beyond the fixed ones are matched to these field IDs.
type FormField struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// EventConfig is the read-only event configuration consumed by the
// engine: registration window, per-currency base fees, discount tiers
// and the dynamic form schema.
type EventConfig struct {
	ID            string
	Name          string
	OpensAt       time.Time
	ClosesAt      time.Time
	BaseFees      map[string]int64 // currency code → fee per student, minor units
	DiscountRules []DiscountRule
	FormSchema    []FormField
	CreatedAt     time.Time
}

// OpenAt reports whether the event accepts registrations at the given
// instant.
func (e EventConfig) OpenAt(t time.Time) bool {
	return !t.Before(e.OpensAt) && t.Before(e.ClosesAt)
}

// BaseFee returns the per-student fee for a currency, or false if the
// event does not price that currency.
func (e EventConfig) BaseFee(currency string) (int64, bool) {
	fee, ok := e.BaseFees[currency]
	return fee, ok
}
