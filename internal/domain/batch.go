package domain

import "time"

// BatchStatus represents the lifecycle state of a roster batch.
type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchSubmitted BatchStatus = "submitted"
	BatchConfirmed BatchStatus = "confirmed"
	BatchCancelled BatchStatus = "cancelled"
)

// PaymentStatus mirrors the external payment subsystem's view of a batch.
// This core never drives money movement; it only reads this field to
// decide editability.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
)

// BatchEvent is an action that triggers a batch_status transition.
type BatchEvent string

const (
	EventSubmit  BatchEvent = "submit"
	EventConfirm BatchEvent = "confirm"
	EventCancel  BatchEvent = "cancel"
)

// PaymentEvent is an action reported by the payment feed that triggers
// a payment_status transition.
type PaymentEvent string

const (
	EventStartProcessing PaymentEvent = "start_processing"
	EventComplete        PaymentEvent = "complete"
	EventFail            PaymentEvent = "fail"
	EventRetry           PaymentEvent = "retry"
)

// BatchTransition defines a valid batch_status change.
type BatchTransition struct {
	Event BatchEvent
	Src   BatchStatus
	Dst   BatchStatus
}

// BatchTransitions defines all valid batch_status changes.
// Confirmed and cancelled are terminal. This is domain knowledge
// consumed by the FSM adapter.
var BatchTransitions = []BatchTransition{
	{Event: EventSubmit, Src: BatchDraft, Dst: BatchSubmitted},
	{Event: EventConfirm, Src: BatchSubmitted, Dst: BatchConfirmed},
	{Event: EventCancel, Src: BatchDraft, Dst: BatchCancelled},
}

// PaymentTransition defines a valid payment_status change.
type PaymentTransition struct {
	Event PaymentEvent
	Src   PaymentStatus
	Dst   PaymentStatus
}

// PaymentTransitions defines all valid payment_status changes.
// failed → pending is allowed so a payment can be retried.
var PaymentTransitions = []PaymentTransition{
	{Event: EventStartProcessing, Src: PaymentPending, Dst: PaymentProcessing},
	{Event: EventComplete, Src: PaymentProcessing, Dst: PaymentCompleted},
	{Event: EventFail, Src: PaymentProcessing, Dst: PaymentFailed},
	{Event: EventRetry, Src: PaymentFailed, Dst: PaymentPending},
}

// Batch is the aggregate root for one tenant's roster submission for one
// event. All money amounts are integer minor units (e.g. paise).
type Batch struct {
	ID             string
	Reference      string
	TenantID       string
	EventID        string
	StudentCount   int
	Currency       string
	BaseFee        int64
	Subtotal       int64
	DiscountPct    int
	DiscountAmount int64
	Total          int64
	Status         BatchStatus
	PaymentStatus  PaymentStatus
	FileURL        string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Editable is the single authoritative gate for mutating a batch's
// registrations or pricing fields. Every mutating path must consult it
// rather than re-deriving the rule from status fields.
func (b Batch) Editable() bool {
	return b.PaymentStatus != PaymentCompleted
}

// ApplyQuote overwrites the batch's pricing fields from a freshly
// resolved quote. Pricing is always recomputed from current state,
// never incrementally adjusted.
func (b *Batch) ApplyQuote(count int, q PriceQuote) {
	b.StudentCount = count
	b.Subtotal = q.Subtotal
	b.DiscountPct = q.DiscountPct
	b.DiscountAmount = q.DiscountAmount
	b.Total = q.Total
}

// NewBatch creates a draft batch with pending payment.
func NewBatch(id, reference, tenantID, eventID, currency string, baseFee int64) Batch {
	now := time.Now().UTC()
	return Batch{
		ID:            id,
		Reference:     reference,
		TenantID:      tenantID,
		EventID:       eventID,
		Currency:      currency,
		BaseFee:       baseFee,
		Status:        BatchDraft,
		PaymentStatus: PaymentPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Registration is one student's entry within a batch. Registrations are
// owned exclusively by their batch and are never mutated directly.
type Registration struct {
	ID            string
	BatchID       string
	TenantID      string
	EventID       string
	StudentName   string
	Grade         string
	Section       string
	ExamDate      string
	DynamicFields map[string]string
	Position      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RegistrationPatch holds a partial update for a registration. Nil
// fields are left untouched; DynamicFields is merged, not replaced.
type RegistrationPatch struct {
	StudentName   *string
	Grade         *string
	Section       *string
	ExamDate      *string
	DynamicFields map[string]string
}

// Apply merges the patch into the registration.
func (p RegistrationPatch) Apply(r *Registration) {
	if p.StudentName != nil {
		r.StudentName = *p.StudentName
	}
	if p.Grade != nil {
		r.Grade = *p.Grade
	}
	if p.Section != nil {
		r.Section = *p.Section
	}
	if p.ExamDate != nil {
		r.ExamDate = *p.ExamDate
	}
	if len(p.DynamicFields) > 0 {
		if r.DynamicFields == nil {
			r.DynamicFields = make(map[string]string, len(p.DynamicFields))
		}
		for k, v := range p.DynamicFields {
			r.DynamicFields[k] = v
		}
	}
}
