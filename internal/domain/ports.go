package domain

import "context"

// BatchRepository defines the persistence contract for batches and
// their registrations. Multi-record methods (CreateBatch, DeleteBatch,
// AddRegistration, RemoveRegistration, RecordPayment) must behave as a
// single unit of work: either all writes land or none remain.
// Batch-updating methods must fail with a *ConflictError when the
// batch's version changed since it was read.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch Batch, regs []Registration) error
	GetBatch(ctx context.Context, reference, tenantID string) (Batch, error)
	UpdateBatch(ctx context.Context, batch Batch) error
	DeleteBatch(ctx context.Context, batch Batch) error

	ListRegistrations(ctx context.Context, batchID string) ([]Registration, error)
	GetRegistration(ctx context.Context, batchID, registrationID string) (Registration, error)
	// AddRegistration persists the updated batch and the new
	// registration together. The repository assigns the registration's
	// Position at the end of the roster.
	AddRegistration(ctx context.Context, batch Batch, reg Registration) error
	UpdateRegistration(ctx context.Context, reg Registration) error
	RemoveRegistration(ctx context.Context, batch Batch, registrationID string) error

	RecordPayment(ctx context.Context, batch Batch, status PaymentStatus) error
	PaymentRecorded(ctx context.Context, batchID string) (bool, error)
}

// EventConfigSource provides event configuration. The engine only reads
// it; Put exists for the admin surface and tests.
type EventConfigSource interface {
	GetEvent(ctx context.Context, eventID string) (EventConfig, error)
	PutEvent(ctx context.Context, cfg EventConfig) error
}

// ValidationCache stores parse-and-validate results between the
// validate and commit steps so commit need not re-parse the upload.
// It is advisory: a miss is never an error, and the system must behave
// identically (just slower) with the cache disabled.
type ValidationCache interface {
	// Put stores a result for the key, superseding any prior entry for
	// the same key, and returns an opaque validation ID.
	Put(ctx context.Context, key CacheKey, result ValidationResult) (string, error)
	// Get returns the result for the validation ID if it exists, has
	// not expired, and was produced for the same key. A hit consumes
	// the entry: a second Get with the same ID is a miss.
	Get(ctx context.Context, validationID string, key CacheKey) (ValidationResult, bool, error)
	// Delete drops an entry regardless of expiry.
	Delete(ctx context.Context, validationID string) error
}

// SheetParser parses raw spreadsheet bytes against an event's form
// schema into normalized rows plus field-level errors.
type SheetParser interface {
	ParseAndValidate(fileBytes []byte, schema []FormField) (ValidationResult, error)
}

// FileStore keeps the raw uploaded sheet for a batch. Storage failure
// is non-fatal to batch creation.
type FileStore interface {
	Store(ctx context.Context, reference string, data []byte) (string, error)
}

// TransitionValidator checks status transitions against the domain
// transition tables.
type TransitionValidator interface {
	ApplyBatch(ctx context.Context, current BatchStatus, event BatchEvent) (BatchStatus, error)
	ApplyPayment(ctx context.Context, current PaymentStatus, event PaymentEvent) (PaymentStatus, error)
}

// ChangeEvent identifies a domain event emitted after a successful
// mutation.
type ChangeEvent string

const (
	ChangeBatchCreated   ChangeEvent = "batch.created"
	ChangeBatchDeleted   ChangeEvent = "batch.deleted"
	ChangeStudentAdded   ChangeEvent = "student.added"
	ChangeStudentRemoved ChangeEvent = "student.removed"
	ChangePaymentUpdated ChangeEvent = "payment.updated"
)

// EventPublisher defines the contract for emitting domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event ChangeEvent, batch Batch) error
}
