package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rosterbatch/rosterbatch/internal/domain"
	"github.com/rosterbatch/rosterbatch/internal/logger"
)

// conflictAttempts bounds the read-recompute-write loop on optimistic
// version conflicts before the conflict is surfaced to the caller.
const conflictAttempts = 2

// BatchService orchestrates the batch registration workflow: validate
// an upload, commit it as a priced batch, edit students pre-payment,
// and track lifecycle status.
type BatchService struct {
	repo      domain.BatchRepository
	events    domain.EventConfigSource
	cache     domain.ValidationCache
	parser    domain.SheetParser
	files     domain.FileStore
	validator domain.TransitionValidator
	publisher domain.EventPublisher
	log       *logger.Logger
}

// NewBatchService creates a service with the given adapters. cache and
// files may be nil: the cache is advisory and file storage failures are
// non-fatal, so both degrade rather than disable the service.
func NewBatchService(
	repo domain.BatchRepository,
	events domain.EventConfigSource,
	cache domain.ValidationCache,
	parser domain.SheetParser,
	files domain.FileStore,
	validator domain.TransitionValidator,
	publisher domain.EventPublisher,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		repo:      repo,
		events:    events,
		cache:     cache,
		parser:    parser,
		files:     files,
		validator: validator,
		publisher: publisher,
		log:       log.With("service", "BatchService"),
	}
}

// ValidateSheet parses and validates an uploaded roster against the
// event's form schema. The result is cached so a subsequent commit for
// the same tenant and event can reuse it without re-parsing; the
// returned validation ID is empty when caching is unavailable.
func (s *BatchService) ValidateSheet(ctx context.Context, tenantID, eventID string, fileBytes []byte) (domain.ValidationResult, string, error) {
	cfg, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return domain.ValidationResult{}, "", err
	}
	if !cfg.OpenAt(time.Now().UTC()) {
		return domain.ValidationResult{}, "", &domain.InvalidOperationError{
			Reason: fmt.Sprintf("event %s is not open for registration", eventID),
		}
	}

	result, err := s.parser.ParseAndValidate(fileBytes, cfg.FormSchema)
	if err != nil {
		return domain.ValidationResult{}, "", fmt.Errorf("parsing sheet: %w", err)
	}

	validationID := ""
	if s.cache != nil {
		id, err := s.cache.Put(ctx, domain.CacheKey{TenantID: tenantID, EventID: eventID}, result)
		if err != nil {
			// The cache is advisory; commit falls back to re-parsing.
			s.log.Warn("caching validation result failed", "tenant_id", tenantID, "event_id", eventID, "error", err)
		} else {
			validationID = id
		}
	}

	return result, validationID, nil
}

// CreateBatch commits a previously validated upload as a priced batch
// of registrations. The cached validation result is consumed when
// available; otherwise the supplied file bytes are re-parsed. The batch
// and all its registrations are persisted as one unit of work.
func (s *BatchService) CreateBatch(ctx context.Context, tenantID, eventID, validationID, currency string, fileBytes []byte) (domain.Batch, []domain.Registration, error) {
	cfg, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	if !cfg.OpenAt(time.Now().UTC()) {
		return domain.Batch{}, nil, &domain.InvalidOperationError{
			Reason: fmt.Sprintf("event %s is not open for registration", eventID),
		}
	}
	baseFee, ok := cfg.BaseFee(currency)
	if !ok {
		return domain.Batch{}, nil, &domain.InvalidOperationError{
			Reason: fmt.Sprintf("event %s has no base fee for currency %s", eventID, currency),
		}
	}

	result, err := s.validationFor(ctx, tenantID, eventID, validationID, fileBytes, cfg.FormSchema)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	if len(result.Errors) > 0 {
		return domain.Batch{}, nil, &domain.ValidationError{Errors: result.Errors}
	}
	if len(result.Rows) == 0 {
		return domain.Batch{}, nil, &domain.InvalidOperationError{Reason: "batch must contain at least one student"}
	}

	reference, err := generateReference(tenantID)
	if err != nil {
		return domain.Batch{}, nil, fmt.Errorf("generating batch reference: %w", err)
	}

	batch := domain.NewBatch(uuid.NewString(), reference, tenantID, eventID, currency, baseFee)
	batch.ApplyQuote(len(result.Rows), domain.ResolvePrice(baseFee, len(result.Rows), cfg.DiscountRules))

	if s.files != nil && len(fileBytes) > 0 {
		url, err := s.files.Store(ctx, reference, fileBytes)
		if err != nil {
			// Non-fatal: the batch is created without a file reference.
			s.log.Warn("storing uploaded sheet failed", "reference", reference, "error", err)
		} else {
			batch.FileURL = url
		}
	}

	regs := make([]domain.Registration, len(result.Rows))
	now := time.Now().UTC()
	for i, row := range result.Rows {
		regs[i] = domain.Registration{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			TenantID:      tenantID,
			EventID:       eventID,
			StudentName:   row.StudentName,
			Grade:         row.Grade,
			Section:       row.Section,
			ExamDate:      row.ExamDate,
			DynamicFields: row.DynamicFields,
			Position:      i + 1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	if err := s.repo.CreateBatch(ctx, batch, regs); err != nil {
		return domain.Batch{}, nil, err
	}

	s.log.Info("batch created",
		"reference", reference, "tenant_id", tenantID, "event_id", eventID,
		"students", batch.StudentCount, "total", batch.Total)

	if err := s.publisher.Publish(ctx, domain.ChangeBatchCreated, batch); err != nil {
		return domain.Batch{}, nil, fmt.Errorf("publishing batch.created: %w", err)
	}

	return batch, regs, nil
}

// validationFor resolves the rows for a commit: a cache hit consumes
// the entry, a miss (expired, consumed, disabled) falls back to
// re-parsing the uploaded bytes. The miss is internal and never
// surfaced as an error.
func (s *BatchService) validationFor(ctx context.Context, tenantID, eventID, validationID string, fileBytes []byte, schema []domain.FormField) (domain.ValidationResult, error) {
	key := domain.CacheKey{TenantID: tenantID, EventID: eventID}

	if s.cache != nil && validationID != "" {
		result, hit, err := s.cache.Get(ctx, validationID, key)
		if err != nil {
			s.log.Warn("validation cache read failed", "validation_id", validationID, "error", err)
		} else if hit {
			return result, nil
		}
		s.log.Debug("validation cache miss, re-parsing upload", "validation_id", validationID, "tenant_id", tenantID)
	}

	if len(fileBytes) == 0 {
		return domain.ValidationResult{}, &domain.InvalidOperationError{
			Reason: "validation result expired and no file was supplied for re-parsing",
		}
	}

	result, err := s.parser.ParseAndValidate(fileBytes, schema)
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("re-parsing sheet: %w", err)
	}
	return result, nil
}

// GetBatch returns a batch by reference, scoped to the tenant.
func (s *BatchService) GetBatch(ctx context.Context, tenantID, reference string) (domain.Batch, error) {
	return s.repo.GetBatch(ctx, reference, tenantID)
}

// ExportBatch returns the batch and its registrations in roster order,
// a read-only projection for external report generation.
func (s *BatchService) ExportBatch(ctx context.Context, tenantID, reference string) (domain.Batch, []domain.Registration, error) {
	batch, err := s.repo.GetBatch(ctx, reference, tenantID)
	if err != nil {
		return domain.Batch{}, nil, err
	}
	regs, err := s.repo.ListRegistrations(ctx, batch.ID)
	if err != nil {
		return domain.Batch{}, nil, fmt.Errorf("listing registrations: %w", err)
	}
	return batch, regs, nil
}

// DeleteBatch removes a draft batch and all its registrations in one
// unit of work. Deletion is a mutation like any other: a completed
// payment locks it out. Batches with any payment record, or past
// draft, are never deleted.
func (s *BatchService) DeleteBatch(ctx context.Context, tenantID, reference string) error {
	batch, err := s.repo.GetBatch(ctx, reference, tenantID)
	if err != nil {
		return err
	}
	if !batch.Editable() {
		return &domain.BatchLockedError{Reference: reference, Operation: "delete batch"}
	}
	if batch.Status != domain.BatchDraft {
		return &domain.InvalidOperationError{
			Reason: fmt.Sprintf("batch %s is %s; only draft batches can be deleted", reference, batch.Status),
		}
	}
	recorded, err := s.repo.PaymentRecorded(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("checking payment records: %w", err)
	}
	if recorded {
		return &domain.InvalidOperationError{
			Reason: fmt.Sprintf("batch %s has a payment record and cannot be deleted", reference),
		}
	}

	if err := s.repo.DeleteBatch(ctx, batch); err != nil {
		return err
	}

	s.log.Info("batch deleted", "reference", reference, "tenant_id", tenantID)

	if err := s.publisher.Publish(ctx, domain.ChangeBatchDeleted, batch); err != nil {
		return fmt.Errorf("publishing batch.deleted: %w", err)
	}
	return nil
}

// AddStudent appends one student to an editable batch and recomputes
// pricing from the new count. A concurrent edit triggers one re-read
// and retry before the conflict is surfaced.
func (s *BatchService) AddStudent(ctx context.Context, tenantID, reference string, row domain.ParsedRow) (domain.Registration, domain.Batch, error) {
	if errs := requiredFieldErrors(row); len(errs) > 0 {
		return domain.Registration{}, domain.Batch{}, &domain.ValidationError{Errors: errs}
	}

	var conflict *domain.ConflictError
	for attempt := 0; attempt < conflictAttempts; attempt++ {
		batch, err := s.repo.GetBatch(ctx, reference, tenantID)
		if err != nil {
			return domain.Registration{}, domain.Batch{}, err
		}
		if !batch.Editable() {
			return domain.Registration{}, domain.Batch{}, &domain.BatchLockedError{Reference: reference, Operation: "add student"}
		}

		cfg, err := s.events.GetEvent(ctx, batch.EventID)
		if err != nil {
			return domain.Registration{}, domain.Batch{}, err
		}

		newCount := batch.StudentCount + 1
		batch.ApplyQuote(newCount, domain.ResolvePrice(batch.BaseFee, newCount, cfg.DiscountRules))
		batch.UpdatedAt = time.Now().UTC()

		reg := domain.Registration{
			ID:            uuid.NewString(),
			BatchID:       batch.ID,
			TenantID:      tenantID,
			EventID:       batch.EventID,
			StudentName:   strings.TrimSpace(row.StudentName),
			Grade:         strings.TrimSpace(row.Grade),
			Section:       row.Section,
			ExamDate:      row.ExamDate,
			DynamicFields: row.DynamicFields,
			CreatedAt:     batch.UpdatedAt,
			UpdatedAt:     batch.UpdatedAt,
		}

		err = s.repo.AddRegistration(ctx, batch, reg)
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			return domain.Registration{}, domain.Batch{}, err
		}

		if err := s.publisher.Publish(ctx, domain.ChangeStudentAdded, batch); err != nil {
			return domain.Registration{}, domain.Batch{}, fmt.Errorf("publishing student.added: %w", err)
		}
		return reg, batch, nil
	}

	return domain.Registration{}, domain.Batch{}, conflict
}

// UpdateStudent applies a partial update to one registration. Fields
// absent from the patch are untouched and dynamic fields merge into
// the existing map.
func (s *BatchService) UpdateStudent(ctx context.Context, tenantID, reference, registrationID string, patch domain.RegistrationPatch) (domain.Registration, error) {
	batch, err := s.repo.GetBatch(ctx, reference, tenantID)
	if err != nil {
		return domain.Registration{}, err
	}
	if !batch.Editable() {
		return domain.Registration{}, &domain.BatchLockedError{Reference: reference, Operation: "update student"}
	}

	reg, err := s.repo.GetRegistration(ctx, batch.ID, registrationID)
	if err != nil {
		return domain.Registration{}, err
	}

	patch.Apply(&reg)
	if errs := requiredFieldErrors(domain.ParsedRow{StudentName: reg.StudentName, Grade: reg.Grade}); len(errs) > 0 {
		return domain.Registration{}, &domain.ValidationError{Errors: errs}
	}
	reg.UpdatedAt = time.Now().UTC()

	if err := s.repo.UpdateRegistration(ctx, reg); err != nil {
		return domain.Registration{}, err
	}
	return reg, nil
}

// RemoveStudent deletes one registration from an editable batch and
// recomputes pricing from the reduced count. A batch never drops below
// one student.
func (s *BatchService) RemoveStudent(ctx context.Context, tenantID, reference, registrationID string) (domain.Batch, error) {
	var conflict *domain.ConflictError
	for attempt := 0; attempt < conflictAttempts; attempt++ {
		batch, err := s.repo.GetBatch(ctx, reference, tenantID)
		if err != nil {
			return domain.Batch{}, err
		}
		if !batch.Editable() {
			return domain.Batch{}, &domain.BatchLockedError{Reference: reference, Operation: "remove student"}
		}
		if batch.StudentCount <= 1 {
			return domain.Batch{}, &domain.InvalidOperationError{
				Reason: fmt.Sprintf("batch %s must retain at least one student", reference),
			}
		}
		if _, err := s.repo.GetRegistration(ctx, batch.ID, registrationID); err != nil {
			return domain.Batch{}, err
		}

		cfg, err := s.events.GetEvent(ctx, batch.EventID)
		if err != nil {
			return domain.Batch{}, err
		}

		newCount := batch.StudentCount - 1
		batch.ApplyQuote(newCount, domain.ResolvePrice(batch.BaseFee, newCount, cfg.DiscountRules))
		batch.UpdatedAt = time.Now().UTC()

		err = s.repo.RemoveRegistration(ctx, batch, registrationID)
		if errors.As(err, &conflict) {
			continue
		}
		if err != nil {
			return domain.Batch{}, err
		}

		if err := s.publisher.Publish(ctx, domain.ChangeStudentRemoved, batch); err != nil {
			return domain.Batch{}, fmt.Errorf("publishing student.removed: %w", err)
		}
		return batch, nil
	}

	return domain.Batch{}, conflict
}

// TransitionBatch applies a batch lifecycle event. Confirmation is
// additionally gated on completed payment.
func (s *BatchService) TransitionBatch(ctx context.Context, tenantID, reference string, event domain.BatchEvent) (domain.Batch, error) {
	batch, err := s.repo.GetBatch(ctx, reference, tenantID)
	if err != nil {
		return domain.Batch{}, err
	}
	if event == domain.EventConfirm && batch.PaymentStatus != domain.PaymentCompleted {
		return domain.Batch{}, &domain.InvalidOperationError{
			Reason: fmt.Sprintf("batch %s can be confirmed only after payment completes", reference),
		}
	}

	newStatus, err := s.validator.ApplyBatch(ctx, batch.Status, event)
	if err != nil {
		return domain.Batch{}, err
	}

	batch.Status = newStatus
	batch.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateBatch(ctx, batch); err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

// ApplyPaymentUpdate is the inbound edge of the external payment feed.
// It transitions payment_status, records the payment, and confirms a
// submitted batch once payment completes.
func (s *BatchService) ApplyPaymentUpdate(ctx context.Context, tenantID, reference string, event domain.PaymentEvent) (domain.Batch, error) {
	batch, err := s.repo.GetBatch(ctx, reference, tenantID)
	if err != nil {
		return domain.Batch{}, err
	}

	newStatus, err := s.validator.ApplyPayment(ctx, batch.PaymentStatus, event)
	if err != nil {
		return domain.Batch{}, err
	}

	batch.PaymentStatus = newStatus
	batch.UpdatedAt = time.Now().UTC()
	if err := s.repo.RecordPayment(ctx, batch, newStatus); err != nil {
		return domain.Batch{}, err
	}

	if newStatus == domain.PaymentCompleted && batch.Status == domain.BatchSubmitted {
		// Re-read: RecordPayment bumped the version.
		batch, err = s.repo.GetBatch(ctx, reference, tenantID)
		if err != nil {
			return domain.Batch{}, err
		}
		confirmed, err := s.validator.ApplyBatch(ctx, batch.Status, domain.EventConfirm)
		if err != nil {
			return domain.Batch{}, err
		}
		batch.Status = confirmed
		batch.UpdatedAt = time.Now().UTC()
		if err := s.repo.UpdateBatch(ctx, batch); err != nil {
			return domain.Batch{}, err
		}
	}

	s.log.Info("payment status updated", "reference", reference, "payment_status", newStatus)

	if err := s.publisher.Publish(ctx, domain.ChangePaymentUpdated, batch); err != nil {
		return domain.Batch{}, fmt.Errorf("publishing payment.updated: %w", err)
	}
	return batch, nil
}

// CreateEvent stores event configuration. Admin plumbing around the
// engine, kept thin.
func (s *BatchService) CreateEvent(ctx context.Context, cfg domain.EventConfig) (domain.EventConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.CreatedAt = time.Now().UTC()
	if err := s.events.PutEvent(ctx, cfg); err != nil {
		return domain.EventConfig{}, fmt.Errorf("storing event config: %w", err)
	}
	return cfg, nil
}

// GetEvent returns event configuration by ID.
func (s *BatchService) GetEvent(ctx context.Context, eventID string) (domain.EventConfig, error) {
	return s.events.GetEvent(ctx, eventID)
}

// requiredFieldErrors checks the fields every student must have.
func requiredFieldErrors(row domain.ParsedRow) []domain.RowError {
	var errs []domain.RowError
	if strings.TrimSpace(row.StudentName) == "" {
		errs = append(errs, domain.RowError{Field: "student_name", Message: "required"})
	}
	if strings.TrimSpace(row.Grade) == "" {
		errs = append(errs, domain.RowError{Field: "grade", Message: "required"})
	}
	return errs
}
