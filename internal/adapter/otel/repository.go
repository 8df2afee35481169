package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

const tracerName = "github.com/rosterbatch/rosterbatch/internal/adapter/otel"

// TracingRepository wraps a domain.BatchRepository with OpenTelemetry
// tracing. Each method creates a span with semantic attributes and
// records errors.
type TracingRepository struct {
	next   domain.BatchRepository
	tracer trace.Tracer
}

// Compile-time check: TracingRepository implements domain.BatchRepository.
var _ domain.BatchRepository = (*TracingRepository)(nil)

// NewTracingRepository creates a tracing decorator around the given repository.
func NewTracingRepository(next domain.BatchRepository) *TracingRepository {
	return &TracingRepository{
		next:   next,
		tracer: otel.Tracer(tracerName),
	}
}

func (r *TracingRepository) CreateBatch(ctx context.Context, batch domain.Batch, regs []domain.Registration) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.CreateBatch",
		trace.WithAttributes(
			attribute.String("batch.reference", batch.Reference),
			attribute.String("tenant.id", batch.TenantID),
			attribute.Int("batch.student_count", len(regs)),
		),
	)
	defer span.End()

	err := r.next.CreateBatch(ctx, batch, regs)
	recordError(span, err)
	return err
}

func (r *TracingRepository) GetBatch(ctx context.Context, reference, tenantID string) (domain.Batch, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.GetBatch",
		trace.WithAttributes(
			attribute.String("batch.reference", reference),
			attribute.String("tenant.id", tenantID),
		),
	)
	defer span.End()

	batch, err := r.next.GetBatch(ctx, reference, tenantID)
	recordError(span, err)
	return batch, err
}

func (r *TracingRepository) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.UpdateBatch",
		trace.WithAttributes(
			attribute.String("batch.reference", batch.Reference),
			attribute.String("batch.status", string(batch.Status)),
			attribute.Int64("batch.version", batch.Version),
		),
	)
	defer span.End()

	err := r.next.UpdateBatch(ctx, batch)
	recordError(span, err)
	return err
}

func (r *TracingRepository) DeleteBatch(ctx context.Context, batch domain.Batch) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.DeleteBatch",
		trace.WithAttributes(attribute.String("batch.reference", batch.Reference)),
	)
	defer span.End()

	err := r.next.DeleteBatch(ctx, batch)
	recordError(span, err)
	return err
}

func (r *TracingRepository) ListRegistrations(ctx context.Context, batchID string) ([]domain.Registration, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.ListRegistrations",
		trace.WithAttributes(attribute.String("batch.id", batchID)),
	)
	defer span.End()

	regs, err := r.next.ListRegistrations(ctx, batchID)
	if err != nil {
		recordError(span, err)
	} else {
		span.SetAttributes(attribute.Int("result.count", len(regs)))
	}
	return regs, err
}

func (r *TracingRepository) GetRegistration(ctx context.Context, batchID, registrationID string) (domain.Registration, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.GetRegistration",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.String("registration.id", registrationID),
		),
	)
	defer span.End()

	reg, err := r.next.GetRegistration(ctx, batchID, registrationID)
	recordError(span, err)
	return reg, err
}

func (r *TracingRepository) AddRegistration(ctx context.Context, batch domain.Batch, reg domain.Registration) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.AddRegistration",
		trace.WithAttributes(
			attribute.String("batch.reference", batch.Reference),
			attribute.String("registration.id", reg.ID),
		),
	)
	defer span.End()

	err := r.next.AddRegistration(ctx, batch, reg)
	recordError(span, err)
	return err
}

func (r *TracingRepository) UpdateRegistration(ctx context.Context, reg domain.Registration) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.UpdateRegistration",
		trace.WithAttributes(
			attribute.String("batch.id", reg.BatchID),
			attribute.String("registration.id", reg.ID),
		),
	)
	defer span.End()

	err := r.next.UpdateRegistration(ctx, reg)
	recordError(span, err)
	return err
}

func (r *TracingRepository) RemoveRegistration(ctx context.Context, batch domain.Batch, registrationID string) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.RemoveRegistration",
		trace.WithAttributes(
			attribute.String("batch.reference", batch.Reference),
			attribute.String("registration.id", registrationID),
		),
	)
	defer span.End()

	err := r.next.RemoveRegistration(ctx, batch, registrationID)
	recordError(span, err)
	return err
}

func (r *TracingRepository) RecordPayment(ctx context.Context, batch domain.Batch, status domain.PaymentStatus) error {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.RecordPayment",
		trace.WithAttributes(
			attribute.String("batch.reference", batch.Reference),
			attribute.String("payment.status", string(status)),
		),
	)
	defer span.End()

	err := r.next.RecordPayment(ctx, batch, status)
	recordError(span, err)
	return err
}

func (r *TracingRepository) PaymentRecorded(ctx context.Context, batchID string) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "BatchRepository.PaymentRecorded",
		trace.WithAttributes(attribute.String("batch.id", batchID)),
	)
	defer span.End()

	recorded, err := r.next.PaymentRecorded(ctx, batchID)
	recordError(span, err)
	return recorded, err
}

func recordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
