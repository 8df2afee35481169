package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

// Compile-time check: Publisher implements domain.EventPublisher.
var _ domain.EventPublisher = (*Publisher)(nil)

// ChangeJobArgs carries the data needed to process a domain event
// asynchronously. River serializes this as JSON into its job queue
// table. It includes a snapshot of the batch at the time the event was
// published, so the worker never needs to query the database.
type ChangeJobArgs struct {
	Event         string `json:"event"`
	Reference     string `json:"reference"`
	TenantID      string `json:"tenant_id"`
	EventID       string `json:"event_id"`
	StudentCount  int    `json:"student_count"`
	Total         int64  `json:"total"`
	BatchStatus   string `json:"batch_status"`
	PaymentStatus string `json:"payment_status"`
}

// Kind returns the unique job type identifier used by River's job routing.
func (ChangeJobArgs) Kind() string { return "batch.changed" }

// Client is the River client type parameterized for SQLite (*sql.Tx).
type Client = river.Client[*sql.Tx]

// Publisher implements domain.EventPublisher by enqueuing River jobs.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher backed by the given River client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// Publish enqueues a domain event as an async job in River.
func (p *Publisher) Publish(ctx context.Context, event domain.ChangeEvent, batch domain.Batch) error {
	_, err := p.client.Insert(ctx, ChangeJobArgs{
		Event:         string(event),
		Reference:     batch.Reference,
		TenantID:      batch.TenantID,
		EventID:       batch.EventID,
		StudentCount:  batch.StudentCount,
		Total:         batch.Total,
		BatchStatus:   string(batch.Status),
		PaymentStatus: string(batch.PaymentStatus),
	}, nil)
	if err != nil {
		return fmt.Errorf("enqueuing change job: %w", err)
	}
	return nil
}
