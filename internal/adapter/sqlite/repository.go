package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/rosterbatch/rosterbatch/internal/domain"
	"github.com/rosterbatch/rosterbatch/internal/logger"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time checks: Repository implements the persistence ports.
var (
	_ domain.BatchRepository   = (*Repository)(nil)
	_ domain.EventConfigSource = (*Repository)(nil)
)

// Repository implements batch, registration and event persistence on
// SQLite. Multi-record writes go through a unit of work: a real
// transaction by default, or a sequential compensating fallback for
// stores that cannot provide one (see WithSequentialWrites).
type Repository struct {
	db  *sql.DB
	uow unitOfWork
	log *logger.Logger
}

// Option configures the repository.
type Option func(*Repository)

// WithSequentialWrites replaces the transactional unit of work with
// the sequential compensating fallback. Only for deployments whose
// backing store cannot do multi-statement atomicity; every use is
// logged as weaker than a transaction.
func WithSequentialWrites() Option {
	return func(r *Repository) {
		r.uow = &seqUnitOfWork{db: r.db, log: r.log}
	}
}

// New opens a SQLite database, runs migrations, and returns a ready
// repository.
func New(dataSourceName string, log *logger.Logger, opts ...Option) (*Repository, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection keeps SQLite writes serialized and avoids
	// SQLITE_BUSY under concurrent units of work.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return NewFromDB(db, log, opts...)
}

// NewFromDB wraps an existing database connection, runs migrations,
// and returns a ready repository. Use this when the *sql.DB has been
// pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB, log *logger.Logger, opts ...Option) (*Repository, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	r := &Repository{
		db:  db,
		log: log.With("repo", "sqlite"),
	}
	r.uow = &txUnitOfWork{db: db}

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for use by other
// adapters (e.g., river).
func (r *Repository) DB() *sql.DB {
	return r.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05Z"

const batchColumns = `id, reference, tenant_id, event_id, student_count, currency,
	base_fee, subtotal, discount_pct, discount_amount, total,
	batch_status, payment_status, file_url, version, created_at, updated_at`

const registrationColumns = `id, batch_id, tenant_id, event_id, student_name, grade,
	section, exam_date, dynamic_fields, position, created_at, updated_at`

// --- Batches ---

func (r *Repository) CreateBatch(ctx context.Context, batch domain.Batch, regs []domain.Registration) error {
	steps := make([]step, 0, len(regs)+1)
	steps = append(steps, insertBatchStep(batch))
	for _, reg := range regs {
		steps = append(steps, insertRegistrationStep(reg))
	}

	if err := r.uow.Run(ctx, "create batch", steps); err != nil {
		return r.persistenceErr(batch.Reference, "create", err)
	}
	return nil
}

func (r *Repository) GetBatch(ctx context.Context, reference, tenantID string) (domain.Batch, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE reference = ? AND tenant_id = ?`,
		reference, tenantID,
	)
	return scanBatch(row)
}

func (r *Repository) UpdateBatch(ctx context.Context, batch domain.Batch) error {
	return r.execBatchUpdate(ctx, r.db, batch, "update")
}

func (r *Repository) DeleteBatch(ctx context.Context, batch domain.Batch) error {
	// Fetch the children up front so the fallback path can reinsert
	// them if the batch delete fails.
	regs, err := r.ListRegistrations(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("loading registrations for delete: %w", err)
	}

	steps := []step{
		{
			name: "delete registrations",
			do: func(ctx context.Context, q queryer) error {
				_, err := q.ExecContext(ctx, `DELETE FROM registrations WHERE batch_id = ?`, batch.ID)
				return err
			},
			undo: func(ctx context.Context, q queryer) error {
				for _, reg := range regs {
					if err := execInsertRegistration(ctx, q, reg); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "delete batch",
			do: func(ctx context.Context, q queryer) error {
				res, err := q.ExecContext(ctx,
					`DELETE FROM batches WHERE id = ? AND version = ?`, batch.ID, batch.Version)
				if err != nil {
					return err
				}
				return r.checkBatchWrite(ctx, q, res, batch, "delete")
			},
		},
	}

	if err := r.uow.Run(ctx, "delete batch", steps); err != nil {
		return r.persistenceErr(batch.Reference, "delete", err)
	}
	return nil
}

// --- Registrations ---

func (r *Repository) ListRegistrations(ctx context.Context, batchID string) ([]domain.Registration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE batch_id = ? ORDER BY position`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing registrations: %w", err)
	}
	defer rows.Close()

	var regs []domain.Registration
	for rows.Next() {
		reg, err := scanRegistrationFromRows(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}

	return regs, rows.Err()
}

func (r *Repository) GetRegistration(ctx context.Context, batchID, registrationID string) (domain.Registration, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = ? AND batch_id = ?`,
		registrationID, batchID,
	)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("getting registration: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.Registration{}, fmt.Errorf("getting registration: %w", err)
		}
		return domain.Registration{}, domain.ErrRegistrationNotFound
	}
	return scanRegistrationFromRows(rows)
}

func (r *Repository) AddRegistration(ctx context.Context, batch domain.Batch, reg domain.Registration) error {
	reg.BatchID = batch.ID

	steps := []step{
		{
			name: "insert registration",
			do: func(ctx context.Context, q queryer) error {
				dynamic, err := marshalDynamic(reg.DynamicFields)
				if err != nil {
					return err
				}
				// Position is assigned at the end of the roster.
				_, err = q.ExecContext(ctx,
					`INSERT INTO registrations (`+registrationColumns+`)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?,
					         (SELECT COALESCE(MAX(position), 0) + 1 FROM registrations WHERE batch_id = ?),
					         ?, ?)`,
					reg.ID, reg.BatchID, reg.TenantID, reg.EventID, reg.StudentName, reg.Grade,
					reg.Section, reg.ExamDate, dynamic, reg.BatchID,
					reg.CreatedAt.Format(timeFormat), reg.UpdatedAt.Format(timeFormat),
				)
				return err
			},
			undo: func(ctx context.Context, q queryer) error {
				_, err := q.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, reg.ID)
				return err
			},
		},
		r.updateBatchStep(batch, "add registration"),
	}

	if err := r.uow.Run(ctx, "add registration", steps); err != nil {
		return r.persistenceErr(batch.Reference, "add registration", err)
	}
	return nil
}

func (r *Repository) UpdateRegistration(ctx context.Context, reg domain.Registration) error {
	dynamic, err := marshalDynamic(reg.DynamicFields)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE registrations
		 SET student_name = ?, grade = ?, section = ?, exam_date = ?, dynamic_fields = ?, updated_at = ?
		 WHERE id = ? AND batch_id = ?`,
		reg.StudentName, reg.Grade, reg.Section, reg.ExamDate, dynamic,
		reg.UpdatedAt.Format(timeFormat), reg.ID, reg.BatchID,
	)
	if err != nil {
		return fmt.Errorf("updating registration: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrRegistrationNotFound
	}
	return nil
}

func (r *Repository) RemoveRegistration(ctx context.Context, batch domain.Batch, registrationID string) error {
	// Fetch the row up front so the fallback path can reinsert it.
	reg, err := r.GetRegistration(ctx, batch.ID, registrationID)
	if err != nil {
		return err
	}

	steps := []step{
		{
			name: "delete registration",
			do: func(ctx context.Context, q queryer) error {
				_, err := q.ExecContext(ctx,
					`DELETE FROM registrations WHERE id = ? AND batch_id = ?`, registrationID, batch.ID)
				return err
			},
			undo: func(ctx context.Context, q queryer) error {
				return execInsertRegistration(ctx, q, reg)
			},
		},
		r.updateBatchStep(batch, "remove registration"),
	}

	if err := r.uow.Run(ctx, "remove registration", steps); err != nil {
		return r.persistenceErr(batch.Reference, "remove registration", err)
	}
	return nil
}

// --- Payments ---

func (r *Repository) RecordPayment(ctx context.Context, batch domain.Batch, status domain.PaymentStatus) error {
	paymentID := uuid.NewString()

	steps := []step{
		{
			name: "insert payment record",
			do: func(ctx context.Context, q queryer) error {
				_, err := q.ExecContext(ctx,
					`INSERT INTO payments (id, batch_id, status, recorded_at) VALUES (?, ?, ?, ?)`,
					paymentID, batch.ID, string(status), time.Now().UTC().Format(timeFormat),
				)
				return err
			},
			undo: func(ctx context.Context, q queryer) error {
				_, err := q.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, paymentID)
				return err
			},
		},
		r.updateBatchStep(batch, "record payment"),
	}

	if err := r.uow.Run(ctx, "record payment", steps); err != nil {
		return r.persistenceErr(batch.Reference, "record payment", err)
	}
	return nil
}

func (r *Repository) PaymentRecorded(ctx context.Context, batchID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM payments WHERE batch_id = ?`, batchID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting payment records: %w", err)
	}
	return count > 0, nil
}

// --- Events ---

func (r *Repository) GetEvent(ctx context.Context, eventID string) (domain.EventConfig, error) {
	var cfg domain.EventConfig
	var opensAt, closesAt, createdAt, baseFees, rules, schema string

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, opens_at, closes_at, base_fees, discount_rules, form_schema, created_at
		 FROM events WHERE id = ?`, eventID,
	).Scan(&cfg.ID, &cfg.Name, &opensAt, &closesAt, &baseFees, &rules, &schema, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.EventConfig{}, domain.ErrEventNotFound
		}
		return domain.EventConfig{}, fmt.Errorf("scanning event: %w", err)
	}

	cfg.OpensAt, _ = time.Parse(timeFormat, opensAt)
	cfg.ClosesAt, _ = time.Parse(timeFormat, closesAt)
	cfg.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	if err := json.Unmarshal([]byte(baseFees), &cfg.BaseFees); err != nil {
		return domain.EventConfig{}, fmt.Errorf("decoding base fees: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &cfg.DiscountRules); err != nil {
		return domain.EventConfig{}, fmt.Errorf("decoding discount rules: %w", err)
	}
	if err := json.Unmarshal([]byte(schema), &cfg.FormSchema); err != nil {
		return domain.EventConfig{}, fmt.Errorf("decoding form schema: %w", err)
	}

	return cfg, nil
}

func (r *Repository) PutEvent(ctx context.Context, cfg domain.EventConfig) error {
	baseFees, err := json.Marshal(cfg.BaseFees)
	if err != nil {
		return fmt.Errorf("encoding base fees: %w", err)
	}
	rules, err := json.Marshal(cfg.DiscountRules)
	if err != nil {
		return fmt.Errorf("encoding discount rules: %w", err)
	}
	schema, err := json.Marshal(cfg.FormSchema)
	if err != nil {
		return fmt.Errorf("encoding form schema: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO events (id, name, opens_at, closes_at, base_fees, discount_rules, form_schema, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, opens_at = excluded.opens_at, closes_at = excluded.closes_at,
		   base_fees = excluded.base_fees, discount_rules = excluded.discount_rules,
		   form_schema = excluded.form_schema`,
		cfg.ID, cfg.Name, cfg.OpensAt.Format(timeFormat), cfg.ClosesAt.Format(timeFormat),
		string(baseFees), string(rules), string(schema), cfg.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting event: %w", err)
	}
	return nil
}

// --- Steps and helpers ---

func insertBatchStep(b domain.Batch) step {
	return step{
		name: "insert batch",
		do: func(ctx context.Context, q queryer) error {
			_, err := q.ExecContext(ctx,
				`INSERT INTO batches (`+batchColumns+`)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				b.ID, b.Reference, b.TenantID, b.EventID, b.StudentCount, b.Currency,
				b.BaseFee, b.Subtotal, b.DiscountPct, b.DiscountAmount, b.Total,
				string(b.Status), string(b.PaymentStatus), b.FileURL, b.Version,
				b.CreatedAt.Format(timeFormat), b.UpdatedAt.Format(timeFormat),
			)
			return err
		},
		undo: func(ctx context.Context, q queryer) error {
			_, err := q.ExecContext(ctx, `DELETE FROM batches WHERE id = ?`, b.ID)
			return err
		},
	}
}

func insertRegistrationStep(reg domain.Registration) step {
	return step{
		name: "insert registration",
		do: func(ctx context.Context, q queryer) error {
			return execInsertRegistration(ctx, q, reg)
		},
		undo: func(ctx context.Context, q queryer) error {
			_, err := q.ExecContext(ctx, `DELETE FROM registrations WHERE id = ?`, reg.ID)
			return err
		},
	}
}

func execInsertRegistration(ctx context.Context, q queryer, reg domain.Registration) error {
	dynamic, err := marshalDynamic(reg.DynamicFields)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, reg.BatchID, reg.TenantID, reg.EventID, reg.StudentName, reg.Grade,
		reg.Section, reg.ExamDate, dynamic, reg.Position,
		reg.CreatedAt.Format(timeFormat), reg.UpdatedAt.Format(timeFormat),
	)
	return err
}

// updateBatchStep is the versioned batch write. It is always the last
// step of a unit of work so the sequential fallback never has to undo
// it.
func (r *Repository) updateBatchStep(b domain.Batch, operation string) step {
	return step{
		name: "update batch",
		do: func(ctx context.Context, q queryer) error {
			return r.execBatchUpdateQ(ctx, q, b, operation)
		},
	}
}

func (r *Repository) execBatchUpdate(ctx context.Context, q queryer, b domain.Batch, operation string) error {
	if err := r.execBatchUpdateQ(ctx, q, b, operation); err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) || errors.Is(err, domain.ErrBatchNotFound) {
			return err
		}
		return &domain.PersistenceError{Reference: b.Reference, Operation: operation, Err: err}
	}
	return nil
}

// execBatchUpdateQ performs the optimistic write: the UPDATE targets
// the version the caller read and bumps it. Zero rows affected means
// either the batch vanished or its version moved; the two are
// distinguished so conflicts stay retryable.
func (r *Repository) execBatchUpdateQ(ctx context.Context, q queryer, b domain.Batch, operation string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE batches
		 SET student_count = ?, subtotal = ?, discount_pct = ?, discount_amount = ?, total = ?,
		     batch_status = ?, payment_status = ?, file_url = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		b.StudentCount, b.Subtotal, b.DiscountPct, b.DiscountAmount, b.Total,
		string(b.Status), string(b.PaymentStatus), b.FileURL,
		b.UpdatedAt.Format(timeFormat), b.ID, b.Version,
	)
	if err != nil {
		return err
	}
	return r.checkBatchWrite(ctx, q, res, b, operation)
}

// checkBatchWrite translates a zero-row versioned write into either a
// not-found or a retryable conflict.
func (r *Repository) checkBatchWrite(ctx context.Context, q queryer, res sql.Result, b domain.Batch, operation string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM batches WHERE id = ?`, b.ID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("checking batch existence: %w", err)
	}
	if exists == 0 {
		return domain.ErrBatchNotFound
	}
	return &domain.ConflictError{Reference: b.Reference, Operation: operation}
}

// persistenceErr wraps unit-of-work failures, letting conflicts and
// not-found pass through untouched so callers can retry or 404.
func (r *Repository) persistenceErr(reference, operation string, err error) error {
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		return err
	}
	if errors.Is(err, domain.ErrBatchNotFound) || errors.Is(err, domain.ErrRegistrationNotFound) {
		return err
	}
	r.log.Error("unit of work failed", "reference", reference, "operation", operation, "error", err)
	return &domain.PersistenceError{Reference: reference, Operation: operation, Err: err}
}

func marshalDynamic(fields map[string]string) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding dynamic fields: %w", err)
	}
	return string(b), nil
}

func scanBatch(row *sql.Row) (domain.Batch, error) {
	var b domain.Batch
	var status, paymentStatus, createdAt, updatedAt string

	err := row.Scan(&b.ID, &b.Reference, &b.TenantID, &b.EventID, &b.StudentCount, &b.Currency,
		&b.BaseFee, &b.Subtotal, &b.DiscountPct, &b.DiscountAmount, &b.Total,
		&status, &paymentStatus, &b.FileURL, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Batch{}, domain.ErrBatchNotFound
		}
		return domain.Batch{}, fmt.Errorf("scanning batch: %w", err)
	}

	b.Status = domain.BatchStatus(status)
	b.PaymentStatus = domain.PaymentStatus(paymentStatus)
	b.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	b.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return b, nil
}

func scanRegistrationFromRows(rows *sql.Rows) (domain.Registration, error) {
	var reg domain.Registration
	var dynamic, createdAt, updatedAt string

	err := rows.Scan(&reg.ID, &reg.BatchID, &reg.TenantID, &reg.EventID, &reg.StudentName, &reg.Grade,
		&reg.Section, &reg.ExamDate, &dynamic, &reg.Position, &createdAt, &updatedAt)
	if err != nil {
		return domain.Registration{}, fmt.Errorf("scanning registration: %w", err)
	}

	if dynamic != "" && dynamic != "{}" {
		if err := json.Unmarshal([]byte(dynamic), &reg.DynamicFields); err != nil {
			return domain.Registration{}, fmt.Errorf("decoding dynamic fields: %w", err)
		}
	}
	reg.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	reg.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)

	return reg, nil
}
