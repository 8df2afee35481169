package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rosterbatch/rosterbatch/internal/adapter/sqlite"
	"github.com/rosterbatch/rosterbatch/internal/domain"
	"github.com/rosterbatch/rosterbatch/internal/logger"
)

func newTestRepo(t *testing.T, opts ...sqlite.Option) *sqlite.Repository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	repo, err := sqlite.New(dsn, logger.NewNop(), opts...)
	if err != nil {
		t.Fatalf("creating repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testBatch(reference string) domain.Batch {
	b := domain.NewBatch("batch-"+reference, reference, "tenant-1", "event-1", "INR", 100)
	b.ApplyQuote(2, domain.PriceQuote{Subtotal: 200, DiscountPct: 0, DiscountAmount: 0, Total: 200})
	return b
}

func testReg(id, batchID string, position int) domain.Registration {
	now := time.Now().UTC()
	return domain.Registration{
		ID:          id,
		BatchID:     batchID,
		TenantID:    "tenant-1",
		EventID:     "event-1",
		StudentName: "Student " + id,
		Grade:       "5",
		Section:     "A",
		Position:    position,
		DynamicFields: map[string]string{
			"house": "blue",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func seedBatch(t *testing.T, repo *sqlite.Repository, reference string, regCount int) domain.Batch {
	t.Helper()

	b := testBatch(reference)
	b.StudentCount = regCount
	regs := make([]domain.Registration, 0, regCount)
	for i := 1; i <= regCount; i++ {
		regs = append(regs, testReg(reference+"-reg-"+string(rune('0'+i)), b.ID, i))
	}
	if err := repo.CreateBatch(context.Background(), b, regs); err != nil {
		t.Fatalf("seeding batch: %v", err)
	}
	return b
}

func TestCreateAndGetBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	seedBatch(t, repo, "SPRN-AAAAAA", 2)

	got, err := repo.GetBatch(ctx, "SPRN-AAAAAA", "tenant-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != domain.BatchDraft {
		t.Errorf("status = %q, want draft", got.Status)
	}
	if got.PaymentStatus != domain.PaymentPending {
		t.Errorf("payment status = %q, want pending", got.PaymentStatus)
	}
	if got.Subtotal != 200 || got.Total != 200 {
		t.Errorf("pricing = %d/%d, want 200/200", got.Subtotal, got.Total)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}

	regs, err := repo.ListRegistrations(ctx, got.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 2 {
		t.Fatalf("got %d registrations, want 2", len(regs))
	}
	for i, reg := range regs {
		if reg.Position != i+1 {
			t.Errorf("registration %d position = %d, want %d", i, reg.Position, i+1)
		}
	}
	if regs[0].DynamicFields["house"] != "blue" {
		t.Errorf("dynamic fields did not round-trip: %v", regs[0].DynamicFields)
	}
}

func TestGetBatchWrongTenant(t *testing.T) {
	repo := newTestRepo(t)

	seedBatch(t, repo, "SPRN-BBBBBB", 1)

	_, err := repo.GetBatch(context.Background(), "SPRN-BBBBBB", "other-tenant")
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestUpdateBatchBumpsVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-CCCCCC", 1)

	b.Status = domain.BatchSubmitted
	b.UpdatedAt = time.Now().UTC()
	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("UpdateBatch: %v", err)
	}

	got, err := repo.GetBatch(ctx, b.Reference, b.TenantID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != domain.BatchSubmitted {
		t.Errorf("status = %q, want submitted", got.Status)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestUpdateBatchStaleVersion(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-DDDDDD", 1)

	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second write with the version the first one already consumed.
	err := repo.UpdateBatch(ctx, b)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}
}

func TestUpdateBatchMissing(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.UpdateBatch(context.Background(), testBatch("SPRN-EEEEEE"))
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestAddRegistrationAssignsPosition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-FFFFFF", 2)

	b.StudentCount = 3
	b.UpdatedAt = time.Now().UTC()
	if err := repo.AddRegistration(ctx, b, testReg("new-reg", b.ID, 0)); err != nil {
		t.Fatalf("AddRegistration: %v", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 3 {
		t.Fatalf("got %d registrations, want 3", len(regs))
	}
	if regs[2].ID != "new-reg" || regs[2].Position != 3 {
		t.Errorf("new registration = %q at position %d, want new-reg at 3", regs[2].ID, regs[2].Position)
	}

	got, err := repo.GetBatch(ctx, b.Reference, b.TenantID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.StudentCount != 3 {
		t.Errorf("student count = %d, want 3", got.StudentCount)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestAddRegistrationConflictLeavesNothingBehind(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-GGGGGG", 1)

	// Bump the version out from under the caller.
	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	err := repo.AddRegistration(ctx, b, testReg("orphan-reg", b.ID, 0))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("got %d registrations after failed add, want 1", len(regs))
	}
}

func TestRemoveRegistration(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-HHHHHH", 2)

	b.StudentCount = 1
	b.UpdatedAt = time.Now().UTC()
	if err := repo.RemoveRegistration(ctx, b, "SPRN-HHHHHH-reg-1"); err != nil {
		t.Fatalf("RemoveRegistration: %v", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 1 || regs[0].ID != "SPRN-HHHHHH-reg-2" {
		t.Fatalf("remaining registrations = %v", regs)
	}

	err = repo.RemoveRegistration(ctx, b, "no-such-reg")
	if !errors.Is(err, domain.ErrRegistrationNotFound) {
		t.Fatalf("err = %v, want ErrRegistrationNotFound", err)
	}
}

func TestUpdateRegistration(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-JJJJJJ", 1)

	reg, err := repo.GetRegistration(ctx, b.ID, "SPRN-JJJJJJ-reg-1")
	if err != nil {
		t.Fatalf("GetRegistration: %v", err)
	}

	reg.Grade = "6"
	reg.DynamicFields["house"] = "red"
	reg.UpdatedAt = time.Now().UTC()
	if err := repo.UpdateRegistration(ctx, reg); err != nil {
		t.Fatalf("UpdateRegistration: %v", err)
	}

	got, err := repo.GetRegistration(ctx, b.ID, reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration after update: %v", err)
	}
	if got.Grade != "6" || got.DynamicFields["house"] != "red" {
		t.Errorf("update did not persist: grade=%q dynamic=%v", got.Grade, got.DynamicFields)
	}

	reg.ID = "no-such-reg"
	if err := repo.UpdateRegistration(ctx, reg); !errors.Is(err, domain.ErrRegistrationNotFound) {
		t.Fatalf("err = %v, want ErrRegistrationNotFound", err)
	}
}

func TestDeleteBatch(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-KKKKKK", 2)

	if err := repo.DeleteBatch(ctx, b); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}

	if _, err := repo.GetBatch(ctx, b.Reference, b.TenantID); !errors.Is(err, domain.ErrBatchNotFound) {
		t.Fatalf("err = %v, want ErrBatchNotFound", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 0 {
		t.Fatalf("got %d registrations after delete, want 0", len(regs))
	}
}

func TestDeleteBatchStaleVersionKeepsRegistrations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-MMMMMM", 2)

	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	err := repo.DeleteBatch(ctx, b)
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 2 {
		t.Fatalf("got %d registrations after failed delete, want 2", len(regs))
	}
}

func TestRecordPayment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-NNNNNN", 1)

	recorded, err := repo.PaymentRecorded(ctx, b.ID)
	if err != nil {
		t.Fatalf("PaymentRecorded: %v", err)
	}
	if recorded {
		t.Fatal("payment recorded before any payment update")
	}

	b.PaymentStatus = domain.PaymentProcessing
	b.UpdatedAt = time.Now().UTC()
	if err := repo.RecordPayment(ctx, b, domain.PaymentProcessing); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	recorded, err = repo.PaymentRecorded(ctx, b.ID)
	if err != nil {
		t.Fatalf("PaymentRecorded: %v", err)
	}
	if !recorded {
		t.Fatal("payment not recorded")
	}

	got, err := repo.GetBatch(ctx, b.Reference, b.TenantID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.PaymentStatus != domain.PaymentProcessing {
		t.Errorf("payment status = %q, want processing", got.PaymentStatus)
	}
	if got.Version != 2 {
		t.Errorf("version = %d, want 2", got.Version)
	}
}

func TestPutAndGetEvent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := domain.EventConfig{
		ID:       "event-1",
		Name:     "Spring Science Fair",
		OpensAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ClosesAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		BaseFees: map[string]int64{"INR": 100, "USD": 5},
		DiscountRules: []domain.DiscountRule{
			{MinStudents: 3, DiscountPct: 10},
		},
		FormSchema: []domain.FormField{
			{ID: "student_name", Label: "Student name", Required: true},
			{ID: "grade", Label: "Grade", Required: true},
			{ID: "house", Label: "House", Required: false},
		},
		CreatedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := repo.PutEvent(ctx, cfg); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}

	got, err := repo.GetEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.Name != cfg.Name {
		t.Errorf("name = %q, want %q", got.Name, cfg.Name)
	}
	if got.BaseFees["INR"] != 100 || got.BaseFees["USD"] != 5 {
		t.Errorf("base fees did not round-trip: %v", got.BaseFees)
	}
	if len(got.DiscountRules) != 1 || got.DiscountRules[0].DiscountPct != 10 {
		t.Errorf("discount rules did not round-trip: %v", got.DiscountRules)
	}
	if len(got.FormSchema) != 3 || !got.FormSchema[0].Required {
		t.Errorf("form schema did not round-trip: %v", got.FormSchema)
	}
	if !got.OpensAt.Equal(cfg.OpensAt) {
		t.Errorf("opens at = %v, want %v", got.OpensAt, cfg.OpensAt)
	}

	// Upsert replaces the configuration in place.
	cfg.Name = "Spring Science Fair 2026"
	if err := repo.PutEvent(ctx, cfg); err != nil {
		t.Fatalf("PutEvent upsert: %v", err)
	}
	got, err = repo.GetEvent(ctx, "event-1")
	if err != nil {
		t.Fatalf("GetEvent after upsert: %v", err)
	}
	if got.Name != "Spring Science Fair 2026" {
		t.Errorf("name after upsert = %q", got.Name)
	}

	if _, err := repo.GetEvent(ctx, "no-such-event"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}

func TestSequentialFallbackCompensatesFailedAdd(t *testing.T) {
	repo := newTestRepo(t, sqlite.WithSequentialWrites())
	ctx := context.Background()

	b := seedBatch(t, repo, "SPRN-PPPPPP", 1)

	// The registration insert succeeds, then the versioned batch update
	// fails; the fallback must undo the insert.
	if err := repo.UpdateBatch(ctx, b); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	err := repo.AddRegistration(ctx, b, testReg("orphan-reg", b.ID, 0))
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	regs, err := repo.ListRegistrations(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("got %d registrations after compensation, want 1", len(regs))
	}
}

func TestSequentialFallbackCreateBatch(t *testing.T) {
	repo := newTestRepo(t, sqlite.WithSequentialWrites())
	ctx := context.Background()

	seedBatch(t, repo, "SPRN-QQQQQQ", 3)

	got, err := repo.GetBatch(ctx, "SPRN-QQQQQQ", "tenant-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	regs, err := repo.ListRegistrations(ctx, got.ID)
	if err != nil {
		t.Fatalf("ListRegistrations: %v", err)
	}
	if len(regs) != 3 {
		t.Fatalf("got %d registrations, want 3", len(regs))
	}
}
