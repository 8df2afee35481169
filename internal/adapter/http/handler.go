package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/rosterbatch/rosterbatch/internal/app"
	"github.com/rosterbatch/rosterbatch/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// BatchResponse is the API representation of a batch.
type BatchResponse struct {
	Reference      string `json:"reference" doc:"Human-facing batch identifier"`
	EventID        string `json:"event_id" doc:"Event the batch registers for"`
	StudentCount   int    `json:"student_count" doc:"Number of students"`
	Currency       string `json:"currency" doc:"ISO currency code"`
	BaseFee        int64  `json:"base_fee" doc:"Per-student fee in minor units"`
	Subtotal       int64  `json:"subtotal" doc:"Fee times student count, minor units"`
	DiscountPct    int    `json:"discount_pct" doc:"Applied discount percentage"`
	DiscountAmount int64  `json:"discount_amount" doc:"Discount in minor units"`
	Total          int64  `json:"total" doc:"Amount payable in minor units"`
	Status         string `json:"status" doc:"Batch lifecycle state"`
	PaymentStatus  string `json:"payment_status" doc:"Payment subsystem state"`
	FileURL        string `json:"file_url,omitempty" doc:"Stored upload location"`
	Editable       bool   `json:"editable" doc:"Whether students can still be changed"`
	CreatedAt      string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt      string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toBatchResponse(b domain.Batch) BatchResponse {
	return BatchResponse{
		Reference:      b.Reference,
		EventID:        b.EventID,
		StudentCount:   b.StudentCount,
		Currency:       b.Currency,
		BaseFee:        b.BaseFee,
		Subtotal:       b.Subtotal,
		DiscountPct:    b.DiscountPct,
		DiscountAmount: b.DiscountAmount,
		Total:          b.Total,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		FileURL:        b.FileURL,
		Editable:       b.Editable(),
		CreatedAt:      b.CreatedAt.Format(timeFormat),
		UpdatedAt:      b.UpdatedAt.Format(timeFormat),
	}
}

// RegistrationResponse is the API representation of one student row.
type RegistrationResponse struct {
	ID            string            `json:"id" doc:"Registration identifier"`
	StudentName   string            `json:"student_name"`
	Grade         string            `json:"grade"`
	Section       string            `json:"section,omitempty"`
	ExamDate      string            `json:"exam_date,omitempty"`
	DynamicFields map[string]string `json:"dynamic_fields,omitempty" doc:"Schema-defined extra fields"`
	Position      int               `json:"position" doc:"Stable roster order"`
}

func toRegistrationResponse(r domain.Registration) RegistrationResponse {
	return RegistrationResponse{
		ID:            r.ID,
		StudentName:   r.StudentName,
		Grade:         r.Grade,
		Section:       r.Section,
		ExamDate:      r.ExamDate,
		DynamicFields: r.DynamicFields,
		Position:      r.Position,
	}
}

func toRegistrationResponses(regs []domain.Registration) []RegistrationResponse {
	out := make([]RegistrationResponse, len(regs))
	for i, r := range regs {
		out[i] = toRegistrationResponse(r)
	}
	return out
}

// EventResponse is the API representation of event configuration.
type EventResponse struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	OpensAt       string                `json:"opens_at" doc:"Registration window start (ISO 8601)"`
	ClosesAt      string                `json:"closes_at" doc:"Registration window end (ISO 8601)"`
	BaseFees      map[string]int64      `json:"base_fees" doc:"Per-currency fee per student, minor units"`
	DiscountRules []domain.DiscountRule `json:"discount_rules,omitempty"`
	FormSchema    []domain.FormField    `json:"form_schema,omitempty"`
}

func toEventResponse(cfg domain.EventConfig) EventResponse {
	return EventResponse{
		ID:            cfg.ID,
		Name:          cfg.Name,
		OpensAt:       cfg.OpensAt.Format(timeFormat),
		ClosesAt:      cfg.ClosesAt.Format(timeFormat),
		BaseFees:      cfg.BaseFees,
		DiscountRules: cfg.DiscountRules,
		FormSchema:    cfg.FormSchema,
	}
}

// --- Create Event ---

type CreateEventInput struct {
	Body struct {
		ID            string                `json:"id,omitempty" doc:"Optional fixed identifier"`
		Name          string                `json:"name" minLength:"1" maxLength:"255"`
		OpensAt       time.Time             `json:"opens_at"`
		ClosesAt      time.Time             `json:"closes_at"`
		BaseFees      map[string]int64      `json:"base_fees" doc:"Per-currency fee per student, minor units"`
		DiscountRules []domain.DiscountRule `json:"discount_rules,omitempty"`
		FormSchema    []domain.FormField    `json:"form_schema,omitempty"`
	}
}

type CreateEventOutput struct {
	Body EventResponse
}

// --- Get Event ---

type GetEventInput struct {
	ID string `path:"id" doc:"Event ID"`
}

type GetEventOutput struct {
	Body EventResponse
}

// --- Validate Sheet ---

type ValidateSheetInput struct {
	TenantID string `header:"X-Tenant-ID" doc:"Tenant performing the upload"`
	EventID  string `path:"id" doc:"Event ID"`
	Body     struct {
		File string `json:"file" minLength:"1" doc:"Roster CSV content"`
	}
}

type ValidateSheetOutput struct {
	Body struct {
		ValidationID string             `json:"validation_id,omitempty" doc:"Pass to batch creation to skip re-parsing"`
		Valid        int                `json:"valid"`
		Invalid      int                `json:"invalid"`
		Errors       []domain.RowError  `json:"errors,omitempty"`
		Rows         []domain.ParsedRow `json:"rows,omitempty"`
	}
}

// --- Create Batch ---

type CreateBatchInput struct {
	TenantID string `header:"X-Tenant-ID" doc:"Tenant committing the batch"`
	Body     struct {
		EventID      string `json:"event_id" minLength:"1"`
		Currency     string `json:"currency" minLength:"3" maxLength:"3" doc:"ISO currency code"`
		ValidationID string `json:"validation_id,omitempty" doc:"ID from a prior validation call"`
		File         string `json:"file,omitempty" doc:"Roster CSV content, required if no valid validation_id"`
	}
}

type CreateBatchOutput struct {
	Body struct {
		Batch         BatchResponse          `json:"batch"`
		Registrations []RegistrationResponse `json:"registrations"`
	}
}

// --- Get / Delete Batch ---

type GetBatchInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference" doc:"Batch reference"`
}

type GetBatchOutput struct {
	Body BatchResponse
}

type DeleteBatchInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference"`
}

type DeleteBatchOutput struct{}

// --- Students ---

type AddStudentInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference"`
	Body      struct {
		StudentName   string            `json:"student_name" minLength:"1"`
		Grade         string            `json:"grade" minLength:"1"`
		Section       string            `json:"section,omitempty"`
		ExamDate      string            `json:"exam_date,omitempty"`
		DynamicFields map[string]string `json:"dynamic_fields,omitempty"`
	}
}

type AddStudentOutput struct {
	Body struct {
		Registration RegistrationResponse `json:"registration"`
		Batch        BatchResponse        `json:"batch"`
	}
}

type UpdateStudentInput struct {
	TenantID       string `header:"X-Tenant-ID"`
	Reference      string `path:"reference"`
	RegistrationID string `path:"registrationId"`
	Body           struct {
		StudentName   *string           `json:"student_name,omitempty"`
		Grade         *string           `json:"grade,omitempty"`
		Section       *string           `json:"section,omitempty"`
		ExamDate      *string           `json:"exam_date,omitempty"`
		DynamicFields map[string]string `json:"dynamic_fields,omitempty" doc:"Merged into existing fields"`
	}
}

type UpdateStudentOutput struct {
	Body RegistrationResponse
}

type RemoveStudentInput struct {
	TenantID       string `header:"X-Tenant-ID"`
	Reference      string `path:"reference"`
	RegistrationID string `path:"registrationId"`
}

type RemoveStudentOutput struct {
	Body BatchResponse
}

// --- Transitions ---

type TransitionBatchInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference"`
	Body      struct {
		Event string `json:"event" doc:"Lifecycle event to trigger" enum:"submit,confirm,cancel"`
	}
}

type TransitionBatchOutput struct {
	Body BatchResponse
}

type PaymentUpdateInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference"`
	Body      struct {
		Event string `json:"event" doc:"Payment feed event" enum:"start_processing,complete,fail,retry"`
	}
}

type PaymentUpdateOutput struct {
	Body BatchResponse
}

// --- Export ---

type ExportBatchInput struct {
	TenantID  string `header:"X-Tenant-ID"`
	Reference string `path:"reference"`
}

type ExportBatchOutput struct {
	Body struct {
		Batch         BatchResponse          `json:"batch"`
		Registrations []RegistrationResponse `json:"registrations" doc:"In stable roster order"`
	}
}

// Register adds all batch API routes to the Huma API.
func Register(api huma.API, svc *app.BatchService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-event",
		Method:      http.MethodPost,
		Path:        "/api/v1/events",
		Summary:     "Create event configuration",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *CreateEventInput) (*CreateEventOutput, error) {
		cfg, err := svc.CreateEvent(ctx, domain.EventConfig{
			ID:            input.Body.ID,
			Name:          input.Body.Name,
			OpensAt:       input.Body.OpensAt,
			ClosesAt:      input.Body.ClosesAt,
			BaseFees:      input.Body.BaseFees,
			DiscountRules: input.Body.DiscountRules,
			FormSchema:    input.Body.FormSchema,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &CreateEventOutput{Body: toEventResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-event",
		Method:      http.MethodGet,
		Path:        "/api/v1/events/{id}",
		Summary:     "Get event configuration",
		Tags:        []string{"Events"},
	}, func(ctx context.Context, input *GetEventInput) (*GetEventOutput, error) {
		cfg, err := svc.GetEvent(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetEventOutput{Body: toEventResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-sheet",
		Method:      http.MethodPost,
		Path:        "/api/v1/events/{id}/validations",
		Summary:     "Validate a roster upload",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *ValidateSheetInput) (*ValidateSheetOutput, error) {
		result, validationID, err := svc.ValidateSheet(ctx, input.TenantID, input.EventID, []byte(input.Body.File))
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &ValidateSheetOutput{}
		out.Body.ValidationID = validationID
		out.Body.Valid = result.Valid
		out.Body.Invalid = result.Invalid
		out.Body.Errors = result.Errors
		out.Body.Rows = result.Rows
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-batch",
		Method:        http.MethodPost,
		Path:          "/api/v1/batches",
		Summary:       "Commit a validated roster as a priced batch",
		Tags:          []string{"Batches"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateBatchInput) (*CreateBatchOutput, error) {
		batch, regs, err := svc.CreateBatch(ctx,
			input.TenantID, input.Body.EventID, input.Body.ValidationID,
			input.Body.Currency, []byte(input.Body.File))
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &CreateBatchOutput{}
		out.Body.Batch = toBatchResponse(batch)
		out.Body.Registrations = toRegistrationResponses(regs)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-batch",
		Method:      http.MethodGet,
		Path:        "/api/v1/batches/{reference}",
		Summary:     "Get a batch by reference",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *GetBatchInput) (*GetBatchOutput, error) {
		batch, err := svc.GetBatch(ctx, input.TenantID, input.Reference)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetBatchOutput{Body: toBatchResponse(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-batch",
		Method:        http.MethodDelete,
		Path:          "/api/v1/batches/{reference}",
		Summary:       "Delete a draft batch",
		Tags:          []string{"Batches"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *DeleteBatchInput) (*DeleteBatchOutput, error) {
		if err := svc.DeleteBatch(ctx, input.TenantID, input.Reference); err != nil {
			return nil, toHumaError(err)
		}
		return &DeleteBatchOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-student",
		Method:        http.MethodPost,
		Path:          "/api/v1/batches/{reference}/students",
		Summary:       "Add a student to an editable batch",
		Tags:          []string{"Students"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *AddStudentInput) (*AddStudentOutput, error) {
		reg, batch, err := svc.AddStudent(ctx, input.TenantID, input.Reference, domain.ParsedRow{
			StudentName:   input.Body.StudentName,
			Grade:         input.Body.Grade,
			Section:       input.Body.Section,
			ExamDate:      input.Body.ExamDate,
			DynamicFields: input.Body.DynamicFields,
		})
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &AddStudentOutput{}
		out.Body.Registration = toRegistrationResponse(reg)
		out.Body.Batch = toBatchResponse(batch)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-student",
		Method:      http.MethodPatch,
		Path:        "/api/v1/batches/{reference}/students/{registrationId}",
		Summary:     "Partially update a student",
		Tags:        []string{"Students"},
	}, func(ctx context.Context, input *UpdateStudentInput) (*UpdateStudentOutput, error) {
		reg, err := svc.UpdateStudent(ctx, input.TenantID, input.Reference, input.RegistrationID,
			domain.RegistrationPatch{
				StudentName:   input.Body.StudentName,
				Grade:         input.Body.Grade,
				Section:       input.Body.Section,
				ExamDate:      input.Body.ExamDate,
				DynamicFields: input.Body.DynamicFields,
			})
		if err != nil {
			return nil, toHumaError(err)
		}
		return &UpdateStudentOutput{Body: toRegistrationResponse(reg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-student",
		Method:      http.MethodDelete,
		Path:        "/api/v1/batches/{reference}/students/{registrationId}",
		Summary:     "Remove a student from an editable batch",
		Tags:        []string{"Students"},
	}, func(ctx context.Context, input *RemoveStudentInput) (*RemoveStudentOutput, error) {
		batch, err := svc.RemoveStudent(ctx, input.TenantID, input.Reference, input.RegistrationID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RemoveStudentOutput{Body: toBatchResponse(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-batch",
		Method:      http.MethodPost,
		Path:        "/api/v1/batches/{reference}/events",
		Summary:     "Trigger a batch lifecycle event",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *TransitionBatchInput) (*TransitionBatchOutput, error) {
		batch, err := svc.TransitionBatch(ctx, input.TenantID, input.Reference, domain.BatchEvent(input.Body.Event))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &TransitionBatchOutput{Body: toBatchResponse(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "payment-update",
		Method:      http.MethodPost,
		Path:        "/api/v1/batches/{reference}/payment",
		Summary:     "Apply a payment feed update",
		Tags:        []string{"Payments"},
	}, func(ctx context.Context, input *PaymentUpdateInput) (*PaymentUpdateOutput, error) {
		batch, err := svc.ApplyPaymentUpdate(ctx, input.TenantID, input.Reference, domain.PaymentEvent(input.Body.Event))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &PaymentUpdateOutput{Body: toBatchResponse(batch)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-batch",
		Method:      http.MethodGet,
		Path:        "/api/v1/batches/{reference}/export",
		Summary:     "Export a batch roster in stable order",
		Tags:        []string{"Batches"},
	}, func(ctx context.Context, input *ExportBatchInput) (*ExportBatchOutput, error) {
		batch, regs, err := svc.ExportBatch(ctx, input.TenantID, input.Reference)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &ExportBatchOutput{}
		out.Body.Batch = toBatchResponse(batch)
		out.Body.Registrations = toRegistrationResponses(regs)
		return out, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, domain.ErrBatchNotFound) {
		return huma.Error404NotFound("batch not found")
	}
	if errors.Is(err, domain.ErrEventNotFound) {
		return huma.Error404NotFound("event not found")
	}
	if errors.Is(err, domain.ErrRegistrationNotFound) {
		return huma.Error404NotFound("registration not found")
	}

	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		details := make([]error, len(valErr.Errors))
		for i, re := range valErr.Errors {
			details[i] = &huma.ErrorDetail{
				Message:  re.Message,
				Location: fmt.Sprintf("row[%d].%s", re.Row, re.Field),
			}
		}
		return huma.Error422UnprocessableEntity("roster validation failed", details...)
	}

	var lockErr *domain.BatchLockedError
	if errors.As(err, &lockErr) {
		return huma.NewError(http.StatusLocked, lockErr.Error())
	}

	var conflictErr *domain.ConflictError
	if errors.As(err, &conflictErr) {
		return huma.Error409Conflict(conflictErr.Error())
	}

	var opErr *domain.InvalidOperationError
	if errors.As(err, &opErr) {
		return huma.Error422UnprocessableEntity(opErr.Error())
	}

	var trErr *domain.TransitionError
	if errors.As(err, &trErr) {
		return huma.Error422UnprocessableEntity(trErr.Error())
	}

	return huma.Error500InternalServerError("internal server error")
}
