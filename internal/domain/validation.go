package domain

// ParsedRow is one normalized student row produced by the spreadsheet
// parser. DynamicFields is keyed by the event's form schema field IDs.
type ParsedRow struct {
	StudentName   string            `json:"student_name"`
	Grade         string            `json:"grade"`
	Section       string            `json:"section,omitempty"`
	ExamDate      string            `json:"exam_date,omitempty"`
	DynamicFields map[string]string `json:"dynamic_fields,omitempty"`
}

// RowError is a field-level validation error tied to a spreadsheet row.
// Row numbers are 1-based and count data rows, not the header.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult is the outcome of parsing and validating one upload.
type ValidationResult struct {
	Rows    []ParsedRow `json:"rows"`
	Errors  []RowError  `json:"errors"`
	Valid   int         `json:"valid"`
	Invalid int         `json:"invalid"`
}

// OK reports whether the upload can be committed as a batch.
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0 && len(r.Rows) > 0
}

// CacheKey scopes a cached validation result to the tenant and event
// that produced it. A result must never be replayed against a
// different tenant or event.
type CacheKey struct {
	TenantID string
	EventID  string
}
