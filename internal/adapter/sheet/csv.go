// Package sheet parses uploaded roster spreadsheets. Uploads are CSV;
// the first row is a header whose columns are matched to the fixed
// student fields and the event's form schema field IDs.
package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/rosterbatch/rosterbatch/internal/domain"
)

var _ domain.SheetParser = (*CSVParser)(nil)

// Fixed columns every event shares. Anything else in the header must
// match a form schema field ID to be kept.
const (
	colStudentName = "student_name"
	colGrade       = "grade"
	colSection     = "section"
	colExamDate    = "exam_date"
)

// CSVParser implements domain.SheetParser for comma-separated uploads.
type CSVParser struct{}

func NewCSV() *CSVParser {
	return &CSVParser{}
}

// ParseAndValidate reads the upload into normalized rows and collects
// field-level errors. Row numbers in errors are 1-based data rows; the
// header is row zero and never reported. A malformed file (no header,
// unreadable CSV) is a parse error, not a validation result.
func (p *CSVParser) ParseAndValidate(fileBytes []byte, schema []domain.FormField) (domain.ValidationResult, error) {
	reader := csv.NewReader(bytes.NewReader(fileBytes))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return domain.ValidationResult{}, nil
	}
	if err != nil {
		return domain.ValidationResult{}, fmt.Errorf("reading header row: %w", err)
	}

	columns := make([]string, len(header))
	for i, cell := range header {
		columns[i] = normalizeHeader(cell)
	}

	schemaByID := make(map[string]domain.FormField, len(schema))
	for _, field := range schema {
		schemaByID[field.ID] = field
	}

	var result domain.ValidationResult
	rowNum := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.ValidationResult{}, fmt.Errorf("reading row %d: %w", rowNum+1, err)
		}
		if blankRecord(record) {
			continue
		}
		rowNum++

		row := domain.ParsedRow{}
		for i, cell := range record {
			if i >= len(columns) {
				break
			}
			value := strings.TrimSpace(cell)
			switch col := columns[i]; col {
			case colStudentName:
				row.StudentName = value
			case colGrade:
				row.Grade = value
			case colSection:
				row.Section = value
			case colExamDate:
				row.ExamDate = value
			default:
				if _, ok := schemaByID[col]; ok && value != "" {
					if row.DynamicFields == nil {
						row.DynamicFields = make(map[string]string)
					}
					row.DynamicFields[col] = value
				}
			}
		}

		errs := validateRow(rowNum, row, schema)
		if len(errs) == 0 {
			result.Valid++
		} else {
			result.Invalid++
			result.Errors = append(result.Errors, errs...)
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

func validateRow(rowNum int, row domain.ParsedRow, schema []domain.FormField) []domain.RowError {
	var errs []domain.RowError

	if row.StudentName == "" {
		errs = append(errs, domain.RowError{Row: rowNum, Field: colStudentName, Message: "student name is required"})
	}
	if row.Grade == "" {
		errs = append(errs, domain.RowError{Row: rowNum, Field: colGrade, Message: "grade is required"})
	}

	for _, field := range schema {
		if !field.Required {
			continue
		}
		if isFixedColumn(field.ID) {
			continue
		}
		if row.DynamicFields[field.ID] == "" {
			errs = append(errs, domain.RowError{
				Row:     rowNum,
				Field:   field.ID,
				Message: field.Label + " is required",
			})
		}
	}

	return errs
}

func isFixedColumn(id string) bool {
	switch id {
	case colStudentName, colGrade, colSection, colExamDate:
		return true
	}
	return false
}

// normalizeHeader maps header cells like "Student Name" onto field IDs
// like "student_name".
func normalizeHeader(cell string) string {
	cell = strings.TrimSpace(strings.ToLower(cell))
	return strings.ReplaceAll(cell, " ", "_")
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
