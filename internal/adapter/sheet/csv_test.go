package sheet_test

import (
	"strings"
	"testing"

	"github.com/rosterbatch/rosterbatch/internal/adapter/sheet"
	"github.com/rosterbatch/rosterbatch/internal/domain"
)

var testSchema = []domain.FormField{
	{ID: "student_name", Label: "Student Name", Required: true},
	{ID: "grade", Label: "Grade", Required: true},
	{ID: "house", Label: "House", Required: true},
	{ID: "allergies", Label: "Allergies", Required: false},
}

func TestParseValidSheet(t *testing.T) {
	csv := strings.Join([]string{
		"Student Name,Grade,Section,house,allergies",
		"Asha Rao,5,A,blue,",
		"Bilal Khan,5,B,red,peanuts",
	}, "\n")

	result, err := sheet.NewCSV().ParseAndValidate([]byte(csv), testSchema)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}

	if !result.OK() {
		t.Fatalf("result not OK: errors = %v", result.Errors)
	}
	if result.Valid != 2 || result.Invalid != 0 {
		t.Errorf("valid/invalid = %d/%d, want 2/0", result.Valid, result.Invalid)
	}
	if result.Rows[0].StudentName != "Asha Rao" || result.Rows[0].Section != "A" {
		t.Errorf("row 0 = %+v", result.Rows[0])
	}
	if result.Rows[0].DynamicFields["house"] != "blue" {
		t.Errorf("row 0 dynamic = %v", result.Rows[0].DynamicFields)
	}
	if result.Rows[1].DynamicFields["allergies"] != "peanuts" {
		t.Errorf("row 1 dynamic = %v", result.Rows[1].DynamicFields)
	}
}

func TestParseCollectsRowErrors(t *testing.T) {
	csv := strings.Join([]string{
		"student_name,grade,house",
		"Asha Rao,5,blue",
		",5,red",
		"Chitra Nair,,",
	}, "\n")

	result, err := sheet.NewCSV().ParseAndValidate([]byte(csv), testSchema)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}

	if result.OK() {
		t.Fatal("result OK despite missing fields")
	}
	if result.Valid != 1 || result.Invalid != 2 {
		t.Errorf("valid/invalid = %d/%d, want 1/2", result.Valid, result.Invalid)
	}

	want := map[string][]string{}
	for _, re := range result.Errors {
		key := ""
		switch re.Row {
		case 2:
			key = "row2"
		case 3:
			key = "row3"
		default:
			t.Errorf("unexpected error row %d", re.Row)
			continue
		}
		want[key] = append(want[key], re.Field)
	}
	if len(want["row2"]) != 1 || want["row2"][0] != "student_name" {
		t.Errorf("row 2 error fields = %v, want [student_name]", want["row2"])
	}
	// Row 3 is missing both the grade and the required house field.
	if len(want["row3"]) != 2 {
		t.Errorf("row 3 error fields = %v, want grade and house", want["row3"])
	}
}

func TestParseSkipsBlankLines(t *testing.T) {
	csv := "student_name,grade\nAsha Rao,5\n,\n\nBilal Khan,6\n"

	result, err := sheet.NewCSV().ParseAndValidate([]byte(csv), nil)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(result.Rows))
	}
	if result.Rows[1].StudentName != "Bilal Khan" {
		t.Errorf("row 1 = %+v", result.Rows[1])
	}
}

func TestParseEmptyUpload(t *testing.T) {
	result, err := sheet.NewCSV().ParseAndValidate(nil, testSchema)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if result.OK() {
		t.Error("empty upload reported OK")
	}
	if len(result.Rows) != 0 {
		t.Errorf("got %d rows, want 0", len(result.Rows))
	}
}

func TestParseIgnoresUnknownColumns(t *testing.T) {
	csv := "student_name,grade,favorite_color\nAsha Rao,5,green\n"

	result, err := sheet.NewCSV().ParseAndValidate([]byte(csv), testSchema[:2])
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if len(result.Rows[0].DynamicFields) != 0 {
		t.Errorf("unknown column kept: %v", result.Rows[0].DynamicFields)
	}
}

func TestParseRaggedRows(t *testing.T) {
	// Short rows leave trailing fields empty instead of failing.
	csv := "student_name,grade,section\nAsha Rao,5\n"

	result, err := sheet.NewCSV().ParseAndValidate([]byte(csv), nil)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if !result.OK() {
		t.Fatalf("result not OK: %v", result.Errors)
	}
	if result.Rows[0].Section != "" {
		t.Errorf("section = %q, want empty", result.Rows[0].Section)
	}
}
