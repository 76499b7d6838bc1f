package patients

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatEHR  Format = "ehr_json"
)

const maxImportBytes = 16 << 20

// Record is one patient row as read from an import file, before it is
// assigned to a study.
type Record struct {
	ExternalID  string
	Name        string
	Age         int
	Gender      string
	Email       string
	Phone       string
	Conditions  []string
	Medications []string
	MMSEScore   *int
}

// RowError reports a rejected row. Rows are numbered as the coordinator sees
// them: the header is row 1 in spreadsheets, records start at 1 in EHR files.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type ParseResult struct {
	Records []Record
	Errors  []RowError
}

// DetectFormat picks an importer from an explicit format name, the file
// extension or the content type, in that order.
func DetectFormat(explicit, filename, contentType string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "json", "ehr", "ehr_json":
		return FormatEHR, nil
	case "":
	default:
		return "", validate.Errorf("unsupported import format %q", explicit)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".json":
		return FormatEHR, nil
	}

	switch {
	case strings.Contains(contentType, "csv"):
		return FormatCSV, nil
	case strings.Contains(contentType, "spreadsheetml"):
		return FormatXLSX, nil
	case strings.Contains(contentType, "json"):
		return FormatEHR, nil
	}
	return "", validate.Errorf("cannot determine import format for %q", filename)
}

// Parse reads every record from r. Malformed files fail as a whole; rows with
// bad values are reported in ParseResult.Errors and skipped.
func Parse(format Format, r io.Reader) (ParseResult, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxImportBytes+1))
	if err != nil {
		return ParseResult{}, fmt.Errorf("read import: %w", err)
	}
	if len(content) > maxImportBytes {
		return ParseResult{}, validate.Errorf("import exceeds %d bytes", maxImportBytes)
	}
	if len(bytes.TrimSpace(content)) == 0 {
		return ParseResult{}, validate.Errorf("import file is empty")
	}

	switch format {
	case FormatCSV:
		return parseCSV(content)
	case FormatXLSX:
		return parseXLSX(content)
	case FormatEHR:
		return parseEHR(content)
	default:
		return ParseResult{}, validate.Errorf("unsupported import format %q", format)
	}
}

func parseCSV(content []byte) (ParseResult, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return ParseResult{}, validate.Errorf("invalid csv: %v", err)
	}
	return parseTable(rows)
}

func parseXLSX(content []byte) (ParseResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return ParseResult{}, validate.Errorf("invalid xlsx: %v", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return ParseResult{}, validate.Errorf("xlsx file has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return ParseResult{}, validate.Errorf("read sheet %s: %v", sheet, err)
	}
	return parseTable(rows)
}

// columnAliases maps normalised header names to record fields.
var columnAliases = map[string]string{
	"id":           "external_id",
	"external_id":  "external_id",
	"patient_id":   "external_id",
	"mrn":          "external_id",
	"name":         "name",
	"patient_name": "name",
	"full_name":    "name",
	"age":          "age",
	"gender":       "gender",
	"sex":          "gender",
	"email":        "email",
	"phone":        "phone",
	"phone_number": "phone",
	"conditions":   "conditions",
	"diagnoses":    "conditions",
	"diagnosis":    "conditions",
	"medications":  "medications",
	"meds":         "medications",
	"mmse":         "mmse",
	"mmse_score":   "mmse",
}

func normaliseHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func parseTable(rows [][]string) (ParseResult, error) {
	if len(rows) == 0 {
		return ParseResult{}, validate.Errorf("import has no header row")
	}
	columns := make(map[string]int)
	for i, h := range rows[0] {
		if field, ok := columnAliases[normaliseHeader(h)]; ok {
			if _, dup := columns[field]; !dup {
				columns[field] = i
			}
		}
	}
	if _, ok := columns["name"]; !ok {
		return ParseResult{}, validate.Errorf("import header must include a name column")
	}

	var result ParseResult
	for i, row := range rows[1:] {
		cell := func(field string) string {
			idx, ok := columns[field]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		rec, err := buildRecord(
			cell("external_id"), cell("name"), cell("age"), cell("gender"), cell("email"),
			cell("phone"), splitList(cell("conditions")), splitList(cell("medications")), cell("mmse"),
		)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: i + 2, Message: err.Error()})
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

// ehrRecord is one entry of an EHR export. Age may be given directly or
// derived from birth_date.
type ehrRecord struct {
	ID          string          `json:"id"`
	MRN         string          `json:"mrn"`
	Name        string          `json:"name"`
	Age         json.RawMessage `json:"age"`
	BirthDate   string          `json:"birth_date"`
	Gender      string          `json:"gender"`
	Email       string          `json:"email"`
	Phone       string          `json:"phone"`
	Conditions  []string        `json:"conditions"`
	Diagnoses   []string        `json:"diagnoses"`
	Medications []string        `json:"medications"`
	MMSEScore   json.RawMessage `json:"mmse_score"`
}

func parseEHR(content []byte) (ParseResult, error) {
	var records []ehrRecord
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var bundle struct {
			Patients []ehrRecord `json:"patients"`
		}
		if err := json.Unmarshal(trimmed, &bundle); err != nil {
			return ParseResult{}, validate.Errorf("invalid EHR export: %v", err)
		}
		records = bundle.Patients
	} else if err := json.Unmarshal(trimmed, &records); err != nil {
		return ParseResult{}, validate.Errorf("invalid EHR export: %v", err)
	}

	var result ParseResult
	for i, r := range records {
		externalID := r.ID
		if externalID == "" {
			externalID = r.MRN
		}
		age := rawScalar(r.Age)
		if age == "" && r.BirthDate != "" {
			born, err := time.Parse("2006-01-02", r.BirthDate)
			if err != nil {
				result.Errors = append(result.Errors, RowError{Row: i + 1, Message: fmt.Sprintf("invalid birth_date %q", r.BirthDate)})
				continue
			}
			age = strconv.Itoa(ageOn(born, time.Now()))
		}
		conditions := append(append([]string(nil), r.Conditions...), r.Diagnoses...)
		rec, err := buildRecord(externalID, r.Name, age, r.Gender, r.Email, r.Phone,
			cleanList(conditions), cleanList(r.Medications), rawScalar(r.MMSEScore))
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: i + 1, Message: err.Error()})
			continue
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}

func buildRecord(externalID, name, age, gender, email, phone string, conditions, medications []string, mmse string) (Record, error) {
	rec := Record{
		ExternalID:  externalID,
		Name:        strings.TrimSpace(name),
		Gender:      gender,
		Email:       email,
		Phone:       phone,
		Conditions:  conditions,
		Medications: medications,
	}
	if rec.Name == "" {
		return Record{}, fmt.Errorf("name is required")
	}
	if age != "" {
		v, ok := wholeNumber(age)
		if !ok || v < 0 || v > 120 {
			return Record{}, fmt.Errorf("invalid age %q", age)
		}
		rec.Age = v
	}
	if mmse != "" {
		v, ok := wholeNumber(mmse)
		if !ok || v < 0 || v > 30 {
			return Record{}, fmt.Errorf("invalid MMSE score %q", mmse)
		}
		rec.MMSEScore = &v
	}
	return rec, nil
}

// wholeNumber accepts integers written as floats ("67.0"), as EHR and
// spreadsheet exports often do.
func wholeNumber(raw string) (int, bool) {
	if v, err := strconv.Atoi(raw); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// splitList splits a spreadsheet cell holding several values separated by
// ";" or "|".
func splitList(cell string) []string {
	if cell == "" {
		return nil
	}
	return cleanList(strings.FieldsFunc(cell, func(r rune) bool { return r == ';' || r == '|' }))
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func rawScalar(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func ageOn(born, at time.Time) int {
	age := at.Year() - born.Year()
	if at.Month() < born.Month() || (at.Month() == born.Month() && at.Day() < born.Day()) {
		age--
	}
	return age
}
