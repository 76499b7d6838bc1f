package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/synaptica-ai/recruit/pkg/common/models"
	"github.com/synaptica-ai/recruit/pkg/common/validate"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Patients"

var columns = []struct {
	title string
	width float64
}{
	{"Patient ID", 38},
	{"External ID", 15},
	{"Name", 24},
	{"Age", 8},
	{"Gender", 10},
	{"Phone", 18},
	{"Conditions", 40},
	{"MMSE", 8},
	{"Tag", 16},
	{"Status", 20},
	{"Failed Criteria", 50},
	{"Screened At", 22},
}

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", validate.Errorf("unsupported export format %q", raw)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

func Header() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.title
	}
	return out
}

// Row renders p in column order. Empty optional values stay empty.
func Row(p models.Patient) []string {
	mmse := ""
	if p.MMSEScore != nil {
		mmse = strconv.Itoa(*p.MMSEScore)
	}
	screenedAt := ""
	if p.ScreenedAt != nil {
		screenedAt = p.ScreenedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		p.ID.String(),
		p.ExternalID,
		p.Name,
		strconv.Itoa(p.Age),
		p.Gender,
		p.Phone,
		strings.Join(p.Conditions, "; "),
		mmse,
		string(p.Tag),
		string(p.Status),
		failedCriteria(p),
		screenedAt,
	}
}

func failedCriteria(p models.Patient) string {
	failed := p.FailedCriteria()
	parts := make([]string, 0, len(failed))
	for _, m := range failed {
		parts = append(parts, fmt.Sprintf("%d. %s", m.CriterionID, m.CriterionText))
	}
	return strings.Join(parts, "; ")
}

func WriteCSV(w io.Writer, patients []models.Patient) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, p := range patients {
		if err := cw.Write(Row(p)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteXLSX(w io.Writer, patients []models.Patient) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, c := range columns {
		if err := setCellValue(f, i+1, 1, c.title); err != nil {
			return err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, col, col, c.width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(columns), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, p := range patients {
		row := i + 2
		for col, value := range Row(p) {
			if value == "" {
				continue
			}
			var cell interface{} = value
			// Age and MMSE are written as numbers.
			if col == 3 || col == 7 {
				if n, err := strconv.Atoi(value); err == nil {
					cell = n
				}
			}
			if err := setCellValue(f, col+1, row, cell); err != nil {
				return fmt.Errorf("row %d: %w", row, err)
			}
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheetName, cell, value)
}
