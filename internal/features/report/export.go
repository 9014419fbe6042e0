package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
)

var exportColumns = []string{"id", "type", "severity", "location", "lat", "lng", "description", "reported_date", "status", "submitted_by", "analyzed", "created_at"}

// Export renders the filtered report list as an Excel workbook or CSV for
// the dashboard's download button. Returns the file bytes and a filename.
func (s *IngestionServiceImpl) Export(ctx context.Context, filter Filter, format string) ([]byte, string, error) {
	reports, err := s.Repo.List(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	stamp := time.Now().UTC().Format("20060102_150405")
	switch format {
	case "csv":
		data, err := exportCSV(reports)
		return data, fmt.Sprintf("reports_%s.csv", stamp), err
	case "", "xlsx":
		data, err := exportExcel(reports)
		return data, fmt.Sprintf("reports_%s.xlsx", stamp), err
	default:
		return nil, "", invalidField("format", "must be xlsx or csv")
	}
}

func exportRow(r Report) []string {
	var lat, lng string
	if len(r.Coords) == 2 {
		lat = strconv.FormatFloat(r.Coords[0], 'f', -1, 64)
		lng = strconv.FormatFloat(r.Coords[1], 'f', -1, 64)
	}
	return []string{
		r.ID,
		r.Type,
		string(r.Severity),
		r.Location,
		lat,
		lng,
		r.Description,
		r.ReportedDate,
		string(r.Status),
		r.SubmittedBy,
		strconv.FormatBool(r.AIResult != nil),
		r.CreatedAt.Format(time.RFC3339),
	}
}

func exportCSV(reports []Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportColumns); err != nil {
		return nil, err
	}
	for _, r := range reports {
		if err := w.Write(exportRow(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportExcel(reports []Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Reports"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	for i, col := range exportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for rowIdx, r := range reports {
		for colIdx, value := range exportRow(r) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
