package export

import (
	"bytes"
	"fmt"
	"strings"
	"vitals-station/internal/models"

	"github.com/xuri/excelize/v2"
)

// SyncHistoryHeader is the column layout of the audit export.
var SyncHistoryHeader = []string{
	"ID",
	"Session ID",
	"ID Card",
	"Visit No",
	"Fields Updated",
	"Sync Status",
	"Error Message",
	"Timestamp",
}

// GenerateSyncHistoryExport renders audit rows into an Excel workbook for
// operator review.
func GenerateSyncHistoryExport(entries []models.SyncHistory) ([]byte, error) {
	f := excelize.NewFile()

	sheetName := "Sync History"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SyncHistoryHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{8, 10, 18, 10, 24, 16, 40, 22}
	for i := range SyncHistoryHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, entry := range entries {
		row := rowIdx + 2
		values := []any{
			entry.ID,
			nilableInt(entry.SessionID),
			entry.Idcard,
			nilableInt(entry.VisitNo),
			strings.Join(entry.FieldsUpdated, ", "),
			entry.SyncStatus,
			nilableString(entry.ErrorMessage),
			entry.SyncTimestamp,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}

	return buf.Bytes(), nil
}

func nilableInt(v *int64) any {
	if v == nil {
		return ""
	}
	return *v
}

func nilableString(v *string) any {
	if v == nil {
		return ""
	}
	return *v
}
