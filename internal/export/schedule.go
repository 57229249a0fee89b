// Package export renders the lesson schedule as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"kajabook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	scheduleSheet = "Schedule"
	bookingsSheet = "Bookings"
)

// Fill colours by slot state.
const (
	fillCancelled = "#D9D9D9"
	fillFull      = "#FFC7CE"
	fillPartial   = "#FFEB9C"
	fillFree      = "#C6EFCE"
)

var scheduleHeaders = []string{"Date", "Start", "End", "Capacity", "Booked", "Available", "Status", "Students"}

var bookingHeaders = []string{"Code", "Date", "Start", "Duration", "Status", "Name", "Email", "Phone", "Meeting", "Created"}

type Exporter struct {
	dir    string
	logger *zerolog.Logger
}

func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// WriteSchedule streams the workbook for fromKey..toKey to w.
func (e *Exporter) WriteSchedule(w io.Writer, fromKey, toKey string, views []models.SlotAvailability) error {
	f, err := buildWorkbook(fromKey, toKey, views)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveSchedule writes the workbook under the export directory and returns its path.
func (e *Exporter) SaveSchedule(fromKey, toKey string, views []models.SlotAvailability) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := buildWorkbook(fromKey, toKey, views)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(e.dir, FileName(fromKey, toKey))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("slots", len(views)).Msg("Excel file created")
	return filePath, nil
}

func FileName(fromKey, toKey string) string {
	return fmt.Sprintf("schedule_%s_to_%s.xlsx", fromKey, toKey)
}

func buildWorkbook(fromKey, toKey string, views []models.SlotAvailability) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(scheduleSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if _, err := f.NewSheet(bookingsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(scheduleSheet, "A1", fmt.Sprintf("Schedule: %s - %s", fromKey, toKey))
	lastCol, _ := excelize.ColumnNumberToName(len(scheduleHeaders))
	_ = f.MergeCell(scheduleSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(scheduleSheet, "A1", "A1", titleStyle)

	if err := writeHeaders(f, scheduleSheet, 2, scheduleHeaders); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeaders(f, bookingsSheet, 1, bookingHeaders); err != nil {
		f.Close()
		return nil, err
	}

	styles := map[string]int{}
	for _, colour := range []string{fillCancelled, fillFull, fillPartial, fillFree} {
		id, err := f.NewStyle(&excelize.Style{
			Fill:      excelize.Fill{Type: "pattern", Color: []string{colour}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "top", WrapText: true},
		})
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating style: %w", err)
		}
		styles[colour] = id
	}

	seen := make(map[string]bool)
	bookingRow := 2
	for i, v := range views {
		row := i + 3
		values := []any{
			v.DateKey,
			models.FormatMinutes(v.StartMin),
			models.FormatMinutes(v.EndMin),
			v.Capacity,
			v.BookedCount,
			v.Available,
			slotStatus(v),
			studentList(v.Bookings),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(scheduleSheet, cell, value)
		}
		first, _ := excelize.CoordinatesToCellName(1, row)
		last, _ := excelize.CoordinatesToCellName(len(values), row)
		_ = f.SetCellStyle(scheduleSheet, first, last, styles[slotFill(v)])

		// A two-slot booking appears under both slots but once on the bookings sheet.
		for _, b := range v.Bookings {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			writeBookingRow(f, bookingRow, v, b)
			bookingRow++
		}
	}

	_ = f.SetColWidth(scheduleSheet, "A", "A", 14)
	_ = f.SetColWidth(scheduleSheet, "B", "G", 11)
	_ = f.SetColWidth(scheduleSheet, "H", "H", 40)
	_ = f.SetColWidth(bookingsSheet, "A", "J", 18)
	return f, nil
}

func writeHeaders(f *excelize.File, sheet string, row int, headers []string) error {
	style, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, h)
		_ = f.SetCellStyle(sheet, cell, cell, style)
	}
	return nil
}

func writeBookingRow(f *excelize.File, row int, v models.SlotAvailability, b *models.Booking) {
	meeting := b.MeetingProvider
	if b.MeetURL != "" {
		meeting = b.MeetURL
	}
	values := []any{
		b.Code,
		v.DateKey,
		models.FormatMinutes(v.StartMin),
		b.DurationMin,
		b.Status,
		b.Name,
		b.Email,
		b.Phone,
		meeting,
		b.CreatedAt.Format("2006-01-02 15:04"),
	}
	for col, value := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		_ = f.SetCellValue(bookingsSheet, cell, value)
	}
}

func slotStatus(v models.SlotAvailability) string {
	switch {
	case v.Cancelled:
		return "cancelled"
	case v.Available == 0:
		return "full"
	default:
		return "open"
	}
}

func slotFill(v models.SlotAvailability) string {
	switch {
	case v.Cancelled:
		return fillCancelled
	case v.Available == 0:
		return fillFull
	case v.BookedCount > 0:
		return fillPartial
	default:
		return fillFree
	}
}

// studentList names confirmed students only.
func studentList(bookings []*models.Booking) string {
	var parts []string
	for _, b := range bookings {
		if !b.IsConfirmed() {
			continue
		}
		name := b.Name
		if name == "" {
			name = b.Code
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, "\n")
}
