package workbook

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/batchwatch/internal/monitor"
)

const (
	summarySheet  = "Summary"
	timelineSheet = "Timeline"
)

// Exporter renders finished runs as XLSX workbooks.
type Exporter struct {
	logger *slog.Logger
}

func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// TimelineXLSX returns a workbook with a Summary sheet and the full Timeline.
func (e *Exporter) TimelineXLSX(ctx context.Context, o monitor.Outcome) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(timelineSheet); err != nil {
		return nil, fmt.Errorf("new sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	summary := [][2]any{
		{"Task ID", o.TaskID},
		{"Document", o.DocumentName},
		{"Affiliation Type", string(o.AffiliationType)},
		{"Submitter", o.SubmitterName},
		{"Final State", string(o.State)},
		{"Total Records", o.TotalRecords},
		{"Processed Records", o.ProcessedRecords},
		{"Successful Records", o.SuccessfulRecords},
		{"Error Records", o.ErrorRecords},
		{"Download", o.DownloadRef},
		{"Error", o.ErrorMessage},
		{"Started", formatTime(o.StartedAt)},
		{"Finished", formatTime(o.FinishedAt)},
		{"Duration (s)", o.Duration().Seconds()},
	}
	for i, kv := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &[]any{kv[0], kv[1]}); err != nil {
			return nil, fmt.Errorf("summary row: %w", err)
		}
	}
	_ = f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold)
	_ = f.SetColWidth(summarySheet, "A", "A", 22)
	_ = f.SetColWidth(summarySheet, "B", "B", 60)

	headers := []any{"#", "Time", "Severity", "Message"}
	if err := f.SetSheetRow(timelineSheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("timeline header: %w", err)
	}
	_ = f.SetCellStyle(timelineSheet, "A1", "D1", bold)

	for i, entry := range o.Timeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{entry.ID, formatTime(entry.Timestamp), string(entry.Severity), entry.Message}
		if err := f.SetSheetRow(timelineSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("timeline row: %w", err)
		}
	}
	_ = f.SetColWidth(timelineSheet, "A", "A", 6)
	_ = f.SetColWidth(timelineSheet, "B", "B", 22)
	_ = f.SetColWidth(timelineSheet, "C", "C", 10)
	_ = f.SetColWidth(timelineSheet, "D", "D", 90)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	e.logger.Info("workbook.export.ok",
		"task_id", o.TaskID,
		"entries", len(o.Timeline),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// WriteTimeline writes the timeline workbook to path, creating parent directories.
func (e *Exporter) WriteTimeline(ctx context.Context, o monitor.Outcome, path string) error {
	b, err := e.TimelineXLSX(ctx, o)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// TimelinePath is where a run's timeline is written next to its source document.
func TimelinePath(dir, documentName, taskID string) string {
	base := documentName[:len(documentName)-len(filepath.Ext(documentName))]
	if taskID == "" {
		return filepath.Join(dir, base+".timeline.xlsx")
	}
	return filepath.Join(dir, base+"."+taskID+".timeline.xlsx")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
