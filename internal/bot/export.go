package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tourbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const escalationSheet = "Escalations"

var escalationHeaders = []string{
	"Attempt", "Payment intent", "Activity", "User", "Date", "Slot",
	"Guests", "Status", "Reason", "Retries", "Created", "Delivered",
}

// exportEscalations writes the escalations created in [from, to) to an
// Excel workbook under the exports directory and returns its path.
func (b *Bot) exportEscalations(ctx context.Context, from, to time.Time) (string, int, error) {
	if b.journal == nil {
		return "", 0, fmt.Errorf("escalation journal is not configured")
	}
	if err := os.MkdirAll(b.config.Exports.Path, 0o755); err != nil {
		return "", 0, fmt.Errorf("create export directory: %w", err)
	}

	escalations, err := b.journal.ListEscalations(ctx, from, to)
	if err != nil {
		return "", 0, fmt.Errorf("list escalations: %w", err)
	}

	f, err := buildEscalationWorkbook(escalations, from, to)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	fileName := fmt.Sprintf("escalations_%s_to_%s.xlsx", from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02"))
	filePath := filepath.Join(b.config.Exports.Path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", 0, fmt.Errorf("save workbook: %w", err)
	}

	b.logger.Info().Str("file_path", filePath).Int("rows", len(escalations)).Msg("Escalation export created")
	return filePath, len(escalations), nil
}

func buildEscalationWorkbook(escalations []models.Escalation, from, to time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(escalationSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(escalationHeaders))
	_ = f.SetCellValue(escalationSheet, "A1", fmt.Sprintf("Period: %s - %s",
		from.Format("02.01.2006"), to.AddDate(0, 0, -1).Format("02.01.2006")))
	_ = f.MergeCell(escalationSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(escalationSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range escalationHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(escalationSheet, cell, h)
	}
	_ = f.SetCellStyle(escalationSheet, "A2", lastCol+"2", headerStyle)

	failedStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i := range escalations {
		row := i + 3
		e := &escalations[i]
		values := escalationExportRow(e)
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(escalationSheet, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		if e.Status == models.EscalationFailed {
			_ = f.SetCellStyle(escalationSheet, cell, fmt.Sprintf("%s%d", lastCol, row), failedStyle)
		}
	}

	_ = f.SetColWidth(escalationSheet, "A", "B", 38)
	_ = f.SetColWidth(escalationSheet, "C", lastCol, 16)
	_ = f.SetColWidth(escalationSheet, "I", "I", 48)
	return f, nil
}

func escalationExportRow(e *models.Escalation) []interface{} {
	delivered := ""
	if e.DeliveredAt != nil {
		delivered = e.DeliveredAt.Format("2006-01-02 15:04")
	}
	return []interface{}{
		e.AttemptID,
		e.PaymentIntentID,
		e.ActivityID,
		e.UserID,
		e.Date,
		e.SlotID,
		e.Guests,
		e.Status,
		e.Reason,
		e.RetryCount,
		e.CreatedAt.Format("2006-01-02 15:04"),
		delivered,
	}
}

// sendEscalationExport builds the workbook and uploads it to the chat.
func (b *Bot) sendEscalationExport(ctx context.Context, chatID int64, from, to time.Time) {
	path, count, err := b.exportEscalations(ctx, from, to)
	if err != nil {
		b.logger.Error().Err(err).Msg("export escalations")
		b.sendMessage(chatID, "❌ Could not build the escalation report.")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		b.logger.Error().Err(err).Str("file_path", path).Msg("read export")
		b.sendMessage(chatID, "❌ Could not build the escalation report.")
		return
	}

	caption := fmt.Sprintf("📊 %d escalation(s)", count)
	if _, err := b.tgService.SendDocument(chatID, filepath.Base(path), data, caption); err != nil {
		b.logger.Error().Err(err).Msg("send export")
		b.sendMessage(chatID, "❌ Could not send the escalation report.")
	}
}
