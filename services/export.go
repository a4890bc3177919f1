package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"iqbot/internal/logger"
	"iqbot/models"

	"github.com/xuri/excelize/v2"
)

// Export formats accepted by ExportService.
const (
	ExportFormatJSON = "json"
	ExportFormatXLSX = "xlsx"
)

// ChatExportData is the document written by a chat export.
type ChatExportData struct {
	ExportInfo ExportInfo        `json:"export_info"`
	Sources    []models.Source   `json:"sources"`
	Turns      []models.ChatTurn `json:"turns"`
	Summary    ExportSummary     `json:"summary"`
}

type ExportInfo struct {
	ExportDate  time.Time `json:"export_date"`
	WorkspaceID string    `json:"workspace_id"`
	Format      string    `json:"format"`
}

type ExportSummary struct {
	Questions       int `json:"questions"`
	GroundedAnswers int `json:"grounded_answers"`
	Sources         int `json:"sources"`
	TotalChunks     int `json:"total_chunks"`
}

// ExportFile is a rendered export ready to be sent.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

type ExportService struct{}

func NewExportService() *ExportService { return &ExportService{} }

// Collect gathers the export document for a workspace's current state.
func (es *ExportService) Collect(workspaceID, format string, sources []models.Source, turns []models.ChatTurn) *ChatExportData {
	data := &ChatExportData{
		ExportInfo: ExportInfo{ExportDate: time.Now().UTC(), WorkspaceID: workspaceID, Format: format},
		Sources:    sources,
		Turns:      turns,
	}
	data.Summary.Sources = len(sources)
	for _, s := range sources {
		data.Summary.TotalChunks += s.ChunkCount
	}
	for _, t := range turns {
		switch t.Role {
		case models.RoleUser:
			data.Summary.Questions++
		case models.RoleAssistant:
			if t.Grounded {
				data.Summary.GroundedAnswers++
			}
		}
	}
	return data
}

// Render encodes data in the requested format.
func (es *ExportService) Render(data *ChatExportData, format string) (*ExportFile, error) {
	switch strings.ToLower(format) {
	case ExportFormatJSON, "":
		jsonData, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return &ExportFile{Filename: "chat_export.json", ContentType: "application/json", Data: jsonData}, nil
	case ExportFormatXLSX, "excel":
		xlsx, err := es.exportExcel(data)
		if err != nil {
			return nil, err
		}
		return &ExportFile{
			Filename:    "chat_export.xlsx",
			ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			Data:        xlsx,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func (es *ExportService) exportExcel(data *ChatExportData) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("Error closing Excel file", "error", err)
		}
	}()

	sheetName := "Chat"
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	headers := []string{"#", "Role", "Text", "Grounded", "Citations", "Timestamp"}
	if err := writeRow(f, sheetName, 1, toCells(headers)); err != nil {
		return nil, err
	}
	for i, t := range data.Turns {
		row := []interface{}{
			i + 1,
			string(t.Role),
			t.Text,
			t.Grounded,
			formatCitations(t.Citations),
			t.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, sheetName, i+2, row); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(sheetName, "C", "C", 80)
	_ = f.SetColWidth(sheetName, "E", "E", 60)

	sourcesSheet := "Sources"
	if _, err := f.NewSheet(sourcesSheet); err != nil {
		return nil, fmt.Errorf("failed to create sources sheet: %w", err)
	}
	if err := writeRow(f, sourcesSheet, 1, toCells([]string{"Name", "Kind", "Chunks", "URL", "Ingested At"})); err != nil {
		return nil, err
	}
	for i, s := range data.Sources {
		row := []interface{}{s.Name, string(s.Kind), s.ChunkCount, s.OriginURL, s.IngestedAt.Format("2006-01-02 15:04:05")}
		if err := writeRow(f, sourcesSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	summarySheet := "Summary"
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create summary sheet: %w", err)
	}
	summaryData := [][]interface{}{
		{"Export Date", data.ExportInfo.ExportDate.Format("2006-01-02 15:04:05")},
		{"Workspace", data.ExportInfo.WorkspaceID},
		{"Questions", data.Summary.Questions},
		{"Grounded Answers", data.Summary.GroundedAnswers},
		{"Sources", data.Summary.Sources},
		{"Total Chunks", data.Summary.TotalChunks},
	}
	for i, row := range summaryData {
		if err := writeRow(f, summarySheet, i+1, row); err != nil {
			return nil, err
		}
	}

	if index, err := f.GetSheetIndex(sheetName); err == nil && index >= 0 {
		f.SetActiveSheet(index)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func formatCitations(citations []models.Citation) string {
	parts := make([]string, 0, len(citations))
	for _, c := range citations {
		label := c.SourceName
		if c.Page > 0 {
			label = fmt.Sprintf("%s p.%d", label, c.Page)
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "; ")
}
