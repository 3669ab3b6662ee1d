package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-print/internal/production/entity"
	"github.com/bitfantasy/nimo-print/internal/production/repository"
	"github.com/xuri/excelize/v2"
)

// ReportService 只读报表：卷料流水与损耗
type ReportService struct {
	repos *repository.Repositories
}

func NewReportService(repos *repository.Repositories) *ReportService {
	return &ReportService{repos: repos}
}

func (s *ReportService) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]entity.Movement, int64, error) {
	if err := validRange(filter); err != nil {
		return nil, 0, err
	}
	return s.repos.Movement.List(ctx, filter)
}

func validRange(f repository.MovementFilter) error {
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return validation("from must be before to")
	}
	return nil
}

var movementExportHeaders = []string{
	"时间", "类型", "卷料标签", "材质", "变动", "变动前", "变动后", "单位", "设备", "批次", "原因", "操作人",
}

var movementExportWidths = []float64{20, 12, 22, 20, 10, 10, 10, 8, 38, 38, 30, 14}

// ExportMovements 导出流水为xlsx
func (s *ReportService) ExportMovements(ctx context.Context, filter repository.MovementFilter) (*excelize.File, string, error) {
	if err := validRange(filter); err != nil {
		return nil, "", err
	}
	items, err := s.repos.Movement.ListAll(ctx, filter)
	if err != nil {
		return nil, "", err
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]bool)
	for _, m := range items {
		if !seen[m.SpoolID] {
			seen[m.SpoolID] = true
			ids = append(ids, m.SpoolID)
		}
	}
	spools, err := s.repos.Spool.FindByIDs(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	byID := make(map[string]entity.Spool, len(spools))
	for _, sp := range spools {
		byID[sp.ID] = sp
	}

	f := excelize.NewFile()
	sheet := "流水"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range movementExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s1", col)
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for i, m := range items {
		row := i + 2
		sp := byID[m.SpoolID]
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), m.CreatedAt.Format(time.DateTime))
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), m.Type)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), sp.LabelCode)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), sp.Material)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), m.Delta)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), m.BeforeQty)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), m.AfterQty)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), sp.Unit)
		if m.MachineID != nil {
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), *m.MachineID)
		}
		if m.BatchID != nil {
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), *m.BatchID)
		}
		f.SetCellValue(sheet, fmt.Sprintf("K%d", row), m.Reason)
		f.SetCellValue(sheet, fmt.Sprintf("L%d", row), m.Actor)
	}

	for i, w := range movementExportWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("movements_%s.xlsx", time.Now().Format("20060102_150405"))
	return f, filename, nil
}

// WasteSummary 按材质汇总损耗
func (s *ReportService) WasteSummary(ctx context.Context, areaID string) ([]repository.WasteRow, error) {
	rows, err := s.repos.Movement.WasteByMaterial(ctx, areaID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []repository.WasteRow{}
	}
	return rows, nil
}
