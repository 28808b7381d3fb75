// Package report writes screening results as a colour-coded spreadsheet and
// as a batch CSV ready for the CRM sync.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/batch"
	"github.com/spigell/hh-screener/internal/categorize"
	"github.com/spigell/hh-screener/internal/pipeline"
)

const (
	Sheet = "Прогнозы"

	DefaultXLSX = "predictions.xlsx"

	columnWidth   = 15
	commentHeight = 60
)

// Fill colours per tier.
var fills = map[categorize.Category]string{
	categorize.Green:  "CCFFCC",
	categorize.Yellow: "FFF6CC",
	categorize.Red:    "FFCCCC",
}

const headerFill = "E0E0E0"

type Paths struct {
	XLSX string `mapstructure:"xlsx"`
	// CSV is optional; empty skips the batch file.
	CSV string `mapstructure:"csv"`
}

// Write produces every configured report for the results.
func Write(p Paths, results []*pipeline.Result, logger *zap.Logger) error {
	if p.XLSX != "" {
		if err := WriteXLSX(p.XLSX, results); err != nil {
			return err
		}
		logger.Info("report written", zap.String("format", "xlsx"), zap.String("path", p.XLSX), zap.Int("rows", len(results)))
	}

	if p.CSV != "" {
		if err := batch.WriteFile(p.CSV, results); err != nil {
			return err
		}
		logger.Info("report written", zap.String("format", "csv"), zap.String("path", p.CSV), zap.Int("rows", len(results)))
	}

	return nil
}

// WriteXLSX saves the results in the batch column order. Rows are filled by
// tier, the comment column wraps.
func WriteXLSX(path string, results []*pipeline.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", Sheet); err != nil {
		return err
	}

	styles, err := newStyles(f)
	if err != nil {
		return fmt.Errorf("creating styles: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(batch.Header))
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(Sheet, "A1", &batch.Header); err != nil {
		return err
	}
	if err := f.SetCellStyle(Sheet, "A1", lastCol+"1", styles.header); err != nil {
		return err
	}
	if err := f.SetColWidth(Sheet, "A", lastCol, columnWidth); err != nil {
		return err
	}

	for i, row := range batch.Rows(results) {
		line := i + 2

		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(Sheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", line, err)
		}

		category := results[i].Prediction.Category
		if err := f.SetCellStyle(Sheet, cell, fmt.Sprintf("%s%d", lastCol, line), styles.rows[category]); err != nil {
			return err
		}

		// the comment is the last column
		comment := fmt.Sprintf("%s%d", lastCol, line)
		if err := f.SetCellStyle(Sheet, comment, comment, styles.comments[category]); err != nil {
			return err
		}
		if err := f.SetRowHeight(Sheet, line, commentHeight); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}

	return nil
}

type styles struct {
	header   int
	rows     map[categorize.Category]int
	comments map[categorize.Category]int
}

func newStyles(f *excelize.File) (*styles, error) {
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      solid(headerFill),
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, err
	}

	s := &styles{
		header:   header,
		rows:     make(map[categorize.Category]int, len(fills)),
		comments: make(map[categorize.Category]int, len(fills)),
	}

	for category, color := range fills {
		if s.rows[category], err = f.NewStyle(&excelize.Style{Fill: solid(color)}); err != nil {
			return nil, err
		}
		s.comments[category], err = f.NewStyle(&excelize.Style{
			Fill:      solid(color),
			Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
		})
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func solid(color string) excelize.Fill {
	return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#" + color}}
}
