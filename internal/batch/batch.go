// Package batch reads and writes the CSV record set exchanged between the
// screener and the CRM sync.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/hh-screener/internal/amocrm"
	"github.com/spigell/hh-screener/internal/pipeline"
)

var ErrMissingColumns = errors.New("missing mandatory columns")

const (
	ColumnFile        = "Файл"
	ColumnProbability = "Вероятность класса 1"
	ColumnPhone       = "Телефон"
	ColumnPosition    = "Желаемая должность"
	ColumnCity        = "Город"
	ColumnAge         = "Возраст"
	ColumnGender      = "Пол"
	ColumnSalary      = "Зарплата"
	ColumnComment     = "Комментарий"
)

// Header is the export column order.
var Header = []string{
	ColumnFile, ColumnProbability, ColumnPhone, ColumnPosition, ColumnCity,
	ColumnAge, ColumnGender, ColumnSalary, ColumnComment,
}

var mandatory = []string{ColumnFile, ColumnPhone}

// Load reads a batch file. See Read.
func Load(path string, logger *zap.Logger) ([]amocrm.Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := Read(file, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Read decodes every row into a record. Missing mandatory columns fail the
// whole set; rows without a name or phone are skipped with a warning.
func Read(r io.Reader, logger *zap.Logger) ([]amocrm.Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(mandatory, ", "))
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	if missing := missingColumns(header); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	logger.Info("batch columns found", zap.Strings("columns", header))

	var records []amocrm.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		values := make(map[string]string, len(header))
		for i, column := range header {
			if i < len(row) {
				values[column] = strings.TrimSpace(row[i])
			}
		}

		if values[ColumnFile] == "" || values[ColumnPhone] == "" {
			logger.Warn("row skipped: no name or phone",
				zap.Int("line", line),
				zap.String("name", values[ColumnFile]),
				zap.String("phone", values[ColumnPhone]),
			)
			continue
		}

		var record amocrm.Record
		if err := mapstructure.Decode(values, &record); err != nil {
			return nil, fmt.Errorf("decoding line %d: %w", line, err)
		}
		records = append(records, record)
	}

	return records, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}

	var missing []string
	for _, m := range mandatory {
		if !present[m] {
			missing = append(missing, m)
		}
	}
	return missing
}

// Rows formats results in Header order.
func Rows(results []*pipeline.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			DisplayName(r.Document),
			fmt.Sprintf("%.2f", r.Prediction.Probability),
			r.Profile.Phone,
			r.Profile.Position,
			r.Profile.City,
			r.Profile.Age,
			r.Profile.Gender,
			GroupThousands(r.Profile.Salary),
			r.Prediction.Comment,
		})
	}
	return rows
}

// Records converts results into the records SyncBatch consumes, formatted
// the same way as the batch file rows.
func Records(results []*pipeline.Result) []amocrm.Record {
	records := make([]amocrm.Record, 0, len(results))
	for _, r := range results {
		records = append(records, amocrm.Record{
			Name:  DisplayName(r.Document),
			Phone: r.Profile.Phone,
			ContactData: amocrm.ContactData{
				DesiredPosition: r.Profile.Position,
				City:            r.Profile.City,
				Age:             r.Profile.Age,
				Salary:          GroupThousands(r.Profile.Salary),
				Comment:         r.Prediction.Comment,
				Probability:     fmt.Sprintf("%.2f", r.Prediction.Probability),
			},
		})
	}
	return records
}

// Write writes the header and one row per result.
func Write(w io.Writer, results []*pipeline.Result) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return err
	}
	if err := writer.WriteAll(Rows(results)); err != nil {
		return err
	}

	return writer.Error()
}

func WriteFile(path string, results []*pipeline.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(file, results); err != nil {
		file.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}

	return file.Close()
}

// DisplayName drops the .pdf extension the way recruiters name contacts.
func DisplayName(document string) string {
	return strings.ReplaceAll(document, ".pdf", "")
}

// GroupThousands formats an all-digit salary as "120 000"; anything else is
// returned unchanged.
func GroupThousands(s string) string {
	if s == "" {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}

	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
