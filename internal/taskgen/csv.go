package taskgen

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const csvFields = 6

// WriteCSV writes rows as email,password,city,threshold,proxy,change_language.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row.fields()); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteCSVFile writes rows to path, replacing any existing file.
func WriteCSVFile(path string, rows []Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return WriteCSV(f, rows)
}

// ReadCSV parses task rows. Malformed lines are logged and skipped.
func ReadCSV(r io.Reader, logger *zap.Logger) ([]Row, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var rows []Row
	for line := 1; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				logger.Warn("skipping unreadable task row", zap.Int("line", line), zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row, err := parseRow(record)
		if err != nil {
			logger.Warn("skipping malformed task row", zap.Int("line", line), zap.Error(err))
			continue
		}
		rows = append(rows, row)
	}
}

// ReadCSVFile parses the task rows in path.
func ReadCSVFile(path string, logger *zap.Logger) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f, logger)
}

func parseRow(record []string) (Row, error) {
	if len(record) != csvFields {
		return Row{}, fmt.Errorf("expected %d fields, got %d", csvFields, len(record))
	}
	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}
	if record[2] == "" {
		return Row{}, errors.New("empty city")
	}
	threshold, err := strconv.Atoi(record[3])
	if err != nil {
		return Row{}, fmt.Errorf("threshold %q: %w", record[3], err)
	}
	changeLanguage, err := strconv.ParseBool(record[5])
	if err != nil {
		changeLanguage = record[5] != ""
	}
	return Row{
		Email:          record[0],
		Password:       record[1],
		City:           record[2],
		Threshold:      threshold,
		Proxy:          record[4],
		ChangeLanguage: changeLanguage,
	}, nil
}
