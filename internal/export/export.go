// Package export copies result tables and run manifests out of a store into
// plain files: one CSV per table and a manifest.json per run.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"tennessen/internal/model"
	"tennessen/internal/storage"
)

const manifestFile = "manifest.json"

var ErrEmptyHeader = errors.New("table file has no header")

// WriteRun writes the manifest and tables under baseDir/<run id> and returns
// that directory.
func WriteRun(baseDir string, run model.RunManifest, tables map[string]model.RecordSet) (string, error) {
	if run.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, run.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	data, err := storage.EncodeRunManifest(run)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(runDir, manifestFile), data, 0o644); err != nil {
		return "", err
	}
	for name, rows := range tables {
		if err := WriteTable(filepath.Join(runDir, name+".csv"), rows); err != nil {
			return "", fmt.Errorf("export %s: %w", name, err)
		}
	}
	return runDir, nil
}

func WriteTable(path string, rows model.RecordSet) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(rows.Columns); err != nil {
		return err
	}
	record := make([]string, len(rows.Columns))
	for _, row := range rows.Rows {
		for i, v := range row {
			record[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Sync()
}

func ReadTable(path string) (model.RecordSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return model.RecordSet{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return model.RecordSet{}, ErrEmptyHeader
		}
		return model.RecordSet{}, err
	}
	rows := model.NewRecordSet(header...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.RecordSet{}, err
		}
		values := make([]float64, len(record))
		for i, cell := range record {
			values[i], err = strconv.ParseFloat(cell, 64)
			if err != nil {
				return model.RecordSet{}, fmt.Errorf("row %d column %s: %w", rows.Len()+1, header[i], err)
			}
		}
		rows.Append(values...)
	}
	return rows, nil
}

func ReadManifest(runDir string) (model.RunManifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(runDir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunManifest{}, false, nil
		}
		return model.RunManifest{}, false, err
	}
	run, err := storage.DecodeRunManifest(data)
	if err != nil {
		return model.RunManifest{}, false, err
	}
	return run, true, nil
}
