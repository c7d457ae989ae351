package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/martprice/models"
)

// CSVWriter exports each snapshot as a flat CSV file.
type CSVWriter struct {
	path string
	mu   sync.Mutex
}

// NewCSVWriter prepares a CSV export at filename.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &CSVWriter{path: filename}, nil
}

// Replace rewrites the CSV file with the snapshot rows.
func (cw *CSVWriter) Replace(_ context.Context, snap *models.PriceSnapshot) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	return writeAtomic(cw.path, func(f *os.File) error {
		writer := csv.NewWriter(f)
		header := []string{"item", "price", "link", "mart", "search_keyword", "updated_at"}
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
		for _, e := range snap.Data {
			record := []string{e.Item, e.Price, e.Link, e.Mart, e.SearchKeyword, e.UpdatedAt}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("write csv record: %w", err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush csv records: %w", err)
		}
		return nil
	})
}

// Close is a no-op; every Replace leaves a complete file behind.
func (cw *CSVWriter) Close() error { return nil }

// JSONWriter publishes the snapshot document as a JSON file.
type JSONWriter struct {
	path string
	mu   sync.Mutex
}

// NewJSONWriter prepares a JSON export at filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &JSONWriter{path: filename}, nil
}

// Replace swaps the file for the new document. Readers never see a partial write.
func (jw *JSONWriter) Replace(_ context.Context, snap *models.PriceSnapshot) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	return writeAtomic(jw.path, func(f *os.File) error {
		encoder := json.NewEncoder(f)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snap); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		return nil
	})
}

// Close is a no-op.
func (jw *JSONWriter) Close() error { return nil }

func writeAtomic(path string, fill func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %q: %w", path, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
