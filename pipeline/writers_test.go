package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aluiziolira/martprice/models"
)

func testSnapshot() *models.PriceSnapshot {
	return &models.PriceSnapshot{
		Data: []models.PriceEntry{
			entry("Shin Ramyun 5x120g", "REWE"),
			entry("Nongshim Shin", "Knuspr"),
		},
		LastGlobalUpdate: "2025-03-01T09:00:00Z",
		RunID:            "run-1",
		SchemaVersion:    models.SchemaVersion,
	}
}

func TestCSVWriterReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "prices.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Replace(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	// The second snapshot fully replaces the first.
	single := testSnapshot()
	single.Data = single.Data[:1]
	if err := writer.Replace(context.Background(), single); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "item" || records[0][3] != "mart" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][1] != "1,99 €" {
		t.Fatalf("price = %q, want raw text", records[1][1])
	}
}

func TestJSONWriterReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "latest.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Replace(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("replace: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var got models.PriceSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(got.Data) != 2 || got.LastGlobalUpdate != "2025-03-01T09:00:00Z" {
		t.Fatalf("unexpected document: %+v", got)
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, ".latest.json.*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestMultiWriterReplace(t *testing.T) {
	tests := []struct {
		name         string
		primaryErr   error
		mirrorErr    error
		wantErr      bool
		wantMirrored int
		wantFailures int64
	}{
		{name: "all healthy", wantMirrored: 1},
		{name: "primary fails", primaryErr: errors.New("store down"), wantErr: true},
		{name: "mirror fails", mirrorErr: errors.New("s3 down"), wantMirrored: 1, wantFailures: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &mockWriter{err: tt.primaryErr}
			failing := &mockWriter{err: tt.mirrorErr}
			mirror := &mockWriter{}

			mw := NewMultiWriter(primary, nil, failing, mirror)
			err := mw.Replace(context.Background(), testSnapshot())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Replace error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.primaryErr) {
				t.Fatalf("expected primary error to be wrapped, got %v", err)
			}
			if got := len(mirror.calls()); got != tt.wantMirrored {
				t.Fatalf("mirror received %d snapshots, want %d", got, tt.wantMirrored)
			}
			if got := mw.MirrorFailures(); got != tt.wantFailures {
				t.Fatalf("MirrorFailures = %d, want %d", got, tt.wantFailures)
			}
			if err := mw.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}
}

func TestMultiWriterEmpty(t *testing.T) {
	if err := NewMultiWriter(nil).Replace(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("empty writer should accept the snapshot: %v", err)
	}
}

func TestS3WriterReplace(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		ctype  string
		body   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		path = r.URL.Path
		ctype = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	writer, err := NewS3Writer(context.Background(), S3Options{
		Bucket:    "prices",
		Key:       "prices/latest.json",
		Endpoint:  server.URL,
		Region:    "auto",
		AccessKey: "test",
		SecretKey: "test",
	})
	if err != nil {
		t.Fatalf("new s3 writer: %v", err)
	}
	if err := writer.Replace(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("replace: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("method = %s, want PUT", method)
	}
	if path != "/prices/prices/latest.json" {
		t.Fatalf("path = %s", path)
	}
	if ctype != "application/json" {
		t.Fatalf("content type = %s", ctype)
	}
	var got models.PriceSnapshot
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode uploaded body: %v", err)
	}
	if got.RunID != "run-1" {
		t.Fatalf("runId = %q", got.RunID)
	}
}

func TestNewS3WriterRequiresBucket(t *testing.T) {
	if _, err := NewS3Writer(context.Background(), S3Options{Key: "k"}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}
