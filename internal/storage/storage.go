package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/restyle/internal/models"
)

const batchSize = 10 // Number of records to batch write

// Ledger records completed slides
type Ledger interface {
	// AddRecord adds a single slide record
	AddRecord(ctx context.Context, record models.SlideRecord) error

	// Flush ensures all pending records are saved
	Flush() error

	// Close flushes and releases resources
	Close() error
}

// FileLedger appends slide records to a JSON file in batches
type FileLedger struct {
	records []models.SlideRecord
	mu      sync.Mutex
	path    string
	logger  *slog.Logger
}

// NewFileLedger creates a ledger that writes to path
func NewFileLedger(path string, logger *slog.Logger) *FileLedger {
	return &FileLedger{
		path:   path,
		logger: logger.With("component", "file_ledger"),
	}
}

// Path returns the ledger file location
func (s *FileLedger) Path() string {
	return s.path
}

// AddRecord adds a record to the batch and flushes if the batch is full
func (s *FileLedger) AddRecord(ctx context.Context, record models.SlideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)

	// Write to disk when batch is full
	if len(s.records) >= batchSize {
		if err := s.flush(); err != nil {
			s.logger.Error("error flushing ledger", "error", err)
			return err
		}
	}
	return nil
}

// Flush writes all pending records to disk
func (s *FileLedger) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

// Close flushes pending records
func (s *FileLedger) Close() error {
	return s.Flush()
}

func (s *FileLedger) flush() error {
	if len(s.records) == 0 {
		return nil
	}

	existing, err := ReadRecords(s.path)
	if err != nil {
		return err
	}
	all := append(existing, s.records...)

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for ledger: %w", err)
	}

	// Write beside the target and rename so a crash never leaves half a file
	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(all); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	s.records = nil // Clear the batch
	return nil
}

// ReadRecords loads every record in a ledger file. A missing file holds none.
func ReadRecords(path string) ([]models.SlideRecord, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var records []models.SlideRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal existing records: %w", err)
	}
	return records, nil
}

// Nop discards every record
type Nop struct{}

func (Nop) AddRecord(context.Context, models.SlideRecord) error { return nil }
func (Nop) Flush() error                                        { return nil }
func (Nop) Close() error                                        { return nil }
