package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const recentSignalsKept = 100

// SignalRecord is one structured signal line, written as JSONL
type SignalRecord struct {
	Timestamp      time.Time        `json:"timestamp"`
	Symbol         string           `json:"symbol"`
	Timeframe      string           `json:"timeframe"`
	Cycle          int64            `json:"cycle"`
	Decision       string           `json:"decision"`
	Confidence     string           `json:"confidence"`
	Reasoning      string           `json:"reasoning,omitempty"`
	Price          float64          `json:"price"`
	ExecutionTimes map[string]int64 `json:"execution_times,omitempty"`
}

// SignalLog appends signal records to a JSONL file and keeps the most
// recent ones in memory for the status API.
type SignalLog struct {
	mu     sync.Mutex
	file   *os.File
	recent []SignalRecord
}

// NewSignalLog opens (or creates) the signal log at path. An empty path
// keeps signals in memory only.
func NewSignalLog(path string) (*SignalLog, error) {
	s := &SignalLog{}
	if path == "" {
		return s, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create signal log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open signal log: %w", err)
	}
	s.file = file
	return s, nil
}

// Append records one signal
func (s *SignalLog) Append(record SignalRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	} else {
		record.Timestamp = record.Timestamp.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, record)
	if len(s.recent) > recentSignalsKept {
		s.recent = s.recent[len(s.recent)-recentSignalsKept:]
	}

	if s.file == nil {
		return
	}
	line, err := json.Marshal(record)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal signal record")
		return
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		log.Error().Err(err).Msg("Failed to write signal record")
		return
	}
	s.file.Sync()
}

// Recent returns up to n most recent signals, newest first
func (s *SignalLog) Recent(n int) []SignalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]SignalRecord, n)
	for i := 0; i < n; i++ {
		out[i] = s.recent[len(s.recent)-1-i]
	}
	return out
}

// Close flushes and closes the underlying file
func (s *SignalLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
