package risk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stateLine is one JSONL row of the persisted governor state
type stateLine struct {
	Timestamp      time.Time `json:"timestamp"`
	TradingDay     string    `json:"trading_day"`
	DailyPnL       float64   `json:"daily_pnl"`
	PeakBalance    float64   `json:"peak_balance"`
	CurrentBalance float64   `json:"current_balance"`
	CurrentMode    string    `json:"current_mode"`
	RiskBias       float64   `json:"risk_bias"`
}

// statePersister appends state lines to a JSONL file and restores the
// last line on startup.
type statePersister struct {
	path string
	file *os.File
}

func newStatePersister(path string) (*statePersister, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open risk state log: %w", err)
	}
	return &statePersister{path: path, file: file}, nil
}

// append writes one line and syncs so the state survives crashes
func (p *statePersister) append(line stateLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("failed to marshal state line: %w", err)
	}
	if _, err := p.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append state line: %w", err)
	}
	return p.file.Sync()
}

// lastLine reads the final parseable line of the state log
func (p *statePersister) lastLine() (stateLine, bool) {
	f, err := os.Open(p.path)
	if err != nil {
		return stateLine{}, false
	}
	defer f.Close()

	var last stateLine
	found := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line stateLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		last = line
		found = true
	}
	return last, found
}

func (p *statePersister) close() error {
	return p.file.Close()
}
