package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalLogAppendAndRecent(t *testing.T) {
	s, err := NewSignalLog("")
	require.NoError(t, err)

	s.Append(SignalRecord{Symbol: "BTCUSDT", Decision: "HOLD", Price: 100})
	s.Append(SignalRecord{Symbol: "BTCUSDT", Decision: "BUY", Price: 101})
	s.Append(SignalRecord{Symbol: "BTCUSDT", Decision: "SELL", Price: 102})

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "SELL", recent[0].Decision, "newest first")
	assert.Equal(t, "BUY", recent[1].Decision)

	all := s.Recent(0)
	assert.Len(t, all, 3)
}

func TestSignalLogBoundedMemory(t *testing.T) {
	s, err := NewSignalLog("")
	require.NoError(t, err)

	for i := 0; i < recentSignalsKept+20; i++ {
		s.Append(SignalRecord{Decision: "HOLD", Cycle: int64(i)})
	}

	recent := s.Recent(0)
	assert.Len(t, recent, recentSignalsKept)
	assert.Equal(t, int64(recentSignalsKept+19), recent[0].Cycle)
}

func TestSignalLogWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals", "signals.jsonl")
	s, err := NewSignalLog(path)
	require.NoError(t, err)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Append(SignalRecord{
		Timestamp:  ts,
		Symbol:     "BTCUSDT",
		Timeframe:  "3m",
		Cycle:      7,
		Decision:   "BUY",
		Confidence: "HIGH",
		Reasoning:  "momentum and flow agree",
		Price:      65000,
		ExecutionTimes: map[string]int64{
			"cycle_ms": 1234,
		},
	})
	s.Append(SignalRecord{Timestamp: ts.Add(3 * time.Minute), Symbol: "BTCUSDT", Decision: "HOLD", Price: 65100})
	require.NoError(t, s.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []SignalRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record SignalRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "BUY", lines[0].Decision)
	assert.Equal(t, ts, lines[0].Timestamp)
	assert.Equal(t, int64(1234), lines[0].ExecutionTimes["cycle_ms"])
	assert.Equal(t, "HOLD", lines[1].Decision)
}

func TestSignalLogReopenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signals.jsonl")

	s1, err := NewSignalLog(path)
	require.NoError(t, err)
	s1.Append(SignalRecord{Decision: "BUY"})
	require.NoError(t, s1.Close())

	s2, err := NewSignalLog(path)
	require.NoError(t, err)
	s2.Append(SignalRecord{Decision: "SELL"})
	require.NoError(t, s2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(data)))
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}
