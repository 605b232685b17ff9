// Package alerts dispatches operational alerts (risk mode changes,
// blocked trades, execution failures) to pluggable channels through a
// bounded queue with per-channel cooldown.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Level is the alert severity
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{
	LevelInfo:     0,
	LevelWarning:  1,
	LevelCritical: 2,
}

// AtLeast reports whether l is at or above min. Unknown levels rank
// lowest so a misconfigured min_level never silences CRITICAL.
func (l Level) AtLeast(min Level) bool {
	return levelRank[l] >= levelRank[min]
}

// Alert is one outbound notification
type Alert struct {
	Level     Level                  `json:"level"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Mode      string                 `json:"mode,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	RiskBias  float64                `json:"risk_bias,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel delivers alerts to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}

// RiskAlert builds the payload for a risk governor transition
func RiskAlert(mode, reason string, riskBias float64, metrics map[string]interface{}) Alert {
	level := LevelWarning
	if mode == "SEVERE" {
		level = LevelCritical
	}
	return Alert{
		Level:    level,
		Title:    fmt.Sprintf("Risk mode %s", mode),
		Message:  reason,
		Mode:     mode,
		Reason:   reason,
		RiskBias: riskBias,
		Metrics:  metrics,
	}
}

// LogChannel writes alerts to the structured log. Always configured so
// every alert leaves a trace even with no external channels.
type LogChannel struct{}

func (LogChannel) Name() string { return "log" }

func (LogChannel) Send(_ context.Context, alert Alert) error {
	event := log.Warn()
	if alert.Level == LevelCritical {
		event = log.Error()
	} else if alert.Level == LevelInfo {
		event = log.Info()
	}

	for key, value := range alert.Metrics {
		event = event.Interface(key, value)
	}
	event.
		Str("alert_title", alert.Title).
		Str("alert_level", string(alert.Level)).
		Msg(alert.Message)
	return nil
}
