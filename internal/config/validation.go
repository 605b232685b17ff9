package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates configuration problems
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(msgs, "; "))
}

var validTimeframes = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true,
	"30m": true, "1h": true, "4h": true, "1d": true,
}

// Validate checks the configuration for internal consistency
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Trading.Mode != "paper" && c.Trading.Mode != "live" {
		errs = append(errs, ValidationError{
			Field:   "trading.mode",
			Message: fmt.Sprintf("must be \"paper\" or \"live\", got %q", c.Trading.Mode),
		})
	}
	if c.Trading.Symbol == "" {
		errs = append(errs, ValidationError{
			Field:   "trading.symbol",
			Message: "cannot be empty",
		})
	}
	if !validTimeframes[c.Trading.Timeframe] {
		errs = append(errs, ValidationError{
			Field:   "trading.timeframe",
			Message: fmt.Sprintf("unsupported timeframe %q", c.Trading.Timeframe),
		})
	}
	if c.Trading.MinKlinesToStart <= 0 {
		errs = append(errs, ValidationError{
			Field:   "trading.min_klines_to_start",
			Message: "must be positive",
		})
	}
	if c.Trading.BaseRiskPerTrade <= 0 || c.Trading.BaseRiskPerTrade > 0.1 {
		errs = append(errs, ValidationError{
			Field:   "trading.base_risk_per_trade",
			Message: "must be in (0, 0.1]",
		})
	}

	switch c.Risk.Profile {
	case "conservative", "moderate", "aggressive":
	default:
		errs = append(errs, ValidationError{
			Field:   "risk_management.profile",
			Message: fmt.Sprintf("unknown profile %q", c.Risk.Profile),
		})
	}
	if c.Risk.DrawdownCaution >= c.Risk.DrawdownSevere {
		errs = append(errs, ValidationError{
			Field:   "risk_management.drawdown_caution_pct",
			Message: "CAUTION threshold must be below SEVERE threshold",
		})
	}
	if c.Risk.DailyLossCaution >= c.Risk.DailyLossSevere {
		errs = append(errs, ValidationError{
			Field:   "risk_management.daily_loss_caution_pct",
			Message: "CAUTION threshold must be below SEVERE threshold",
		})
	}
	if c.Risk.LossStreakCaution >= c.Risk.LossStreakSevere {
		errs = append(errs, ValidationError{
			Field:   "risk_management.loss_streak_caution",
			Message: "CAUTION streak must be below SEVERE streak",
		})
	}

	if c.LLM.Endpoint == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.endpoint",
			Message: "cannot be empty",
		})
	}
	if c.LLM.PrimaryModel == "" {
		errs = append(errs, ValidationError{
			Field:   "llm.primary_model",
			Message: "cannot be empty",
		})
	}
	if c.Agents.MaxRetries < 1 {
		errs = append(errs, ValidationError{
			Field:   "agents.max_retries",
			Message: "must be at least 1",
		})
	}

	switch c.Alerts.MinLevel {
	case "INFO", "WARNING", "CRITICAL":
	default:
		errs = append(errs, ValidationError{
			Field:   "alerts.min_level",
			Message: fmt.Sprintf("must be INFO, WARNING, or CRITICAL, got %q", c.Alerts.MinLevel),
		})
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, ValidationError{
			Field:   "api.port",
			Message: "must be a valid TCP port",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
