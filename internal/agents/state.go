package agents

// State keys for agent reports. Each agent writes under its own key so
// no report ever overwrites another.
const (
	KeyTechnicalReport = "technical_report"
	KeyQabbaReport     = "qabba_report"
	KeySentimentReport = "sentiment_report"
	KeyVisualReport    = "visual_report"
	KeyDecisionReport  = "decision_report"
	KeyRiskAssessment  = "risk_assessment"
)

// reportKeys maps agent kind to its state key
var reportKeys = map[Kind]string{
	KindTechnical: KeyTechnicalReport,
	KindQabba:     KeyQabbaReport,
	KindSentiment: KeySentimentReport,
	KindVisual:    KeyVisualReport,
	KindDecision:  KeyDecisionReport,
	KindRisk:      KeyRiskAssessment,
}

// CycleState is the single mutable value threaded through one analysis
// cycle. The graph owns it; agents only read the slices they need.
type CycleState struct {
	ThreadID   string
	Symbol     string
	Timeframe  string
	Cycle      int64
	Price      float64
	Indicators map[string]any

	// Microstructure metrics (OBI, CVD, spread, depth), may be nil
	Microstructure map[string]any
	// External sentiment context, may be nil
	SentimentContext map[string]any
	// Chart artifact rendered externally, may be nil
	ChartImage []byte

	reports map[Kind]Report
}

// NewCycleState creates the state for one cycle
func NewCycleState(threadID, symbol, timeframe string, cycle int64) *CycleState {
	return &CycleState{
		ThreadID:  threadID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Cycle:     cycle,
		reports:   make(map[Kind]Report),
	}
}

// SetReport stores an agent's report under its distinct key
func (s *CycleState) SetReport(r Report) {
	s.reports[r.Kind()] = r
}

// Report returns the stored report for kind, nil when absent
func (s *CycleState) Report(kind Kind) Report {
	return s.reports[kind]
}

// Technical returns the technical report if present
func (s *CycleState) Technical() *TechnicalReport {
	if r, ok := s.reports[KindTechnical].(*TechnicalReport); ok {
		return r
	}
	return nil
}

// Decision returns the decision report if present
func (s *CycleState) Decision() *DecisionReport {
	if r, ok := s.reports[KindDecision].(*DecisionReport); ok {
		return r
	}
	return nil
}

// Risk returns the risk assessment if present
func (s *CycleState) Risk() *RiskAssessment {
	if r, ok := s.reports[KindRisk].(*RiskAssessment); ok {
		return r
	}
	return nil
}

// Reports returns every stored report keyed by its state key
func (s *CycleState) Reports() map[string]Report {
	out := make(map[string]Report, len(s.reports))
	for kind, r := range s.reports {
		out[reportKeys[kind]] = r
	}
	return out
}

// fork returns a shallow copy sharing the read-only slices but with an
// independent report map, so concurrent branches merge without
// interleaved mutation.
func (s *CycleState) fork() *CycleState {
	copied := *s
	copied.reports = make(map[Kind]Report, len(s.reports))
	for k, r := range s.reports {
		copied.reports[k] = r
	}
	return &copied
}
