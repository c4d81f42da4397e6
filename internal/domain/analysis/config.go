package analysis

import "encoding/json"

// JobConfigs is the job-configuration blob attached to a run. Each field
// holds the opaque, stage-specific settings for one worker kind; the core
// never interprets the contents. A stage is dispatched only if its
// configuration is present; the analyzer runs for every run and its absent
// configuration is treated as an empty object.
type JobConfigs struct {
	Analyzer  json.RawMessage `json:"analyzer,omitempty"`
	Advisor   json.RawMessage `json:"advisor,omitempty"`
	Scanner   json.RawMessage `json:"scanner,omitempty"`
	Evaluator json.RawMessage `json:"evaluator,omitempty"`
	Reporter  json.RawMessage `json:"reporter,omitempty"`
	Notifier  json.RawMessage `json:"notifier,omitempty"`
}

// ForKind returns the configuration blob for the given worker kind and
// whether that stage is configured to run.
func (c JobConfigs) ForKind(kind WorkerKind) (json.RawMessage, bool) {
	switch kind {
	case WorkerKindAnalyzer:
		// The analyzer is mandatory; a run without an explicit analyzer
		// configuration still runs it.
		if c.Analyzer == nil {
			return json.RawMessage(`{}`), true
		}
		return c.Analyzer, true
	case WorkerKindAdvisor:
		return c.Advisor, c.Advisor != nil
	case WorkerKindScanner:
		return c.Scanner, c.Scanner != nil
	case WorkerKindEvaluator:
		return c.Evaluator, c.Evaluator != nil
	case WorkerKindReporter:
		return c.Reporter, c.Reporter != nil
	case WorkerKindNotifier:
		return c.Notifier, c.Notifier != nil
	default:
		return nil, false
	}
}
