package analysis

import (
	"fmt"

	"github.com/complyforge/complyforge/internal/domain/events"
)

// WorkerKind enumerates the fixed set of pipeline stages, each served by an
// independently deployable worker process.
type WorkerKind string

const (
	// WorkerKindAnalyzer builds the dependency graph for a repository.
	WorkerKindAnalyzer WorkerKind = "analyzer"

	// WorkerKindAdvisor looks up vulnerability advisories for the
	// dependencies found by the analyzer.
	WorkerKindAdvisor WorkerKind = "advisor"

	// WorkerKindScanner scans the dependencies for license findings.
	WorkerKindScanner WorkerKind = "scanner"

	// WorkerKindEvaluator evaluates policy rules against the combined
	// analyzer, advisor, and scanner outputs.
	WorkerKindEvaluator WorkerKind = "evaluator"

	// WorkerKindReporter generates reports from the evaluated results.
	WorkerKindReporter WorkerKind = "reporter"

	// WorkerKindNotifier sends notifications once reports are available.
	WorkerKindNotifier WorkerKind = "notifier"
)

// EndpointOrchestrator is the endpoint the orchestrator itself listens on.
// Workers publish their start reports and outcomes here.
const EndpointOrchestrator events.Endpoint = "orchestrator"

func (k WorkerKind) String() string { return string(k) }

// Endpoint returns the logical transport destination bound to this worker
// kind.
func (k WorkerKind) Endpoint() events.Endpoint { return events.Endpoint(k) }

// AllWorkerKinds lists every worker kind in canonical pipeline order.
func AllWorkerKinds() []WorkerKind {
	return []WorkerKind{
		WorkerKindAnalyzer,
		WorkerKindAdvisor,
		WorkerKindScanner,
		WorkerKindEvaluator,
		WorkerKindReporter,
		WorkerKindNotifier,
	}
}

// ParseWorkerKind converts a string to a WorkerKind or returns an error for
// unknown input.
func ParseWorkerKind(s string) (WorkerKind, error) {
	switch WorkerKind(s) {
	case WorkerKindAnalyzer, WorkerKindAdvisor, WorkerKindScanner,
		WorkerKindEvaluator, WorkerKindReporter, WorkerKindNotifier:
		return WorkerKind(s), nil
	default:
		return "", fmt.Errorf("unknown worker kind %q", s)
	}
}
