package analysis

import "fmt"

// StageRule declares if and when a job for one worker kind becomes
// dispatchable. Instead of conditional scheduling logic per stage, each rule
// names the stages it depends on, and the scheduler generically determines
// when all conditions are met. The canonical pipeline is fixed by deployment
// configuration rather than hard-coded edges.
type StageRule struct {
	// Kind is the worker stage this rule schedules.
	Kind WorkerKind

	// DependsOn lists stages whose jobs must have reached a terminal,
	// non-failing status before this stage can be dispatched. A stage
	// with an unconfigured dependency is never dispatched.
	DependsOn []WorkerKind

	// RunsAfter lists stages this stage must not overtake: it is only
	// dispatched once none of them is still pending. Unlike DependsOn,
	// this stage still runs if those stages are not configured at all.
	RunsAfter []WorkerKind
}

// StageGraph is an ordered set of stage rules forming the pipeline.
type StageGraph struct {
	rules []StageRule
	byKind map[WorkerKind]StageRule
}

// DefaultStageRules returns the canonical pipeline: the analyzer runs first;
// advisor and scanner run in parallel once the dependency graph exists; the
// evaluator consumes all three; reporter and notifier follow in order.
func DefaultStageRules() []StageRule {
	return []StageRule{
		{Kind: WorkerKindAnalyzer},
		{Kind: WorkerKindAdvisor, DependsOn: []WorkerKind{WorkerKindAnalyzer}},
		{Kind: WorkerKindScanner, DependsOn: []WorkerKind{WorkerKindAnalyzer}},
		{Kind: WorkerKindEvaluator, DependsOn: []WorkerKind{WorkerKindAnalyzer}, RunsAfter: []WorkerKind{WorkerKindAdvisor, WorkerKindScanner}},
		{Kind: WorkerKindReporter, RunsAfter: []WorkerKind{WorkerKindEvaluator}},
		{Kind: WorkerKindNotifier, DependsOn: []WorkerKind{WorkerKindReporter}},
	}
}

// NewStageGraph validates the rules and builds a graph. Every rule must name
// a distinct known worker kind, and every referenced dependency must itself
// have a rule appearing earlier in the slice, which rules out cycles.
func NewStageGraph(rules []StageRule) (*StageGraph, error) {
	byKind := make(map[WorkerKind]StageRule, len(rules))
	for _, rule := range rules {
		if _, err := ParseWorkerKind(rule.Kind.String()); err != nil {
			return nil, fmt.Errorf("invalid stage rule: %w", err)
		}
		if _, dup := byKind[rule.Kind]; dup {
			return nil, fmt.Errorf("duplicate stage rule for %s", rule.Kind)
		}
		for _, dep := range append(append([]WorkerKind{}, rule.DependsOn...), rule.RunsAfter...) {
			if _, ok := byKind[dep]; !ok {
				return nil, fmt.Errorf("stage %s references %s, which is not defined earlier in the pipeline", rule.Kind, dep)
			}
		}
		byKind[rule.Kind] = rule
	}
	return &StageGraph{rules: rules, byKind: byKind}, nil
}

// MustStageGraph builds a graph from the given rules and panics on invalid
// input. Intended for the compiled-in default pipeline.
func MustStageGraph(rules []StageRule) *StageGraph {
	g, err := NewStageGraph(rules)
	if err != nil {
		panic(err)
	}
	return g
}

// Rules returns the stage rules in pipeline order.
func (g *StageGraph) Rules() []StageRule { return g.rules }

// Rule returns the rule for the given kind and whether it exists.
func (g *StageGraph) Rule(kind WorkerKind) (StageRule, bool) {
	r, ok := g.byKind[kind]
	return r, ok
}
