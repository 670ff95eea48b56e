package guard

import "sync"

// CustomEvaluator implements authorization logic too irregular for the
// declarative rule model. Each evaluator is bound to exactly one workstream.
// Evaluate returns a definitive verdict, or nil to abstain when the evaluator
// does not claim the resource/action in the context.
type CustomEvaluator interface {
	Workstream() string
	Evaluate(ec *EvaluationContext) *EvaluationResult
}

// EvaluatorFunc adapts a function to CustomEvaluator.
type EvaluatorFunc struct {
	WorkstreamID string
	Fn           func(ec *EvaluationContext) *EvaluationResult
}

func (f EvaluatorFunc) Workstream() string { return f.WorkstreamID }

func (f EvaluatorFunc) Evaluate(ec *EvaluationContext) *EvaluationResult { return f.Fn(ec) }

// WorkstreamEvaluatorRegistry dispatches to the custom evaluators registered
// for a workstream. Registration happens at process startup; dispatch is
// read-only and safe for concurrent checks.
type WorkstreamEvaluatorRegistry struct {
	mu         sync.RWMutex
	evaluators map[string][]CustomEvaluator
}

func NewWorkstreamEvaluatorRegistry() *WorkstreamEvaluatorRegistry {
	return &WorkstreamEvaluatorRegistry{evaluators: make(map[string][]CustomEvaluator)}
}

// Register appends ev to its workstream's evaluator list. Many evaluators may
// register for one workstream; dispatch preserves registration order.
func (r *WorkstreamEvaluatorRegistry) Register(ev CustomEvaluator) {
	if ev == nil {
		return
	}
	r.mu.Lock()
	r.evaluators[ev.Workstream()] = append(r.evaluators[ev.Workstream()], ev)
	r.mu.Unlock()
}

// Evaluate invokes the workstream's evaluators in registration order and
// returns the first non-nil result. A nil return means no custom constraint
// applies — the caller's prior decision stands; it is not a denial.
func (r *WorkstreamEvaluatorRegistry) Evaluate(workstream string, ec *EvaluationContext) *EvaluationResult {
	r.mu.RLock()
	evs := r.evaluators[workstream]
	r.mu.RUnlock()
	for _, ev := range evs {
		if res := ev.Evaluate(ec); res != nil {
			return res
		}
	}
	return nil
}

// Registered reports how many evaluators are bound to the workstream.
func (r *WorkstreamEvaluatorRegistry) Registered(workstream string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.evaluators[workstream])
}
