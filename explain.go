package guard

import "context"

// Explanation pairs a decision with the step-by-step trace of how the check
// arrived at it. Intended for debugging and admin tooling, not the hot path:
// explained checks bypass the decision cache.
type Explanation struct {
	Result Result   `json:"result"`
	Trace  []string `json:"trace"`
}

// Explain runs the same staged check as Check and records each stage.
func (e *Enforcer) Explain(ctx context.Context, req AccessRequest) (*Explanation, error) {
	trace := make([]string, 0, 8)
	res, err := e.check(ctx, req, &trace)
	if err != nil {
		return nil, err
	}
	return &Explanation{Result: res, Trace: trace}, nil
}
