package domain

import "fmt"

// FailurePolicy decides the terminal status of a flow once every task has
// reached a terminal state.
//
// With no tolerance the flow fails only when nothing completed and at least
// one task failed. With a tolerance f the flow fails when failed/total > f.
type FailurePolicy struct {
	Tolerance *float64
}

func (p FailurePolicy) Evaluate(c TaskCounts) (FlowStatus, string) {
	if c.Total == 0 {
		return FlowStatusFailed, "flow has no tasks"
	}

	if p.Tolerance == nil {
		if c.Completed == 0 && c.Failed > 0 {
			return FlowStatusFailed, fmt.Sprintf("all %d attempted tasks failed", c.Failed)
		}
		if c.Completed == 0 && c.Cancelled == c.Total {
			return FlowStatusCancelled, ""
		}
		return FlowStatusCompleted, ""
	}

	ratio := float64(c.Failed) / float64(c.Total)
	if ratio > *p.Tolerance {
		return FlowStatusFailed, fmt.Sprintf("%d of %d tasks failed, above tolerance %.2f", c.Failed, c.Total, *p.Tolerance)
	}
	return FlowStatusCompleted, ""
}

// PolicyFor resolves the tolerance for a flow, falling back to the process default.
func PolicyFor(f *Flow, fallback *float64) FailurePolicy {
	if f.FailureTolerance != nil {
		return FailurePolicy{Tolerance: f.FailureTolerance}
	}
	return FailurePolicy{Tolerance: fallback}
}
