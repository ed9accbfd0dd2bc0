package domain

type FlowStatus string

const (
	FlowStatusPending   FlowStatus = "pending"
	FlowStatusRunning   FlowStatus = "running"
	FlowStatusPaused    FlowStatus = "paused"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusCancelled FlowStatus = "cancelled"
)

var flowTransitions = map[FlowStatus][]FlowStatus{
	FlowStatusPending: {FlowStatusRunning, FlowStatusCancelled},
	FlowStatusRunning: {FlowStatusPaused, FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled},
	FlowStatusPaused:  {FlowStatusRunning, FlowStatusCancelled},
}

func (s FlowStatus) IsTerminal() bool {
	return s == FlowStatusCompleted || s == FlowStatusFailed || s == FlowStatusCancelled
}

func (s FlowStatus) IsValid() bool {
	switch s {
	case FlowStatusPending, FlowStatusRunning, FlowStatusPaused,
		FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether to is a legal successor of s. Terminal
// states have no successors.
func (s FlowStatus) CanTransition(to FlowStatus) bool {
	for _, next := range flowTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusCancelled, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusPaused, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled},
	TaskStatusPaused:  {TaskStatusRunning, TaskStatusCancelled, TaskStatusFailed},
}

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

func (s TaskStatus) IsActive() bool {
	return s == TaskStatusRunning || s == TaskStatusPaused
}

// CanTransition mirrors FlowStatus.CanTransition. pending→failed exists for
// tasks whose dependency can no longer complete; paused→failed for a unit of
// work that was in flight when the pause arrived and then failed.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
