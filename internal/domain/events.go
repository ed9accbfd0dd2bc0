package domain

import "time"

type EventType string

const (
	EventFlowCreated EventType = "flow.created"
	EventFlowStatus  EventType = "flow.status_changed"
	EventFlowUpdated EventType = "flow.updated"
	EventTaskUpdated EventType = "task.updated"
	EventFlowStalled EventType = "flow.stalled"
	EventFlowDeleted EventType = "flow.deleted"
)

// FlowEvent carries a full snapshot of the flow after the change, so a
// subscriber that missed earlier events still converges on current state.
// Flow is nil for EventFlowDeleted.
type FlowEvent struct {
	Type      EventType `json:"type"`
	FlowID    string    `json:"flow_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Flow      *Flow     `json:"flow,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewFlowEvent(t EventType, flow *Flow, taskID string) FlowEvent {
	return FlowEvent{
		Type:      t,
		FlowID:    flow.ID,
		TaskID:    taskID,
		Flow:      flow.Clone(),
		Timestamp: flow.UpdatedAt,
	}
}

func (e FlowEvent) IsTerminal() bool {
	if e.Type == EventFlowDeleted {
		return true
	}
	return e.Flow != nil && e.Flow.Status.IsTerminal()
}
