package ports

import "github.com/eleven-am/researchflow/internal/domain"

type EventBus interface {
	Publish(event domain.FlowEvent)
	// Subscribe returns a channel of events for flowID, or for every flow
	// when flowID is empty, and a func that ends the subscription.
	Subscribe(flowID string) (<-chan domain.FlowEvent, func())
	Close()
}
