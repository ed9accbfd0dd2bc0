package ports

import (
	"context"

	"github.com/eleven-am/researchflow/internal/domain"
)

// FlowStore persists whole flow documents keyed by flow id.
type FlowStore interface {
	Create(ctx context.Context, flow *domain.Flow) error
	Get(ctx context.Context, flowID string) (*domain.Flow, error)
	// List returns every flow, newest first.
	List(ctx context.Context) ([]*domain.Flow, error)
	Update(ctx context.Context, flow *domain.Flow) error
	Delete(ctx context.Context, flowID string) error
	Close() error
}
