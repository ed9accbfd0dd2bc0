package ports

import (
	"context"

	"github.com/eleven-am/researchflow/internal/domain"
)

// FetchRequest asks for one page. Page is zero-based; Cursor is the value a
// previous Page returned in NextCursor, empty for the first page.
type FetchRequest struct {
	Config   map[string]interface{}
	Page     int
	PageSize int
	Cursor   string
	APIKey   string
}

type Page struct {
	Items      []domain.Item
	HasMore    bool
	NextCursor string
}

// Source is one research backend. A single Fetch call retrieves one page,
// which is the unit a task checkpoints on.
type Source interface {
	Name() string
	Defaults() map[string]interface{}
	Validate(config map[string]interface{}) error
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)
}

type SourceRegistry interface {
	Get(name string) (Source, bool)
	Names() []string
}
