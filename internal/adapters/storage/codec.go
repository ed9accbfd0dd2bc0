package storage

import (
	"sort"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
)

func encodeFlow(flow *domain.Flow) ([]byte, error) {
	data, err := json.Marshal(flow)
	if err != nil {
		return nil, domain.NewInternalError("encode flow "+flow.ID, err)
	}
	return data, nil
}

func decodeFlow(data []byte) (*domain.Flow, error) {
	var flow domain.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return nil, domain.NewInternalError("decode flow", err)
	}
	return &flow, nil
}

func sortNewestFirst(flows []*domain.Flow) {
	sort.SliceStable(flows, func(i, j int) bool {
		if flows[i].CreatedAt.Equal(flows[j].CreatedAt) {
			return flows[i].ID > flows[j].ID
		}
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
}

func flowExists(id string) error {
	return domain.NewValidationError("flow %s already exists", id)
}
