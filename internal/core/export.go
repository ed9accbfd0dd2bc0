package core

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
)

type ExportFormat string

const (
	ExportJSON     ExportFormat = "json"
	ExportMarkdown ExportFormat = "markdown"
)

type Export struct {
	Filename    string
	ContentType string
	Body        []byte
}

func (o *Orchestrator) ListResults(ctx context.Context, flowID string) ([]domain.ResultRecord, error) {
	flow, err := o.store.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	if flow.Results == nil {
		return []domain.ResultRecord{}, nil
	}
	return flow.Results, nil
}

func (o *Orchestrator) ExportResult(ctx context.Context, flowID, resultID string, format ExportFormat) (*Export, error) {
	flow, err := o.store.Get(ctx, flowID)
	if err != nil {
		return nil, err
	}
	record, ok := flow.Result(resultID)
	if !ok {
		return nil, domain.NewNotFoundError("result", resultID)
	}

	switch strings.ToLower(string(format)) {
	case "", string(ExportJSON):
		body, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return nil, domain.NewInternalError("encode result", err)
		}
		return &Export{
			Filename:    fmt.Sprintf("%s-%s.json", slug(record.TaskName), shortID(record.ResultID)),
			ContentType: "application/json",
			Body:        body,
		}, nil
	case string(ExportMarkdown), "md":
		return &Export{
			Filename:    fmt.Sprintf("%s-%s.md", slug(record.TaskName), shortID(record.ResultID)),
			ContentType: "text/markdown; charset=utf-8",
			Body:        []byte(renderMarkdown(flow, record)),
		}, nil
	default:
		return nil, domain.NewValidationError("unsupported export format %q, use json or markdown", format)
	}
}

func renderMarkdown(flow *domain.Flow, r *domain.ResultRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.TaskName)
	fmt.Fprintf(&b, "- Flow: %s\n", flow.Name)
	fmt.Fprintf(&b, "- Source: %s\n", r.Source)
	fmt.Fprintf(&b, "- Items: %d\n", len(r.Items))
	fmt.Fprintf(&b, "- Retrieved: %s\n\n", r.CreatedAt.Format("2006-01-02 15:04:05 MST"))

	for i, item := range r.Items {
		title := item.Title
		if title == "" {
			title = "Untitled"
		}
		if item.URL != "" {
			fmt.Fprintf(&b, "## %d. [%s](%s)\n\n", i+1, title, item.URL)
		} else {
			fmt.Fprintf(&b, "## %d. %s\n\n", i+1, title)
		}
		if item.PublishedAt != nil {
			fmt.Fprintf(&b, "_Published %s_\n\n", item.PublishedAt.Format("2006-01-02"))
		}
		if item.Snippet != "" {
			fmt.Fprintf(&b, "%s\n\n", item.Snippet)
		}
	}
	return b.String()
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "result"
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
