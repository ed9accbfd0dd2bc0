package core

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

func TestExportResult(t *testing.T) {
	h := newHarness(t, []ports.Source{newFakeSource("web", 1)})
	ctx := context.Background()

	flow := h.start(t, domain.CreateFlowRequest{Name: "export", Tasks: []domain.TaskSpec{task("Rust Async Runtimes", "web")}})
	done := h.waitStatus(t, flow.ID, domain.FlowStatusCompleted)
	resultID := done.Results[0].ResultID

	results, err := h.o.ListResults(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	t.Run("json", func(t *testing.T) {
		out, err := h.o.ExportResult(ctx, flow.ID, resultID, ExportJSON)
		require.NoError(t, err)
		assert.Equal(t, "application/json", out.ContentType)
		assert.Equal(t, "rust-async-runtimes-"+resultID[:8]+".json", out.Filename)

		var record domain.ResultRecord
		require.NoError(t, json.Unmarshal(out.Body, &record))
		assert.Equal(t, resultID, record.ResultID)
		assert.Len(t, record.Items, 2)
	})

	t.Run("markdown", func(t *testing.T) {
		out, err := h.o.ExportResult(ctx, flow.ID, resultID, ExportMarkdown)
		require.NoError(t, err)
		assert.Contains(t, out.ContentType, "text/markdown")
		body := string(out.Body)
		assert.Contains(t, body, "# Rust Async Runtimes")
		assert.Contains(t, body, "- Flow: export")
		assert.Contains(t, body, "(https://example.com/web/0/0)")
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := h.o.ExportResult(ctx, flow.ID, resultID, "pdf")
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("unknown result", func(t *testing.T) {
		_, err := h.o.ExportResult(ctx, flow.ID, "nope", ExportJSON)
		assert.True(t, domain.IsNotFound(err))
	})
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Rust Async Runtimes": "rust-async-runtimes",
		"  --weird__name!! ":  "weird-name",
		"???":                 "result",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
