package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eleven-am/researchflow/internal/core"
	"github.com/eleven-am/researchflow/internal/domain"
)

type createFlowResponse struct {
	FlowID string            `json:"flow_id"`
	Status domain.FlowStatus `json:"status"`
}

func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateFlowRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	flow, err := s.flows.CreateFlow(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/research-flows/"+flow.ID)
	writeJSON(w, http.StatusCreated, createFlowResponse{FlowID: flow.ID, Status: flow.Status})
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.flows.ListFlows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.flows.GetFlow(r.Context(), r.PathValue("flow_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.flows.DeleteFlow(r.Context(), r.PathValue("flow_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transition adapts one orchestrator state change to a POST handler that
// answers with the updated summary.
func (s *Server) transition(op func(context.Context, string) (domain.FlowSummary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := op(r.Context(), r.PathValue("flow_id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.flows.ListResults(r.Context(), r.PathValue("flow_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := core.ExportFormat(r.URL.Query().Get("format"))
	export, err := s.flows.ExportResult(r.Context(), r.PathValue("flow_id"), r.PathValue("result_id"), format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(export.Body)
}
