package api

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/researchflow/internal/domain"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string                 `json:"error"`
	Type    string                 `json:"type"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func statusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeOrchestration:
		return http.StatusConflict
	case domain.ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrorTypeResourceExhausted:
		return http.StatusServiceUnavailable
	case domain.ErrorTypeTransientBackend, domain.ErrorTypeTerminalBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error(), Type: domain.TypeOf(err).String()}

	var de *domain.Error
	if errors.As(err, &de) {
		resp.Details = de.Details
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		resp.Error = "internal error"
		resp.Details = nil
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return domain.NewValidationError("read request body: %v", err)
	}
	if len(data) == 0 {
		return domain.NewValidationError("request body is required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return domain.NewValidationError("malformed json: %v", err)
	}
	return nil
}
