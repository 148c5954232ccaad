package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wellsolve/calcgateway/internal/model"
	"github.com/wellsolve/calcgateway/internal/registry"
)

const maxBodySize = 1 << 20 // 1 MB

// errorResponse is the JSON body for every non-2xx response.
type errorResponse struct {
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// createResponse is the JSON body for a successful POST /api/v1/calculations.
type createResponse struct {
	CalculationID        string `json:"calculationId"`
	Status               string `json:"status"`
	Message              string `json:"message"`
	SSEStreamURL         string `json:"sseStreamUrl"`
	WSSubscriptionURL    string `json:"wsSubscriptionUrl"`
	EstimatedTimeSeconds int    `json:"estimatedTimeSeconds"`
}

// statusResponse is the JSON body for GET /api/v1/calculations/{id}.
type statusResponse struct {
	model.Calculation
	Active            bool   `json:"active"`
	ProgressStreamURL string `json:"progressStreamUrl,omitempty"`
}

func (s *Server) handleCreateCalculation(w http.ResponseWriter, r *http.Request) {
	var req model.CalculationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.CodeValidationFailed,
			"invalid JSON body", "Check the request syntax and try again")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, model.CodeValidationFailed,
			err.Error(), "Correct the request and try again")
		return
	}

	id, err := s.engine.CreateJob(req)
	if err != nil {
		var limitErr *registry.LimitError
		if errors.As(err, &limitErr) {
			s.writeError(w, http.StatusTooManyRequests, model.CodeLimitExceeded,
				fmt.Sprintf("concurrent calculation limit reached: %d of %d active",
					limitErr.Current, limitErr.Max),
				"Wait for running calculations to finish and try again")
			return
		}
		s.logger.Error("create calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to start calculation", "")
		return
	}

	base := "/api/v1/calculations/" + id
	w.Header().Set("Location", base)
	s.writeJSON(w, http.StatusCreated, createResponse{
		CalculationID:        id,
		Status:               model.StateStarted,
		Message:              "Calculation started. Subscribe to the progress stream for updates.",
		SSEStreamURL:         base + "/progress",
		WSSubscriptionURL:    base + "/ws",
		EstimatedTimeSeconds: estimateSeconds(req),
	})
}

// estimateSeconds gives a coarse duration hint proportional to system size.
func estimateSeconds(req model.CalculationRequest) int {
	est := 5 + 2*len(req.Equations)
	if req.Options.MaxIterations > model.DefaultMaxIterations {
		est *= 2
	}
	return est
}

func (s *Server) handleGetCalculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.engine.GetStatus(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeNotFound(w, id)
		return
	}
	if err != nil {
		s.logger.Error("get calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to get calculation", "")
		return
	}

	resp := statusResponse{Calculation: c, Active: c.Active()}
	if c.Active() {
		resp.ProgressStreamURL = "/api/v1/calculations/" + id + "/progress"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelCalculation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.engine.Cancel(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeNotFound(w, id)
		return
	}
	if err != nil {
		s.logger.Error("cancel calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to cancel calculation", "")
		return
	}

	c, err := s.engine.GetStatus(id)
	if err != nil {
		s.logger.Error("get cancelled calculation", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.CodeCalculationFailed,
			"failed to retrieve calculation", "")
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{Calculation: c, Active: c.Active()})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error body with a stable machine-readable code.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message, suggestion string) {
	s.writeJSON(w, status, errorResponse{
		ErrorCode:  code,
		Message:    message,
		Suggestion: suggestion,
	})
}

func (s *Server) writeNotFound(w http.ResponseWriter, id string) {
	s.writeError(w, http.StatusNotFound, model.CodeNotFound,
		fmt.Sprintf("calculation %s not found", id),
		"The calculation may have expired; completed calculations are retained for a limited time")
}
