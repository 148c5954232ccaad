package api

import (
	"net/http"

	"github.com/wellsolve/calcgateway/internal/model"
)

// serviceInfoResponse describes the gateway's capabilities and limits.
type serviceInfoResponse struct {
	ServiceName          string            `json:"serviceName"`
	SupportedFluidTypes  []string          `json:"supportedFluidTypes"`
	SupportedUnitSystems []string          `json:"supportedUnitSystems"`
	SupportedMethods     []string          `json:"supportedSolverMethods"`
	Endpoints            map[string]string `json:"endpoints"`
	Limits               serviceLimits     `json:"limits"`
}

type serviceLimits struct {
	MaxConcurrentCalculations int `json:"maxConcurrentCalculations"`
	MaxEquationsPerRequest    int `json:"maxEquationsPerRequest"`
	CalculationTimeoutSeconds int `json:"calculationTimeoutSeconds"`
	ActiveCalculations        int `json:"activeCalculations"`
}

func (s *Server) handleServiceInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, serviceInfoResponse{
		ServiceName:          "calculation-gateway",
		SupportedFluidTypes:  model.FluidTypes,
		SupportedUnitSystems: model.UnitSystems,
		SupportedMethods:     model.SolverMethods,
		Endpoints: map[string]string{
			"create":   "POST /api/v1/calculations",
			"status":   "GET /api/v1/calculations/{id}",
			"progress": "GET /api/v1/calculations/{id}/progress",
			"ws":       "GET /api/v1/calculations/{id}/ws",
			"cancel":   "DELETE /api/v1/calculations/{id}",
		},
		Limits: serviceLimits{
			MaxConcurrentCalculations: s.cfg.MaxConcurrent,
			MaxEquationsPerRequest:    model.MaxEquationsPerRequest,
			CalculationTimeoutSeconds: int(s.cfg.CalcTimeout.Seconds()),
			ActiveCalculations:        s.engine.ActiveCount(),
		},
	})
}
