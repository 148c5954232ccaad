package model

import (
	"errors"
	"fmt"
)

// Solver option defaults and bounds.
const (
	DefaultSolverMethod  = "hybr"
	DefaultMaxIterations = 1000
	DefaultTolerance     = 1e-8
	DefaultUnitSystem    = "metric"

	MinIterations = 1
	MaxIterations = 100000

	// MaxEquationsPerRequest bounds request size.
	MaxEquationsPerRequest = 50
)

// SolverMethods lists the supported numerical solver methods.
var SolverMethods = []string{"hybr", "lm", "broyden1"}

// UnitSystems lists the supported unit systems.
var UnitSystems = []string{"metric", "imperial"}

// FluidTypes lists the supported fluid types for well operations.
var FluidTypes = []string{
	"drilling_mud",
	"cement",
	"completion_fluid",
	"spacer_fluid",
	"displacement_fluid",
}

// CalculationRequest describes a calculation to run on the solver backend.
type CalculationRequest struct {
	Equations         []string           `json:"equations"`
	InitialParameters []float64          `json:"initialParameters"`
	Options           CalculationOptions `json:"options"`
	WellConfig        *WellConfiguration `json:"wellConfig,omitempty"`
}

// CalculationOptions configures the numerical solver.
type CalculationOptions struct {
	SolverMethod  string  `json:"solverMethod,omitempty"`
	MaxIterations int     `json:"maxIterations,omitempty"`
	Tolerance     float64 `json:"tolerance,omitempty"`
	UnitSystem    string  `json:"unitSystem,omitempty"`
}

// WellConfiguration describes the well a calculation applies to.
type WellConfiguration struct {
	WellName       string  `json:"wellName"`
	FieldName      string  `json:"fieldName"`
	DepthMeters    float64 `json:"depthMeters"`
	DiameterInches float64 `json:"diameterInches"`
	FluidType      string  `json:"fluidType"`
}

// Normalize fills unset options with their defaults.
func (r *CalculationRequest) Normalize() {
	if r.Options.SolverMethod == "" {
		r.Options.SolverMethod = DefaultSolverMethod
	}
	if r.Options.MaxIterations == 0 {
		r.Options.MaxIterations = DefaultMaxIterations
	}
	if r.Options.Tolerance == 0 {
		r.Options.Tolerance = DefaultTolerance
	}
	if r.Options.UnitSystem == "" {
		r.Options.UnitSystem = DefaultUnitSystem
	}
}

// Validate checks the request after normalization. It returns the first
// violation found; requests that fail validation never reach the registry.
func (r *CalculationRequest) Validate() error {
	if len(r.Equations) == 0 {
		return errors.New("at least one equation is required")
	}
	if len(r.Equations) > MaxEquationsPerRequest {
		return fmt.Errorf("at most %d equations per request", MaxEquationsPerRequest)
	}
	for i, eq := range r.Equations {
		if eq == "" {
			return fmt.Errorf("equation %d is blank", i)
		}
	}
	if len(r.InitialParameters) == 0 {
		return errors.New("initial parameters are required")
	}
	if !contains(SolverMethods, r.Options.SolverMethod) {
		return fmt.Errorf("unknown solver method %q", r.Options.SolverMethod)
	}
	if r.Options.MaxIterations < MinIterations || r.Options.MaxIterations > MaxIterations {
		return fmt.Errorf("maxIterations must be in [%d,%d]", MinIterations, MaxIterations)
	}
	if r.Options.Tolerance <= 0 {
		return errors.New("tolerance must be positive")
	}
	if !contains(UnitSystems, r.Options.UnitSystem) {
		return fmt.Errorf("unknown unit system %q", r.Options.UnitSystem)
	}
	if wc := r.WellConfig; wc != nil {
		if wc.WellName == "" {
			return errors.New("wellName is required")
		}
		if wc.FieldName == "" {
			return errors.New("fieldName is required")
		}
		if wc.DepthMeters <= 0 {
			return errors.New("depthMeters must be positive")
		}
		if wc.DiameterInches <= 0 {
			return errors.New("diameterInches must be positive")
		}
		if !contains(FluidTypes, wc.FluidType) {
			return fmt.Errorf("unknown fluid type %q", wc.FluidType)
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
