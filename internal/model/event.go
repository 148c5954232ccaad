package model

// Progress event type discriminators, carried in the JSON "type" field.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// Stable machine-readable error codes surfaced to clients.
const (
	CodeCalculationFailed    = "CALCULATION_FAILED"
	CodeCalculationCancelled = "CALCULATION_CANCELLED"
	CodeCalculationTimeout   = "CALCULATION_TIMEOUT"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeNotFound             = "CALCULATION_NOT_FOUND"
	CodeLimitExceeded        = "CALCULATION_LIMIT_EXCEEDED"
	CodeValidationFailed     = "VALIDATION_FAILED"
)

// ProgressEvent is one streamed update for a calculation: a Progress update,
// the terminal Result, or a terminal Error. Exactly one Result or Error ends
// every stream.
type ProgressEvent interface {
	EventType() string
	CalculationID() string
}

// Progress is an incremental update emitted while the solver is running.
type Progress struct {
	ID                string  `json:"calculationId"`
	Type              string  `json:"type"`
	Percentage        int     `json:"percentage"`
	Phase             string  `json:"phase"`
	Iteration         int     `json:"iteration"`
	ConvergenceMetric float64 `json:"convergenceMetric"`
	Message           string  `json:"message,omitempty"`
}

func (p Progress) EventType() string     { return EventProgress }
func (p Progress) CalculationID() string { return p.ID }

// Result is the terminal success event carrying the solved volumes.
type Result struct {
	ID       string              `json:"calculationId"`
	Type     string              `json:"type"`
	Volumes  []VolumeRequirement `json:"volumes"`
	Metadata ResultMetadata      `json:"metadata"`
}

func (r Result) EventType() string     { return EventResult }
func (r Result) CalculationID() string { return r.ID }

// Error is a terminal failure event. Synthesized locally for cancellation,
// timeout and backend unavailability; passed through unchanged when the
// backend reports a domain-level error.
type Error struct {
	ID           string `json:"calculationId"`
	Type         string `json:"type"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Suggestion   string `json:"suggestion,omitempty"`
}

func (e Error) EventType() string     { return EventError }
func (e Error) CalculationID() string { return e.ID }

// NewError builds an Error event with the type discriminator set.
func NewError(id, code, message, suggestion string) Error {
	return Error{
		ID:           id,
		Type:         EventError,
		ErrorCode:    code,
		ErrorMessage: message,
		Suggestion:   suggestion,
	}
}

// VolumeRequirement is one fluid volume produced by the solver. The gateway
// forwards these unmodified.
type VolumeRequirement struct {
	FluidType        string  `json:"fluidType"`
	VolumeM3         float64 `json:"volumeM3"`
	VolumeBbl        float64 `json:"volumeBbl"`
	VolumeGal        float64 `json:"volumeGal"`
	CalculationBasis string  `json:"calculationBasis,omitempty"`
}

// ResultMetadata describes how the solver arrived at the result.
type ResultMetadata struct {
	AlgorithmUsed    string  `json:"algorithmUsed"`
	Iterations       int     `json:"iterations"`
	FinalConvergence float64 `json:"finalConvergence"`
	ElapsedMs        int64   `json:"elapsedMs"`
	Converged        bool    `json:"converged"`
	UnitSystem       string  `json:"unitSystem"`
}
