package solver

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wellsolve/calcgateway/internal/model"
)

// MaxFrameSize is the maximum allowed wire frame payload (4 MiB). Solver
// results are small; anything larger indicates a desynchronized stream.
const MaxFrameSize = 4 << 20

// calculationRequest is the JSON payload sent to the solver to start a
// calculation.
type calculationRequest struct {
	CalculationID     string                    `json:"calculation_id"`
	Equations         []string                  `json:"equations"`
	InitialParameters []float64                 `json:"initial_parameters"`
	Options           calculationOptions        `json:"options"`
	WellConfig        *model.WellConfiguration  `json:"well_config,omitempty"`
}

type calculationOptions struct {
	SolverMethod  string  `json:"solver_method"`
	MaxIterations int     `json:"max_iterations"`
	Tolerance     float64 `json:"tolerance"`
	UnitSystem    string  `json:"unit_system"`
}

// Solver→gateway update types.
const (
	updateProgress = "progress"
	updateResult   = "result"
	updateError    = "error"
)

// calculationUpdate is the envelope for all solver→gateway frames. During a
// run the solver sends progress frames; the stream ends with exactly one
// result or error frame.
type calculationUpdate struct {
	Type     string          `json:"type"`
	Progress *progressUpdate `json:"progress,omitempty"`
	Result   *resultUpdate   `json:"result,omitempty"`
	Error    *errorUpdate    `json:"error,omitempty"`
}

type progressUpdate struct {
	Percentage        int     `json:"percentage"`
	Phase             string  `json:"phase"`
	Iteration         int     `json:"iteration"`
	ConvergenceMetric float64 `json:"convergence_metric"`
	Message           string  `json:"message,omitempty"`
}

type resultUpdate struct {
	Volumes  []model.VolumeRequirement `json:"volumes"`
	Metadata model.ResultMetadata      `json:"metadata"`
}

type errorUpdate struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Suggestion   string `json:"suggestion,omitempty"`
}

// WriteFrame writes a length-prefixed JSON frame to w.
// The frame format is: 4-byte big-endian length prefix followed by the JSON payload.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	length := uint32(len(data))
	if err := binary.Write(w, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	return nil
}

// ReadFrame reads a length-prefixed JSON frame from r and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}

	if length > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", length, MaxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal frame: %w", err)
	}

	return nil
}

// toEvent converts a wire update into the model event delivered to the
// orchestrator. Result and Error contents pass through unmodified.
func toEvent(calculationID string, u calculationUpdate) (model.ProgressEvent, error) {
	switch u.Type {
	case updateProgress:
		if u.Progress == nil {
			return nil, fmt.Errorf("progress frame with empty body")
		}
		return model.Progress{
			ID:                calculationID,
			Type:              model.EventProgress,
			Percentage:        u.Progress.Percentage,
			Phase:             u.Progress.Phase,
			Iteration:         u.Progress.Iteration,
			ConvergenceMetric: u.Progress.ConvergenceMetric,
			Message:           u.Progress.Message,
		}, nil
	case updateResult:
		if u.Result == nil {
			return nil, fmt.Errorf("result frame with empty body")
		}
		return model.Result{
			ID:       calculationID,
			Type:     model.EventResult,
			Volumes:  u.Result.Volumes,
			Metadata: u.Result.Metadata,
		}, nil
	case updateError:
		if u.Error == nil {
			return nil, fmt.Errorf("error frame with empty body")
		}
		return model.NewError(calculationID, u.Error.ErrorCode, u.Error.ErrorMessage, u.Error.Suggestion), nil
	default:
		return nil, fmt.Errorf("unknown update type %q", u.Type)
	}
}
