package solver

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/wellsolve/calcgateway/internal/model"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := calculationUpdate{
		Type: updateProgress,
		Progress: &progressUpdate{
			Percentage:        50,
			Phase:             "SOLVING_EQUATIONS",
			Iteration:         12,
			ConvergenceMetric: 1e-4,
			Message:           "iterating",
		},
	}
	if err := WriteFrame(&buf, &in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	var out calculationUpdate
	if err := ReadFrame(&buf, &out); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if out.Type != updateProgress {
		t.Errorf("Type = %q, want %q", out.Type, updateProgress)
	}
	if out.Progress == nil || out.Progress.Percentage != 50 || out.Progress.Phase != "SOLVING_EQUATIONS" {
		t.Errorf("Progress = %+v", out.Progress)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(MaxFrameSize+1)); err != nil {
		t.Fatalf("write prefix: %v", err)
	}

	var out calculationUpdate
	err := ReadFrame(&buf, &out)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("err = %v, want size error", err)
	}
}

func TestToEvent(t *testing.T) {
	prog, err := toEvent("c1", calculationUpdate{
		Type:     updateProgress,
		Progress: &progressUpdate{Percentage: 75, Phase: "CONVERGING"},
	})
	if err != nil {
		t.Fatalf("toEvent progress: %v", err)
	}
	p, ok := prog.(model.Progress)
	if !ok || p.Percentage != 75 || p.CalculationID() != "c1" {
		t.Errorf("progress event = %+v", prog)
	}

	res, err := toEvent("c1", calculationUpdate{
		Type: updateResult,
		Result: &resultUpdate{
			Volumes:  []model.VolumeRequirement{{FluidType: "cement", VolumeM3: 12.5}},
			Metadata: model.ResultMetadata{AlgorithmUsed: "hybr", Converged: true},
		},
	})
	if err != nil {
		t.Fatalf("toEvent result: %v", err)
	}
	r, ok := res.(model.Result)
	if !ok || len(r.Volumes) != 1 || r.Volumes[0].FluidType != "cement" {
		t.Errorf("result event = %+v", res)
	}

	errEv, err := toEvent("c1", calculationUpdate{
		Type:  updateError,
		Error: &errorUpdate{ErrorCode: "DIVERGED", ErrorMessage: "no convergence"},
	})
	if err != nil {
		t.Fatalf("toEvent error: %v", err)
	}
	e, ok := errEv.(model.Error)
	if !ok || e.ErrorCode != "DIVERGED" {
		t.Errorf("error event = %+v", errEv)
	}

	if _, err := toEvent("c1", calculationUpdate{Type: "telemetry"}); err == nil {
		t.Error("unknown update type should fail")
	}
	if _, err := toEvent("c1", calculationUpdate{Type: updateResult}); err == nil {
		t.Error("result frame without body should fail")
	}
}
