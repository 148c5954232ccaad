package solver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/wellsolve/calcgateway/internal/backend"
	"github.com/wellsolve/calcgateway/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() model.CalculationRequest {
	r := model.CalculationRequest{
		Equations:         []string{"x + y = 10", "x - y = 2"},
		InitialParameters: []float64{1.0, 1.0},
	}
	r.Normalize()
	return r
}

// fakeSolver listens on a loopback port and runs script against each
// accepted connection after reading the request frame.
func fakeSolver(t *testing.T, script func(conn net.Conn, req calculationRequest)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				var req calculationRequest
				if err := ReadFrame(conn, &req); err != nil {
					return
				}
				script(conn, req)
			}()
		}
	}()

	return ln.Addr().String()
}

func TestCalculateStreamsEvents(t *testing.T) {
	addr := fakeSolver(t, func(conn net.Conn, req calculationRequest) {
		if len(req.Equations) != 2 || req.Options.SolverMethod != "hybr" {
			t.Errorf("unexpected request on wire: %+v", req)
		}
		WriteFrame(conn, &calculationUpdate{
			Type:     updateProgress,
			Progress: &progressUpdate{Percentage: 50, Phase: "SOLVING_EQUATIONS"},
		})
		WriteFrame(conn, &calculationUpdate{
			Type: updateResult,
			Result: &resultUpdate{
				Volumes:  []model.VolumeRequirement{{FluidType: "drilling_mud", VolumeM3: 42}},
				Metadata: model.ResultMetadata{AlgorithmUsed: "hybr", Converged: true},
			},
		})
	})

	c := NewClient(addr, time.Second, testLogger())

	var events []model.ProgressEvent
	err := c.Calculate(context.Background(), "c1", testRequest(), func(ev model.ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventType() != model.EventProgress {
		t.Errorf("event[0] = %q, want progress", events[0].EventType())
	}
	res, ok := events[1].(model.Result)
	if !ok {
		t.Fatalf("event[1] = %T, want Result", events[1])
	}
	if res.Volumes[0].VolumeM3 != 42 {
		t.Errorf("VolumeM3 = %v, want 42", res.Volumes[0].VolumeM3)
	}
}

func TestCalculateDomainErrorEndsStream(t *testing.T) {
	addr := fakeSolver(t, func(conn net.Conn, _ calculationRequest) {
		WriteFrame(conn, &calculationUpdate{
			Type:  updateError,
			Error: &errorUpdate{ErrorCode: "EQUATION_PARSE_ERROR", ErrorMessage: "bad equation"},
		})
	})

	c := NewClient(addr, time.Second, testLogger())

	var events []model.ProgressEvent
	err := c.Calculate(context.Background(), "c1", testRequest(), func(ev model.ProgressEvent) {
		events = append(events, ev)
	})
	// A domain error frame is a normally-terminated stream, not a transport failure.
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if len(events) != 1 || events[0].EventType() != model.EventError {
		t.Fatalf("events = %+v, want one error event", events)
	}
}

func TestCalculateTransportErrorBeforeEvents(t *testing.T) {
	addr := fakeSolver(t, func(conn net.Conn, _ calculationRequest) {
		// Drop the connection without sending anything.
	})

	c := NewClient(addr, time.Second, testLogger())
	err := c.Calculate(context.Background(), "c1", testRequest(), func(model.ProgressEvent) {
		t.Error("no events should be delivered")
	})

	var se *backend.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StreamError", err)
	}
	if se.Started {
		t.Error("Started = true, want false for failure before first event")
	}
}

func TestCalculateTransportErrorMidStream(t *testing.T) {
	addr := fakeSolver(t, func(conn net.Conn, _ calculationRequest) {
		WriteFrame(conn, &calculationUpdate{
			Type:     updateProgress,
			Progress: &progressUpdate{Percentage: 10},
		})
		// Drop before the terminal frame.
	})

	c := NewClient(addr, time.Second, testLogger())

	delivered := 0
	err := c.Calculate(context.Background(), "c1", testRequest(), func(model.ProgressEvent) {
		delivered++
	})

	var se *backend.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StreamError", err)
	}
	if !se.Started {
		t.Error("Started = false, want true after a delivered event")
	}
	if !backend.Started(err) {
		t.Error("backend.Started(err) = false, want true")
	}
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestCalculateContextCancel(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	addr := fakeSolver(t, func(conn net.Conn, _ calculationRequest) {
		<-block // never answer
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := NewClient(addr, time.Second, testLogger())
	err := c.Calculate(ctx, "c1", testRequest(), func(model.ProgressEvent) {})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCalculateDialFailure(t *testing.T) {
	// Reserve a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := NewClient(addr, 200*time.Millisecond, testLogger())
	err = c.Calculate(context.Background(), "c1", testRequest(), func(model.ProgressEvent) {})

	var se *backend.StreamError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StreamError", err)
	}
	if se.Started {
		t.Error("Started should be false on dial failure")
	}
}
