// Package solver implements the streaming wire client for the remote solver
// service. The wire format is length-prefixed JSON frames over TCP: one
// request frame out, then a stream of update frames back, terminated by a
// single result or error frame.
package solver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/wellsolve/calcgateway/internal/backend"
	"github.com/wellsolve/calcgateway/internal/model"
)

const defaultDialTimeout = 5 * time.Second

// Client dials the solver for each calculation and reads its update stream.
// It implements backend.Client.
type Client struct {
	addr        string
	dialTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates a solver client for the given address.
func NewClient(addr string, dialTimeout time.Duration, logger *slog.Logger) *Client {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Client{addr: addr, dialTimeout: dialTimeout, logger: logger}
}

// Calculate sends the request and relays update frames to onEvent until the
// terminal frame arrives. Cancelling ctx closes the connection, which is the
// only cancellation signal the wire protocol offers; the solver may keep
// working server-side, and any late frames are never read.
func (c *Client) Calculate(ctx context.Context, calculationID string, req model.CalculationRequest, onEvent func(model.ProgressEvent)) error {
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &backend.StreamError{Err: fmt.Errorf("dial solver %s: %w", c.addr, err)}
	}
	defer conn.Close()

	// Close the connection when ctx ends so blocked reads unwind promptly.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return &backend.StreamError{Err: fmt.Errorf("set deadline: %w", err)}
		}
	}

	wireReq := calculationRequest{
		CalculationID:     calculationID,
		Equations:         req.Equations,
		InitialParameters: req.InitialParameters,
		Options: calculationOptions{
			SolverMethod:  req.Options.SolverMethod,
			MaxIterations: req.Options.MaxIterations,
			Tolerance:     req.Options.Tolerance,
			UnitSystem:    req.Options.UnitSystem,
		},
		WellConfig: req.WellConfig,
	}
	if err := WriteFrame(conn, &wireReq); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &backend.StreamError{Err: fmt.Errorf("send request: %w", err)}
	}

	return c.readUpdates(ctx, bufio.NewReader(conn), calculationID, onEvent)
}

// readUpdates reads update frames in a loop, forwarding each converted event.
// The first result or error frame terminates the stream normally.
func (c *Client) readUpdates(ctx context.Context, r *bufio.Reader, calculationID string, onEvent func(model.ProgressEvent)) error {
	started := false
	for {
		var u calculationUpdate
		if err := ReadFrame(r, &u); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &backend.StreamError{Started: started, Err: fmt.Errorf("read update: %w", err)}
		}

		ev, err := toEvent(calculationID, u)
		if err != nil {
			return &backend.StreamError{Started: started, Err: err}
		}

		started = true
		onEvent(ev)

		switch u.Type {
		case updateResult, updateError:
			c.logger.Debug("solver stream completed",
				"calculation_id", calculationID, "terminal", u.Type)
			return nil
		}
	}
}
