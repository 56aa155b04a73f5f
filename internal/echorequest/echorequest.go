// Package echorequest implements the canonical test-vector request: echo
// a payload back after an optional delay, exercising the processor's
// scheduling and cancellation paths without touching disk or the
// database.
package echorequest

import (
	"context"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// sliceMax bounds a single execute() sleep, keeping the request
// responsive to cancellation even with a large total delay.
const sliceMax = time.Second

// Params is the caller-supplied payload.
type Params struct {
	DelayMs int    `json:"delay_ms"`
	Data    string `json:"data"`
}

// Result is the payload returned once the request succeeds.
type Result struct {
	Data string `json:"data"`
}

// Request echoes Params.Data back after Params.DelayMs milliseconds,
// slicing the wait so CheckCancelling runs at least once per second.
type Request struct {
	*request.Base
	params    Params
	remaining time.Duration
	result    Result
}

// New constructs an echo request in the CREATED state.
func New(base *request.Base, params Params) *Request {
	return &Request{
		Base:      base,
		params:    params,
		remaining: time.Duration(params.DelayMs) * time.Millisecond,
	}
}

// Execute implements request.Executable. It returns true once the delay
// has fully elapsed and the result is ready.
func (r *Request) Execute(ctx context.Context) (bool, error) {
	if err := r.CheckCancelling(); err != nil {
		return false, err
	}

	if r.remaining <= 0 {
		r.result = Result{Data: r.params.Data}
		r.Finish(protocol.StatusSuccess, protocol.ExtNone)
		return true, nil
	}

	slice := r.remaining
	if slice > sliceMax {
		slice = sliceMax
	}

	select {
	case <-time.After(slice):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	r.remaining -= slice
	return false, nil
}

// Result implements request.Executable.
func (r *Request) Result() any { return r.result }
