// Package request implements the abstract request object every concrete
// admin request (echo, replica-create, replica-delete, replica-find,
// replica-find-all, sql, director-index) embeds: identity, priority, the
// status machine, performance timestamps, an error-context accumulator,
// and a single-shot expiration timer.
//
// Go has no shared_from_this/enable_shared_from_this cycle to break, so
// unlike the original hierarchy this package never hands callbacks a
// reference to the request itself — fireExpired posts only the request's
// id to the onExpired callback its creator supplied.
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/protocol"
)

// ErrCancelled is the sentinel an Execute implementation returns from
// CheckCancelling when the request has been asked to stop. The
// worker-thread loop (internal/processor) is the only caller expected to
// observe and handle it.
var ErrCancelled = errors.New("request: cancelled")

// ErrWrongState reports an illegal status transition attempt.
type ErrWrongState struct {
	Op   string
	From protocol.Status
}

func (e *ErrWrongState) Error() string {
	return "request: " + e.Op + " not valid from status " + e.From.String()
}

// Executable is implemented by every concrete request type. Execute runs
// one slice of work and returns true once the request is fully resolved
// (status already set to a terminal value by the implementation).
// Result returns the per-type payload to embed in ToJSON once SUCCESS.
type Executable interface {
	Execute(ctx context.Context) (bool, error)
	Result() any
}

// Poster delivers a callback asynchronously, standing in for the shared
// IO executor the expiration timer posts onExpired to.
type Poster interface {
	Post(fn func())
}

// GoPoster posts by spawning a goroutine. It is the default Poster and
// is adequate for a callback that only needs to run off the timer
// goroutine, never blocking it.
type GoPoster struct{}

// Post implements Poster.
func (GoPoster) Post(fn func()) { go fn() }

// Base carries every field and status-machine method common to all
// concrete request types. Concrete types embed *Base and supply
// Execute/Result via Executable.
type Base struct {
	mu sync.Mutex

	id             string
	typ            protocol.RequestType
	priority       int
	status         protocol.Status
	extendedStatus protocol.ExtendedStatus
	performance    protocol.Performance

	timeout   time.Duration
	timer     *time.Timer
	onExpired func(id string)
	poster    Poster
	disposed  bool

	errCtx errorContext
}

// NewBase constructs a Base in the CREATED state and arms the expiration
// timer if timeout > 0.
func NewBase(id string, typ protocol.RequestType, priority int, timeout time.Duration, onExpired func(string), poster Poster) *Base {
	if poster == nil {
		poster = GoPoster{}
	}
	b := &Base{
		id:        id,
		typ:       typ,
		priority:  priority,
		status:    protocol.StatusCreated,
		timeout:   timeout,
		onExpired: onExpired,
		poster:    poster,
	}
	if timeout > 0 && onExpired != nil {
		b.timer = time.AfterFunc(timeout, b.fireExpired)
	}
	return b
}

func (b *Base) fireExpired() {
	b.mu.Lock()
	cb := b.onExpired
	id := b.id
	p := b.poster
	b.mu.Unlock()
	if cb != nil {
		p.Post(func() { cb(id) })
	}
}

// ID returns the caller-chosen request identifier.
func (b *Base) ID() string { return b.id }

// Type returns the request's type tag.
func (b *Base) Type() protocol.RequestType { return b.typ }

// Priority returns the scheduling priority; higher runs first.
func (b *Base) Priority() int { return b.priority }

// Status returns the current status. Reads are lock-free in spirit but
// still mutex-guarded here since Go has no atomic enum load cheaper than
// a short critical section.
func (b *Base) Status() protocol.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// ExtendedStatus returns the current extended status.
func (b *Base) ExtendedStatus() protocol.ExtendedStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.extendedStatus
}

// Performance returns a copy of the start/finish timestamps.
func (b *Base) Performance() protocol.Performance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.performance
}

func nowUsec() int64 { return time.Now().UnixMicro() }

// Start transitions CREATED -> IN_PROGRESS and records the start time.
func (b *Base) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != protocol.StatusCreated {
		return &ErrWrongState{Op: "start", From: b.status}
	}
	b.status = protocol.StatusInProgress
	b.performance.StartTimeUsec = nowUsec()
	return nil
}

// Stop unconditionally returns the request to CREATED, used when a
// worker thread is told to stop mid-request and the request must go
// back onto the new queue.
func (b *Base) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = protocol.StatusCreated
}

// Rollback returns {CREATED, IN_PROGRESS} to CREATED. From IS_CANCELLING
// it finalizes to CANCELLED and returns ErrCancelled so the caller's
// execute loop unwinds the same way a thrown cancellation sentinel would.
func (b *Base) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case protocol.StatusCreated, protocol.StatusInProgress:
		b.status = protocol.StatusCreated
		return nil
	case protocol.StatusIsCancelling:
		b.finishLocked(protocol.StatusCancelled, protocol.ExtCancelled)
		return ErrCancelled
	default:
		return &ErrWrongState{Op: "rollback", From: b.status}
	}
}

// Cancel requests cancellation. It never blocks: {CREATED, QUEUED,
// CANCELLED} go straight to CANCELLED; {IN_PROGRESS, IS_CANCELLING} move
// to IS_CANCELLING for the worker thread to observe; terminal states are
// idempotent no-ops.
func (b *Base) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.status {
	case protocol.StatusCreated, protocol.StatusQueued, protocol.StatusCancelled:
		b.finishLocked(protocol.StatusCancelled, protocol.ExtCancelled)
	case protocol.StatusInProgress, protocol.StatusIsCancelling:
		b.status = protocol.StatusIsCancelling
	default:
		// SUCCESS, FAILED, BAD: no-op.
	}
}

// CheckCancelling is called by a concrete Execute implementation at every
// safe suspension point. If the request has been asked to cancel, it
// finalizes the status to CANCELLED and returns ErrCancelled.
func (b *Base) CheckCancelling() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == protocol.StatusIsCancelling {
		b.finishLocked(protocol.StatusCancelled, protocol.ExtCancelled)
		return ErrCancelled
	}
	return nil
}

// Finish finalizes the request to SUCCESS, FAILED, or CANCELLED and
// records the finish time. extStatus is written before status so an
// observer reading status=FAILED in any snapshot necessarily also sees
// the non-zero extended code.
func (b *Base) Finish(status protocol.Status, extStatus protocol.ExtendedStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finishLocked(status, extStatus)
}

func (b *Base) finishLocked(status protocol.Status, extStatus protocol.ExtendedStatus) {
	if b.status.IsTerminal() {
		return
	}
	b.extendedStatus = extStatus
	b.status = status
	b.performance.FinishTimeUsec = nowUsec()
	b.stopTimerLocked()
}

// MarkBad finalizes a request rejected at submission time: BAD with the
// given extended status, never having entered the new queue.
func (b *Base) MarkBad(extStatus protocol.ExtendedStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extendedStatus = extStatus
	b.status = protocol.StatusBad
	b.performance.FinishTimeUsec = nowUsec()
	b.stopTimerLocked()
}

// MarkQueued transitions CREATED -> QUEUED. The processor does not call
// it: requests wait in its new queue as CREATED, the only state Start
// accepts.
func (b *Base) MarkQueued() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == protocol.StatusCreated {
		b.status = protocol.StatusQueued
	}
}

func (b *Base) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
}

// Dispose cancels the expiration timer idempotently and clears the
// callback, the one deallocation site a finished request passes through
// before being dropped from the processor's finished map.
func (b *Base) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}
	b.disposed = true
	b.stopTimerLocked()
	b.onExpired = nil
}

// ReportError records a failure into the error-context accumulator,
// honoring first-error-wins: only the first call has any effect.
func (b *Base) ReportError(status protocol.Status, extStatus protocol.ExtendedStatus, message string) {
	b.errCtx.report(status, extStatus, message)
}

// ResolveError returns the first reported failure, if any.
func (b *Base) ResolveError() (status protocol.Status, extStatus protocol.ExtendedStatus, message string, ok bool) {
	return b.errCtx.resolve()
}

// ToJSON renders the common envelope fields. Concrete types call this and
// merge in their type-specific payload and, when SUCCESS and
// includeResult is true, their result.
func (b *Base) ToJSON(includeResult bool, result any) map[string]any {
	b.mu.Lock()
	status := b.status
	extStatus := b.extendedStatus
	perf := b.performance
	out := map[string]any{
		"id":              b.id,
		"type":            b.typ.String(),
		"priority":        b.priority,
		"status":          status.String(),
		"extended_status": extStatus.String(),
		"performance": map[string]int64{
			"start_time_usec":  perf.StartTimeUsec,
			"finish_time_usec": perf.FinishTimeUsec,
		},
	}
	b.mu.Unlock()

	if includeResult && status == protocol.StatusSuccess && result != nil {
		out["result"] = result
	}
	return out
}

// errorContext remembers the first reported (status, extended-status,
// message) triple and ignores subsequent reports.
type errorContext struct {
	mu        sync.Mutex
	reported  bool
	status    protocol.Status
	extStatus protocol.ExtendedStatus
	message   string
}

func (e *errorContext) report(status protocol.Status, extStatus protocol.ExtendedStatus, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reported {
		return
	}
	e.reported = true
	e.status = status
	e.extStatus = extStatus
	e.message = message
}

func (e *errorContext) resolve() (protocol.Status, protocol.ExtendedStatus, string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.extStatus, e.message, e.reported
}
