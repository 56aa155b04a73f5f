// Package processor owns the three request queues (new, in-progress,
// finished) and a fixed-size worker-thread pool that drains the new
// queue in priority order, driving each request's Execute method to
// completion.
package processor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

// Request is the surface the processor needs from a concrete request
// type. Every request variant embeds *request.Base, which supplies every
// method here except Execute/Result (request.Executable).
type Request interface {
	request.Executable
	ID() string
	Priority() int
	Status() protocol.Status
	ExtendedStatus() protocol.ExtendedStatus
	Start() error
	Cancel()
	Rollback() error
	Dispose()
	ToJSON(includeResult bool, result any) map[string]any
}

// ServiceState is the processor's own run state, independent of any one
// request's status.
type ServiceState int

const (
	Suspended ServiceState = iota
	Running
	SuspendInProgress
)

func (s ServiceState) String() string {
	switch s {
	case Suspended:
		return "SUSPENDED"
	case Running:
		return "RUNNING"
	case SuspendInProgress:
		return "SUSPEND_IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

// ErrUnknownID is returned by Stop/Track/Dispose when the id names no
// request in any of the three queues.
var ErrUnknownID = errors.New("processor: unknown request id")

// pollInterval bounds how long fetchNextForProcessing blocks before
// re-checking the stop flag when the new queue is empty.
const pollInterval = 250 * time.Millisecond

// Processor owns the new/in-progress/finished containers and the worker
// pool that moves requests between them.
type Processor struct {
	mu   sync.Mutex
	cond *sync.Cond

	numThreads int
	state      ServiceState
	stopping   bool
	running    int

	newQueue   priorityQueue
	inProgress map[string]Request
	finished   map[string]Request

	seq int64

	wg sync.WaitGroup
}

// New constructs a Processor with the given worker-pool size. numThreads
// must be >= 1.
func New(numThreads int) (*Processor, error) {
	if numThreads < 1 {
		return nil, fmt.Errorf("processor: num-threads must be >= 1, got %d", numThreads)
	}
	p := &Processor{
		numThreads: numThreads,
		inProgress: make(map[string]Request),
		finished:   make(map[string]Request),
	}
	p.cond = sync.NewCond(&p.mu)
	heap.Init(&p.newQueue)
	return p, nil
}

// State returns the current service state.
func (p *Processor) State() ServiceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run transitions SUSPENDED -> RUNNING and starts the worker pool. It is
// a no-op if already running.
func (p *Processor) Run(ctx context.Context) {
	p.mu.Lock()
	if p.state != Suspended {
		p.mu.Unlock()
		return
	}
	p.state = Running
	p.stopping = false
	p.running = p.numThreads
	p.mu.Unlock()

	for i := 0; i < p.numThreads; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx, i)
	}
}

// Stop transitions RUNNING -> SUSPEND_IN_PROGRESS and signals every
// worker thread. It returns once all threads have observed the stop
// signal and the state has flipped back to SUSPENDED.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.state != Running {
		p.mu.Unlock()
		return
	}
	p.state = SuspendInProgress
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	p.state = Suspended
	p.stopping = false
	p.mu.Unlock()
}

// Drain cancels every request currently in the new and in-progress
// queues. Cancellation is asynchronous: new-queue requests move to
// CANCELLED immediately; in-progress requests transition to
// IS_CANCELLING and are moved to finished by their worker thread once
// Execute observes cancellation.
func (p *Processor) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, it := range p.newQueue {
		it.req.Cancel()
	}
	for _, req := range p.inProgress {
		req.Cancel()
	}
}

// Submit instantiates no request itself — callers construct the
// concrete Request via the factory/dispatcher and push it here. Submit
// pushes it onto the new queue under the processor lock and signals any
// idle worker thread.
func (p *Processor) Submit(req Request) {
	p.mu.Lock()
	p.seq++
	heap.Push(&p.newQueue, &queueItem{req: req, seq: p.seq})
	p.cond.Broadcast()
	p.mu.Unlock()
}

// StopRequest cancels a single request by id, following the per-state
// move rules:
// in the new queue it is cancelled and moved directly to finished; in
// progress it is cancelled and left for its worker thread to move;
// already finished returns its terminal status; unknown id is
// ErrUnknownID.
func (p *Processor) StopRequest(id string) (protocol.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it, ok := p.newQueue.removeByID(id); ok {
		it.req.Cancel()
		p.finished[id] = it.req
		return it.req.Status(), nil
	}
	if req, ok := p.inProgress[id]; ok {
		req.Cancel()
		return req.Status(), nil
	}
	if req, ok := p.finished[id]; ok {
		return req.Status(), nil
	}
	return protocol.StatusBad, ErrUnknownID
}

// TrackRequest returns the current status of a request without mutating
// it.
func (p *Processor) TrackRequest(id string) (protocol.Status, protocol.ExtendedStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if it, ok := findByID(p.newQueue, id); ok {
		return it.Status(), it.ExtendedStatus(), nil
	}
	if req, ok := p.inProgress[id]; ok {
		return req.Status(), req.ExtendedStatus(), nil
	}
	if req, ok := p.finished[id]; ok {
		return req.Status(), req.ExtendedStatus(), nil
	}
	return protocol.StatusBad, protocol.ExtInvalidID, ErrUnknownID
}

// DisposeRequest removes a finished request from the finished map. It is
// a no-op for unknown ids and returns an error if the request is still
// queued or in-progress (it must be stopped first).
func (p *Processor) DisposeRequest(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req, ok := p.finished[id]; ok {
		req.Dispose()
		delete(p.finished, id)
		return nil
	}
	if _, ok := findByID(p.newQueue, id); ok {
		return fmt.Errorf("processor: request %s is still queued, stop it before disposing", id)
	}
	if _, ok := p.inProgress[id]; ok {
		return fmt.Errorf("processor: request %s is still in progress, stop it before disposing", id)
	}
	return nil
}

// Reconfig applies a change in worker pool size. Shrinking takes effect
// as the excess threads finish their current request and return from
// fetchNextForProcessing during the next Stop/Run cycle; growing spawns
// the additional threads immediately if the processor is running.
func (p *Processor) Reconfig(ctx context.Context, numThreads int) error {
	if numThreads < 1 {
		return fmt.Errorf("processor: num-threads must be >= 1, got %d", numThreads)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delta := numThreads - p.numThreads
	p.numThreads = numThreads
	if delta > 0 && p.state == Running {
		for i := 0; i < delta; i++ {
			p.wg.Add(1)
			go p.workerLoop(ctx, p.numThreads-delta+i)
		}
	}
	return nil
}

func findByID(pq priorityQueue, id string) (Request, bool) {
	for _, it := range pq {
		if it.req.ID() == id {
			return it.req, true
		}
	}
	return nil, false
}

// fetchNextForProcessing pops the highest-priority new request, starts
// it, and moves it to in-progress. If the queue is empty it blocks on
// the condition variable, waking periodically (bounded by pollInterval)
// to re-check the processor's stopping flag.
func (p *Processor) fetchNextForProcessing() Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.newQueue.Len() > 0 {
			it := heap.Pop(&p.newQueue).(*queueItem)
			if err := it.req.Start(); err != nil {
				// Another thread or a concurrent stop raced us; move it
				// into finished with its current status rather than
				// losing it.
				p.finished[it.req.ID()] = it.req
				continue
			}
			p.inProgress[it.req.ID()] = it.req
			return it.req
		}
		if p.stopping {
			return nil
		}

		timer := time.AfterFunc(pollInterval, func() { p.cond.Broadcast() })
		p.cond.Wait()
		timer.Stop()

		if p.stopping && p.newQueue.Len() == 0 {
			return nil
		}
	}
}

// processingRefused moves a request back to the new queue with CREATED
// status after a worker thread was told to stop mid-execution.
func (p *Processor) processingRefused(req Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inProgress, req.ID())
	p.seq++
	heap.Push(&p.newQueue, &queueItem{req: req, seq: p.seq})
	p.cond.Broadcast()
}

// processingFinished moves a request from in-progress to finished.
func (p *Processor) processingFinished(req Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inProgress, req.ID())
	p.finished[req.ID()] = req
}

func (p *Processor) workerLoop(ctx context.Context, threadID int) {
	defer p.wg.Done()
	for {
		req := p.fetchNextForProcessing()
		if req == nil {
			return
		}

		for {
			p.mu.Lock()
			stopRequested := p.stopping
			p.mu.Unlock()
			if stopRequested {
				req.Rollback()
				p.processingRefused(req)
				break
			}

			finished, err := req.Execute(ctx)
			if err != nil && errors.Is(err, request.ErrCancelled) {
				p.processingFinished(req)
				break
			}
			if finished {
				p.processingFinished(req)
				break
			}
		}
	}
}
