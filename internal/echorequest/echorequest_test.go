package echorequest

import (
	"context"
	"testing"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/protocol"
	"github.com/lsst-qserv/worker-replicad/internal/request"
)

func TestZeroDelayCompletesOnFirstExecute(t *testing.T) {
	base := request.NewBase("echo-1", protocol.TypeEcho, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{DelayMs: 0, Data: "xyz"})

	done, err := r.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !done {
		t.Fatal("expected zero-delay echo to finish on the first call")
	}
	if r.Result().(Result).Data != "xyz" {
		t.Errorf("expected echoed data xyz, got %q", r.Result().(Result).Data)
	}
	if base.Status() != protocol.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", base.Status())
	}
	perf := base.Performance()
	if perf.FinishTimeUsec < perf.StartTimeUsec {
		t.Error("expected finish time to be at or after start time")
	}
}

func TestDelayedEchoTakesMultipleExecuteCalls(t *testing.T) {
	base := request.NewBase("echo-2", protocol.TypeEcho, 0, 0, nil, nil)
	_ = base.Start()
	r := New(base, Params{DelayMs: 250, Data: "hi"})
	r2 := &Request{Base: base, params: r.params, remaining: 30 * time.Millisecond}

	calls := 0
	for {
		done, err := r2.Execute(context.Background())
		calls++
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if done {
			break
		}
		if calls > 100 {
			t.Fatal("echo request never completed")
		}
	}
	if calls < 2 {
		t.Errorf("expected at least two Execute calls, got %d", calls)
	}
	if base.Status() != protocol.StatusSuccess {
		t.Errorf("expected SUCCESS, got %s", base.Status())
	}
}

func TestCancelDuringExecuteYieldsCancelled(t *testing.T) {
	base := request.NewBase("echo-3", protocol.TypeEcho, 0, 0, nil, nil)
	_ = base.Start()
	r := &Request{Base: base, params: Params{Data: "hi"}, remaining: time.Hour}

	base.Cancel()
	_, err := r.Execute(context.Background())
	if err != request.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if base.Status() != protocol.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", base.Status())
	}
}
