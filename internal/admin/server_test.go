package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/lsst-qserv/worker-replicad/internal/config"
	"github.com/lsst-qserv/worker-replicad/internal/dispatch"
	"github.com/lsst-qserv/worker-replicad/internal/echorequest"
	"github.com/lsst-qserv/worker-replicad/internal/metrics"
	"github.com/lsst-qserv/worker-replicad/internal/processor"
	"github.com/lsst-qserv/worker-replicad/internal/protocol"
)

func TestHealthAndReadyHandlers(t *testing.T) {
	proc, err := processor.New(1)
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	s := NewServer(proc, metrics.New(), nil, config.AdminConfig{Bind: "127.0.0.1", Port: 28081})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	base := "http://127.0.0.1:28081"
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(base + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before Run(), got %d", resp.StatusCode)
	}
	resp.Body.Close()

	proc.Run(context.Background())
	defer proc.Stop()
	time.Sleep(10 * time.Millisecond)

	resp, err = http.Get(base + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after Run(), got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusHandlerReportsServiceState(t *testing.T) {
	proc, err := processor.New(1)
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	s := NewServer(proc, metrics.New(), nil, config.AdminConfig{Bind: "127.0.0.1", Port: 28082})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", 28082))
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["service_state"] != "SUSPENDED" {
		t.Errorf("expected SUSPENDED, got %v", body["service_state"])
	}
}

func TestSubmitTrackAndStopEchoRequest(t *testing.T) {
	proc, err := processor.New(1)
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	d := &dispatch.Dispatcher{DefaultTimeout: time.Second}
	s := NewServer(proc, metrics.New(), d, config.AdminConfig{Bind: "127.0.0.1", Port: 28083})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()
	proc.Run(context.Background())
	defer proc.Stop()
	time.Sleep(50 * time.Millisecond)

	base := "http://127.0.0.1:28083"
	env := dispatch.Envelope{
		ID:       "echo-1",
		Type:     protocol.TypeEcho,
		Priority: 1,
		Echo:     echorequest.Params{Data: "hello"},
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resp, err := http.Post(base+"/requests", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /requests: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	var trackBody map[string]string
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/requests/echo-1")
		if err != nil {
			t.Fatalf("GET /requests/echo-1: %v", err)
		}
		json.NewDecoder(resp.Body).Decode(&trackBody)
		resp.Body.Close()
		if trackBody["status"] == "SUCCESS" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if trackBody["status"] != "SUCCESS" {
		t.Fatalf("expected SUCCESS, got %v", trackBody)
	}
}
