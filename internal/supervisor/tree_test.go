// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/pulsetrack/internal/config"
)

// countingService runs until cancelled, optionally failing its first runs.
type countingService struct {
	name   string
	starts atomic.Int32
	fails  int32
}

func (s *countingService) Serve(ctx context.Context) error {
	n := s.starts.Add(1)
	if n <= s.fails {
		return errors.New("simulated failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSupervisorTreeDefaults(t *testing.T) {
	tree, err := NewSupervisorTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewSupervisorTree: %v", err)
	}
	if tree.Root() == nil {
		t.Fatal("root supervisor is nil")
	}
	if tree.config != DefaultTreeConfig() {
		t.Errorf("config = %+v, want defaults %+v", tree.config, DefaultTreeConfig())
	}
}

func TestTreeConfigFrom(t *testing.T) {
	c := config.Default().Supervisor
	got := TreeConfigFrom(&c)
	if got.FailureThreshold != c.FailureThreshold || got.ShutdownTimeout != c.ShutdownTimeout {
		t.Errorf("TreeConfigFrom = %+v", got)
	}
}

func TestTreeRunsEveryLayer(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
		FailureBackoff:  10 * time.Millisecond,
		ShutdownTimeout: time.Second,
	})
	pipeline := &countingService{name: "tracker"}
	ingest := &countingService{name: "receiver"}
	ops := &countingService{name: "metrics"}
	tree.AddPipelineService(pipeline)
	tree.AddIngestService(ingest)
	tree.AddOpsService(ops)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for pipeline.starts.Load() == 0 || ingest.starts.Load() == 0 || ops.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("services not started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestFailingServiceIsRestarted(t *testing.T) {
	tree, _ := NewSupervisorTree(testLogger(), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})
	svc := &countingService{name: "flaky", fails: 2}
	tree.AddIngestService(svc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	for svc.starts.Load() < 3 {
		if ctx.Err() != nil {
			t.Fatalf("starts = %d, want 3", svc.starts.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh
}
