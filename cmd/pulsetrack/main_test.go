// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/store"
)

// seedLog writes n single-event batches to a sqlite log at dbPath.
func seedLog(t *testing.T, dbPath string, n int) {
	t.Helper()
	kv, err := storage.Open(storage.Options{Driver: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	log, err := store.Open(context.Background(), kv, store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		b := models.Batch{SessionID: "sess-1", Events: []models.TrackingEvent{
			{EventType: models.EventMouseClick, Timestamp: int64(i), SessionID: "sess-1"},
		}}
		p, err := b.Encode(models.PayloadBatch)
		if err != nil {
			t.Fatal(err)
		}
		if _, _, err := log.WriteAhead(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
}

func writeConfig(t *testing.T, dir, endpoint string) string {
	t.Helper()
	path := filepath.Join(dir, "pulsetrack.yaml")
	content := `
tracker:
  events_endpoint: ` + endpoint + `
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "log.db") + `
metrics:
  enabled: false
logging:
  level: error
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("pulsetrack %v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestReplayLogList(t *testing.T) {
	dir := t.TempDir()
	seedLog(t, filepath.Join(dir, "log.db"), 2)
	cfg := writeConfig(t, dir, "http://127.0.0.1:1/api/events")

	out := execute(t, "--config", cfg, "replay-log")
	if !strings.Contains(out, "SEQ") || strings.Count(out, "sess-1") != 2 {
		t.Errorf("output:\n%s", out)
	}
}

func TestReplayLogDrain(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	seedLog(t, filepath.Join(dir, "log.db"), 3)
	cfg := writeConfig(t, dir, srv.URL+"/api/events")

	out := execute(t, "--config", cfg, "replay-log", "--drain")
	if !strings.Contains(out, "recovered 3 of 3") {
		t.Errorf("output:\n%s", out)
	}
	if hits.Load() != 3 {
		t.Errorf("collector hits = %d, want 3", hits.Load())
	}

	out = execute(t, "--config", cfg, "replay-log")
	if !strings.Contains(out, "no pending batches") {
		t.Errorf("log not drained:\n%s", out)
	}
}

func TestReplayLogFlagsExclusive(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"replay-log", "--drain", "--clear"})
	if err := root.Execute(); err == nil {
		t.Error("--drain with --clear accepted")
	}
}

func TestListPendingUnreadable(t *testing.T) {
	var buf bytes.Buffer
	listPending(&buf, []models.PersistedRecord{{Seq: 7, Payload: "garbage"}})
	if !strings.Contains(buf.String(), "unreadable") {
		t.Errorf("output: %s", buf.String())
	}
}
