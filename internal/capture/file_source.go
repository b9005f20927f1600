// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/models"
)

// FileSource replays a JSON-lines recording of RawEvents. With follow set it
// keeps watching the file and emits lines as they are appended.
type FileSource struct {
	path   string
	follow bool
	h      *hub

	partial []byte
	emitted atomic.Int64
	invalid atomic.Int64
}

// NewFileSource returns a source reading path.
func NewFileSource(path string, follow bool) *FileSource {
	return &FileSource{path: path, follow: follow, h: newHub()}
}

// Listen implements Source.
func (s *FileSource) Listen(kind models.EventType, fn Handler) (func(), error) {
	return s.h.Listen(kind, fn)
}

// Emitted returns the number of events decoded so far.
func (s *FileSource) Emitted() int64 { return s.emitted.Load() }

// Invalid returns the number of lines that could not be decoded.
func (s *FileSource) Invalid() int64 { return s.invalid.Load() }

// Run reads the recording until EOF, then either returns or follows the file
// until ctx is cancelled.
func (s *FileSource) Run(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	if err := s.drain(f); err != nil {
		return err
	}
	if !s.follow {
		s.flushPartial()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so that editors that replace the file are noticed.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch recording: %w", err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) {
				// Replaced: start over on the new file.
				f.Close()
				if f, err = os.Open(s.path); err != nil {
					return fmt.Errorf("reopen recording: %w", err)
				}
				s.partial = nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := s.drain(f); err != nil {
					return err
				}
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn().Err(werr).Str("path", s.path).Msg("recording watcher error")
		}
	}
}

// drain reads everything currently available and dispatches complete lines.
func (s *FileSource) drain(r io.Reader) error {
	buf := make([]byte, 32<<10)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.partial = append(s.partial, buf[:n]...)
			s.dispatchLines()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
	}
}

func (s *FileSource) dispatchLines() {
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			return
		}
		line := s.partial[:i]
		s.partial = s.partial[i+1:]
		s.dispatchLine(line)
	}
}

func (s *FileSource) flushPartial() {
	if len(bytes.TrimSpace(s.partial)) > 0 {
		s.dispatchLine(s.partial)
	}
	s.partial = nil
}

func (s *FileSource) dispatchLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return
	}
	var ev RawEvent
	if err := json.Unmarshal(line, &ev); err != nil || ev.Kind == "" {
		s.invalid.Add(1)
		logging.Debug().Err(err).Str("path", s.path).Msg("skipping invalid recording line")
		return
	}
	s.emitted.Add(1)
	s.h.dispatch(ev)
}
