// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/pulsetrack/internal/capture"
	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/delivery"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/receiver"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/supervisor/services"
	"github.com/tomtom215/pulsetrack/internal/tracker"
	"github.com/tomtom215/pulsetrack/internal/websocket"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		recording    string
		follow       bool
		withReceiver bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a JSON-lines interaction recording through a tracker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if recording == "" {
				recording = a.cfg.Capture.RecordingPath
			}
			if recording == "" {
				return errors.New("no recording: pass --recording or set capture.recording_path")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			kv, err := storage.Open(storageOptions(&a.cfg.Storage))
			if err != nil {
				// The tracker still runs; every batch goes memory-only.
				logging.Warn().Err(err).Str("driver", a.cfg.Storage.Driver).Msg("Storage unavailable, using memory")
				kv = storage.NewMemory(a.cfg.Storage.MaxValueBytes)
			}
			defer func() {
				if err := kv.Close(); err != nil {
					logging.Warn().Err(err).Msg("Storage close failed")
				}
			}()

			tree, err := a.newTree()
			if err != nil {
				return err
			}
			if withReceiver {
				tree.AddIngestService(receiver.New(a.cfg.Receiver))
			}

			p := newPipeline(a.cfg, kv, recording, follow)
			defer p.close()

			// A finished replay ends the whole run.
			runCtx, stop := context.WithCancel(ctx)
			defer stop()
			go func() {
				select {
				case <-p.finished:
					stop()
				case <-runCtx.Done():
				}
			}()

			tree.AddPipelineService(services.NewTrackerService("tracker", p.build, a.cfg.Delivery.SendTimeout).StopWhen(p.finished))
			return serveTree(runCtx, tree)
		},
	}
	cmd.Flags().StringVarP(&recording, "recording", "r", "", "JSON-lines recording of raw interaction events")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep following the recording as it grows")
	cmd.Flags().BoolVar(&withReceiver, "with-receiver", false, "run the development receiver in the same process")
	return cmd
}

func storageOptions(c *config.StorageConfig) storage.Options {
	return storage.Options{
		Driver:        c.Driver,
		Path:          c.Path,
		MaxValueBytes: c.MaxValueBytes,
		SyncWrites:    c.SyncWrites,
	}
}

// pipeline holds the transports shared by every tracker the supervisor
// builds, and signals when the recording has been fully replayed.
type pipeline struct {
	cfg       *config.Config
	kv        storage.KV
	recording string
	follow    bool

	bulk     *delivery.BulkClient
	beacon   *delivery.Beacon
	sessions *delivery.SessionClient

	finished chan struct{}
	once     sync.Once
}

func newPipeline(cfg *config.Config, kv storage.KV, recording string, follow bool) *pipeline {
	client := delivery.NewHTTPClient(cfg.Delivery.SendTimeout)
	return &pipeline{
		cfg:       cfg,
		kv:        kv,
		recording: recording,
		follow:    follow,
		bulk:      delivery.NewBulkClient(cfg.Tracker.EventsEndpoint, &cfg.Delivery, client),
		beacon:    delivery.NewBeacon(cfg.Tracker.EventsEndpoint, cfg.Delivery.BeaconMaxBytes, cfg.Delivery.SendTimeout, client),
		sessions:  delivery.NewSessionClient(cfg.Tracker.SessionsEndpoint, client),
		finished:  make(chan struct{}),
	}
}

func (p *pipeline) build() (services.Tracker, error) {
	src := capture.NewFileSource(p.recording, p.follow)
	deps := tracker.Deps{
		Source:   src,
		KV:       p.kv,
		Sender:   p.bulk,
		Beacon:   p.beacon,
		Notifier: p.sessions,
	}
	if p.cfg.Stream.Enabled {
		deps.Stream = websocket.NewStreamClient(websocket.StreamOptionsFromConfig(&p.cfg.Stream, nil))
	}
	tr, err := tracker.New(p.cfg, deps)
	if err != nil {
		return nil, err
	}
	return &replayTracker{Tracker: tr, src: src, done: p.done}, nil
}

func (p *pipeline) done() {
	p.once.Do(func() { close(p.finished) })
}

func (p *pipeline) close() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Delivery.SendTimeout)
	defer cancel()
	if err := p.beacon.Close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Beacons still in flight at exit")
	}
}

// replayTracker starts reading the recording once the tracker is subscribed.
type replayTracker struct {
	*tracker.Tracker
	src  *capture.FileSource
	done func()
}

func (r *replayTracker) Start(ctx context.Context) error {
	if err := r.Tracker.Start(ctx); err != nil {
		return err
	}
	go func() {
		start := time.Now()
		err := r.src.Run(ctx)
		switch {
		case err == nil:
			logging.Info().
				Int64("events", r.src.Emitted()).
				Int64("invalid", r.src.Invalid()).
				Dur("elapsed", time.Since(start)).
				Msg("Recording replayed")
		case ctx.Err() == nil:
			logging.Error().Err(fmt.Errorf("replay: %w", err)).Msg("Recording replay failed")
		}
		if ctx.Err() == nil {
			r.done()
		}
	}()
	return nil
}
