// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/pulsetrack/internal/delivery"
	"github.com/tomtom215/pulsetrack/internal/models"
	"github.com/tomtom215/pulsetrack/internal/storage"
	"github.com/tomtom215/pulsetrack/internal/store"
)

func newReplayLogCmd(a *app) *cobra.Command {
	var (
		drain bool
		clearLog bool
	)
	cmd := &cobra.Command{
		Use:   "replay-log",
		Short: "List the durable batch log, or drain it to the events endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			kv, err := storage.Open(storageOptions(&a.cfg.Storage))
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer kv.Close()

			log, err := store.Open(ctx, kv, store.Options{Capacity: a.cfg.Storage.Capacity})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			listPending(out, log.Pending())

			switch {
			case clearLog:
				if err := log.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "log cleared")
			case drain:
				bulk := delivery.NewBulkClient(a.cfg.Tracker.EventsEndpoint, &a.cfg.Delivery,
					delivery.NewHTTPClient(a.cfg.Delivery.SendTimeout))
				res, err := log.RecoverPending(ctx, store.PublisherFunc(
					func(ctx context.Context, rec models.PersistedRecord) error {
						return bulk.Send(ctx, "recovery", []byte(rec.Payload))
					}))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "recovered %d of %d (failed %d, skipped %d) in %s\n",
					res.Recovered, res.TotalPending, res.Failed, res.Skipped, res.Duration)
				for _, e := range res.Errors {
					cmd.PrintErrln("  ", e)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "send every pending batch and remove acknowledged ones")
	cmd.Flags().BoolVar(&clearLog, "clear", false, "discard every pending batch")
	cmd.MarkFlagsMutuallyExclusive("drain", "clear")
	return cmd
}

func listPending(w io.Writer, recs []models.PersistedRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no pending batches")
		return
	}
	fmt.Fprintf(w, "%-8s %-8s %-7s %s\n", "SEQ", "BYTES", "EVENTS", "SESSION")
	for _, rec := range recs {
		sid, events, err := models.DecodeEvents([]byte(rec.Payload))
		if err != nil {
			fmt.Fprintf(w, "%-8d %-8d %-7s %s\n", rec.Seq, len(rec.Payload), "?", "unreadable: "+err.Error())
			continue
		}
		fmt.Fprintf(w, "%-8d %-8d %-7d %s\n", rec.Seq, len(rec.Payload), len(events), sid)
	}
}
