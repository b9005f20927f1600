// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/pulsetrack/internal/receiver"
)

func newReceiverCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "receiver",
		Short: "Run the in-memory development collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Receiver.ListenAddr = listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			tree, err := a.newTree()
			if err != nil {
				return err
			}
			tree.AddIngestService(receiver.New(a.cfg.Receiver))
			return serveTree(ctx, tree)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides receiver.listen_addr)")
	return cmd
}
