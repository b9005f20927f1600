// Pulsetrack - Behavioral Analytics Event Capture Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsetrack

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tomtom215/pulsetrack/internal/config"
	"github.com/tomtom215/pulsetrack/internal/logging"
	"github.com/tomtom215/pulsetrack/internal/supervisor"
	"github.com/tomtom215/pulsetrack/internal/supervisor/services"
)

// app carries state shared by subcommands, filled in PersistentPreRunE.
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pulsetrack",
		Short:         "Capture, batch and deliver behavioral analytics events",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cfg *config.Config
				err error
			)
			if a.configPath != "" {
				cfg, err = config.LoadFile(a.configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			a.cfg = cfg
			logging.Init(cfg.LoggerConfig())
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: $PULSETRACK_CONFIG or ./config.yaml)")

	root.AddCommand(newRunCmd(a), newReceiverCmd(a), newReplayLogCmd(a))
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (a *app) newTree() (*supervisor.SupervisorTree, error) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfigFrom(&a.cfg.Supervisor))
	if err != nil {
		return nil, fmt.Errorf("building supervisor tree: %w", err)
	}
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{
			Addr:              a.cfg.Metrics.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddOpsService(services.NewHTTPServerService("metrics", srv, 5*time.Second))
	}
	return tree, nil
}

// serveTree runs tree until ctx ends and reports services that failed to stop.
func serveTree(ctx context.Context, tree *supervisor.SupervisorTree) error {
	err := tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			logging.Warn().Str("service", u.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
