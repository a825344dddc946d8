package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"tennessen/internal/logging"
	"tennessen/pkg/tennessen"
)

func (a *app) runSimulation(cmd *cobra.Command, _ []string) error {
	if usage, _ := cmd.Flags().GetBool("usage"); usage {
		fmt.Fprint(a.stdout, cmd.UsageString())
		return nil
	}

	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return withUsage(cmd, err)
	}
	if err := cfg.Validate(); err != nil {
		return withUsage(cmd, err)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, a.stderr)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := cmd.Context()
	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(ctx, cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		defer stop()
	}

	client, err := tennessen.New(tennessen.Options{Config: cfg, Logger: logger, Registerer: reg})
	if err != nil {
		return withUsage(cmd, err)
	}
	defer client.Close()

	sum, err := client.Run(ctx)
	if err != nil {
		return withUsage(cmd, err)
	}

	tables := make([]string, 0, len(sum.Rows))
	for table := range sum.Rows {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	fmt.Fprintf(a.stdout, "run %s: %s replicates in %d batches (%s)\n",
		sum.RunID, humanize.Comma(int64(sum.Replicates)), sum.Batches, sum.Elapsed.Round(time.Millisecond))
	for _, table := range tables {
		fmt.Fprintf(a.stdout, "  %-20s %s rows\n", table, humanize.Comma(int64(sum.Rows[table])))
	}
	if n := len(sum.OverflowFiles); n > 0 {
		fmt.Fprintf(a.stdout, "  %-20s %s files\n", "overflow", humanize.Comma(int64(n)))
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned stop func is called.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
