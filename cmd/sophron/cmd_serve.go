package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/metrics"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/orchestrator"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/rpc"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/scheduler"
	"github.com/danielpatrickdp/sophron-cer/go-controller/internal/state"
)

var serveFlags struct {
	addr        string
	metricsAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the AuditService over gRPC with Prometheus metrics",
	Long: `Serve runs the sophron.v1.AuditService gRPC API (Analyze, Schedule,
Stats) backed by one shared scheduler. Scheduler history is restored from
the database at startup and a snapshot is saved after every call. Metrics
are exposed on /metrics of the metrics address.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "gRPC listen address (default: rpc.address)")
	f.StringVar(&serveFlags.metricsAddr, "metrics-addr", "", "metrics listen address (default: rpc.metrics_address, empty disables)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := app.logger
	addr := firstNonEmpty(serveFlags.addr, app.cfg.RPC.Address)
	metricsAddr := firstNonEmpty(serveFlags.metricsAddr, app.cfg.RPC.MetricsAddress)

	store, err := state.NewStore(app.cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := app.cfg.OrchestratorConfig()
	sched := scheduler.New(cfg.Scheduler)
	restored, err := store.Restore(sched)
	if err != nil {
		return fmt.Errorf("restore scheduler: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	orch := orchestrator.New(cfg,
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(metrics.New(reg)),
		orchestrator.WithProvenanceDB(store.DB()),
		orchestrator.WithScheduler(sched))

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	grpcServer := rpc.NewGRPCServer(log)
	rpc.Register(grpcServer, rpc.NewServer(orch, rpc.WithServerLogger(log), rpc.WithSnapshotStore(store)))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("grpc listening", zap.String("addr", lis.Addr().String()), zap.Bool("restored", restored))
		return grpcServer.Serve(lis)
	})

	var httpServer *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpServer = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", metricsAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		grpcServer.GracefulStop()
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	return g.Wait()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
