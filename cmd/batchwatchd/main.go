package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/batchwatch/constants"
	"github.com/joseph-ayodele/batchwatch/internal/api"
	"github.com/joseph-ayodele/batchwatch/internal/common"
	"github.com/joseph-ayodele/batchwatch/internal/daemon"
	probe "github.com/joseph-ayodele/batchwatch/internal/health"
	"github.com/joseph-ayodele/batchwatch/internal/history"
	"github.com/joseph-ayodele/batchwatch/internal/inbox"
	"github.com/joseph-ayodele/batchwatch/internal/monitor"
	"github.com/joseph-ayodele/batchwatch/internal/workbook"
)

func main() {
	var (
		dir    = flag.String("dir", "", "inbox directory (overrides INBOX_DIR)")
		outDir = flag.String("out-dir", "", "output directory (overrides INBOX_OUT_DIR)")
		addr   = flag.String("grpc-addr", "", "gRPC health listen address (overrides GRPC_ADDR)")
	)
	flag.Parse()

	cfg := common.LoadConfig()
	if *dir != "" {
		cfg.Inbox.Dir = *dir
	}
	if *outDir != "" {
		cfg.Inbox.OutDir = *outDir
	}
	if *addr != "" {
		cfg.Server.GRPCAddr = *addr
	}
	if err := cfg.ValidateInbox(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(api.Config{BaseURL: cfg.API.BaseURL, Timeout: cfg.API.Timeout}, logger)
	prober := probe.NewProber(client, 10*time.Second, logger)
	if res := prober.Probe(ctx); res.Health != constants.HealthConnected && cfg.Monitor.RequireConnectivityCheck {
		// The probe is one-shot, so every submission would be rejected until restart.
		logger.Error("processing server unreachable", "base_url", client.BaseURL(), "error", res.Err)
		os.Exit(1)
	}

	m := monitor.New(client, prober, monitor.OptionsFromConfig(cfg), logger)
	defer m.Close()

	// Archive
	var archive inbox.Archiver
	if cfg.History.DSN != "" {
		db, err := history.Open(ctx, cfg.History, logger)
		if err != nil {
			logger.Error("failed to open history", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.HealthCheck(ctx, cfg.History.DialTimeout); err != nil {
			logger.Error("history health failed", "error", err)
			os.Exit(1)
		}
		archive = history.NewRunRepository(db)
	} else {
		logger.Warn("HISTORY_DSN not set, runs will not be archived")
	}

	// gRPC health
	var grpcServer *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		reflection.Register(grpcServer)
		go daemon.NewHealthReporter(hs, m, logger).Run(ctx)

		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("listen failed", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("gRPC health serving", "addr", lis.Addr().String())
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("grpc serve", "error", err)
			}
		}()
	}

	aff, _ := constants.CanonicalizeAffiliation(cfg.Inbox.AffiliationType)
	proc := inbox.NewProcessor(inbox.ProcessorConfig{
		Dir:             cfg.Inbox.Dir,
		OutDir:          cfg.Inbox.OutDir,
		AffiliationType: aff,
		SubmitterName:   cfg.Inbox.SubmitterName,
		Download:        cfg.Inbox.Download,
	}, m, client, workbook.NewExporter(logger), archive, logger)
	queue := inbox.NewQueue(proc, logger, inbox.WithRunTimeout(cfg.Inbox.RunTimeout))

	events, errs, err := inbox.StartWatcher(ctx, inbox.WatchConfig{
		Dir:         cfg.Inbox.Dir,
		Skip:        []string{proc.OutDir()},
		InitialScan: cfg.Inbox.InitialScan,
		Debounce:    cfg.Inbox.Debounce,
	}, logger)
	if err != nil {
		logger.Error("failed to start watcher", "dir", cfg.Inbox.Dir, "error", err)
		os.Exit(1)
	}
	logger.Info("watching inbox", "dir", cfg.Inbox.Dir, "out_dir", proc.OutDir())

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case p, ok := <-events:
			if !ok {
				break loop
			}
			if err := queue.Enqueue(ctx, p); err != nil {
				logger.Warn("enqueue failed", "path", p, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("watcher error", "error", err)
		}
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("stopped")
}
