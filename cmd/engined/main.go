// Command engined runs one or more state-machine apply engine instances,
// fronted by the control API (gRPC + HTTP) and, when configured, fed by
// an asynchronous Kafka-compatible consensus feed.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/acceptor"
	"github.com/lumapart/raftengine/pkg/authguard"
	"github.com/lumapart/raftengine/pkg/backend/boltstore"
	"github.com/lumapart/raftengine/pkg/config"
	"github.com/lumapart/raftengine/pkg/consensusfeed"
	"github.com/lumapart/raftengine/pkg/controlapi"
	"github.com/lumapart/raftengine/pkg/engine"
	"github.com/lumapart/raftengine/pkg/kvmodule"
	"github.com/lumapart/raftengine/pkg/registry"
	"github.com/lumapart/raftengine/pkg/routing"
	"github.com/lumapart/raftengine/pkg/snapshot"
	"github.com/lumapart/raftengine/pkg/supervisor"

	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (any format viper supports)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	}

	logger.Info("starting raftengine instance",
		zap.String("name", cfg.Name), zap.String("table", cfg.Table), zap.Uint32("partition", cfg.Partition))

	be := boltstore.New()
	reg := registry.New()
	kvmodule.New().Register(reg)
	snapMgr := snapshot.New(cfg.RootDir, cfg.SnapshotPrefix, cfg.MaxRetainedSnapshots, logger)
	queue := acceptor.NewMemQueue()

	key := routing.PartitionKey{Table: cfg.Table, Partition: cfg.Partition}
	factory := func(ctx context.Context, k routing.PartitionKey) (*engine.Engine, error) {
		return engine.New(engine.Config{
			Name:      cfg.Name,
			Table:     k.Table,
			Partition: k.Partition,
			RootDir:   cfg.RootDir,
			Backend:   be,
			Queue:     queue,
			Registry:  reg,
			Snapshot:  snapMgr,
			InboxSize: cfg.InboxSize,
			Logger:    logger,
		})
	}

	sup := supervisor.New(factory, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Register(ctx, key); err != nil {
		logger.Fatal("failed to register partition", zap.Error(err))
	}
	if err := sup.StartSnapshotSchedule(cfg.SnapshotScheduleCron); err != nil {
		logger.Fatal("failed to start snapshot schedule", zap.Error(err))
	}

	topology := &routing.StaticTopology{
		LocalAddr: cfg.GRPCAddr,
		Owners:    map[routing.PartitionKey]string{key: cfg.GRPCAddr},
	}
	router := routing.New(sup, topology, logger)
	defer router.Close()

	guard := authguard.New(cfg.AuthSecret, 24*time.Hour)
	resolver := &controlapi.RouterResolver{Router: router, Queue: queue}
	capiServer := controlapi.NewServer(resolver)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.Error(err))
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(guard.UnaryServerInterceptor()))
	controlapi.RegisterServer(grpcServer, capiServer)
	go func() {
		logger.Info("gRPC control API listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC server exited", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: controlapi.NewHTTPServer(capiServer, guard, logger).Handler(),
	}
	go func() {
		logger.Info("HTTP control API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	if len(cfg.KafkaBrokers) > 0 {
		eng, _ := sup.Lookup(key)
		feed, err := consensusfeed.New(consensusfeed.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroup,
			Applier: eng,
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("failed to start consensus feed", zap.Error(err))
		}
		go func() {
			if err := feed.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("consensus feed exited", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("supervisor shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
