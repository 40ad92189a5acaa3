// Package main provides the relay server binary: matchmaking, event relay
// and signaling over WebSocket, plus a gRPC health endpoint.
package main

import (
	"context"
	"log"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cory-johannsen/huddle/internal/config"
	"github.com/cory-johannsen/huddle/internal/frontend/gateway"
	"github.com/cory-johannsen/huddle/internal/game/session"
	"github.com/cory-johannsen/huddle/internal/game/world"
	"github.com/cory-johannsen/huddle/internal/gameserver"
	"github.com/cory-johannsen/huddle/internal/observability"
	"github.com/cory-johannsen/huddle/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mapFile := flag.String("map", "", "map YAML file; overrides world.map_file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *mapFile != "" {
		cfg.World.MapFile = *mapFile
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.Int("room_capacity", cfg.Rooms.Capacity),
	)

	level, err := world.Load(cfg.World.MapFile)
	if err != nil {
		logger.Fatal("loading map", zap.Error(err))
	}
	logger.Info("map loaded",
		zap.String("map", level.ID),
		zap.Int("obstacles", len(level.Obstacles)),
	)

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	registry := session.NewRegistry(cfg.Rooms.Capacity, nil)
	members := session.NewManager(cfg.Rooms.OutboxSize)
	svc := gameserver.NewRelayService(registry, members, cfg.Rooms.ChatMaxLen, metrics, logger)
	dispatcher := gameserver.NewDispatcher(svc, cfg.Rooms.QueueSize, metrics, logger)
	gw := gateway.New(cfg.HTTP, cfg.Metrics, dispatcher, level, metrics, logger)

	lifecycle := server.NewLifecycle(logger, cfg.HTTP.ShutdownTimeout)
	lifecycle.Add("dispatcher", dispatcher)
	lifecycle.Add("gateway", gw)
	if cfg.GRPC.Enabled() {
		lifecycle.Add("grpc-health", server.NewHealthService(cfg.GRPC.Addr(), logger))
	}

	logger.Info("relay server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Error("relay server exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}
