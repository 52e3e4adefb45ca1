package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/single-instruction/Sequencer-zkvm/params"
	"github.com/single-instruction/Sequencer-zkvm/pkg/api"
	"github.com/single-instruction/Sequencer-zkvm/pkg/commit"
	"github.com/single-instruction/Sequencer-zkvm/pkg/sequencer"
	"github.com/single-instruction/Sequencer-zkvm/pkg/storage"
	"github.com/single-instruction/Sequencer-zkvm/pkg/util"
	"go.uber.org/zap"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var logger *zap.Logger
	var err error
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogLevel, cfg.Node.LogFile)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Node.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenPostgres(ctx, cfg.Node.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("postgres_init_failed", zap.Error(err))
	}
	defer store.Close()

	var archive *storage.Archive
	if cfg.Node.ArchivePath != "" {
		archive, err = storage.OpenArchive(cfg.Node.ArchivePath)
		if err != nil {
			logger.Fatal("archive_init_failed", zap.Error(err))
		}
		defer archive.Close()
	}

	// One blake2b reference hasher drives both the commitment fold and PID
	// derivation; production swaps in the SNARK-friendly sponge.
	hasher := commit.Blake2Hasher{}

	builder := sequencer.NewBuilder(store, hasher, hasher, logger)
	events := sequencer.NewEvents()
	pids := sequencer.NewPIDCache(cfg.Sequencer.PIDCacheTTL)

	loop := sequencer.NewLoop(store, builder, events, archive, pids, logger, sequencer.LoopConfig{
		Tick:        cfg.Sequencer.TickInterval,
		UseFillSalt: cfg.Sequencer.UseFillSalt,
		SaltFn:      sequencer.NewRotatingSalt(cfg.Sequencer.FillSaltSeed),
	})
	go func() {
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("batch_loop_exited", zap.Error(err))
		}
	}()

	server := api.NewServer(store, archive, events)
	go func() {
		if err := server.Start(cfg.Node.BindAddr); err != nil {
			logger.Fatal("api_server_failed", zap.Error(err))
		}
	}()

	logger.Info("sequencer_started",
		zap.String("bind_addr", cfg.Node.BindAddr),
		zap.Duration("tick", cfg.Sequencer.TickInterval),
		zap.Bool("use_fill_salt", cfg.Sequencer.UseFillSalt),
	)

	<-ctx.Done()
	logger.Info("shutting_down")
}
