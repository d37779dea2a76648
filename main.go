package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/cppla/storefront/config"
	"github.com/cppla/storefront/models"
	"github.com/cppla/storefront/routes"
	"github.com/cppla/storefront/storage"
	"github.com/cppla/storefront/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Initialize logger early
	logger, err := utils.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	db, err := config.OpenDatabase(cfg, models.All()...)
	if err != nil {
		sugar.Fatalf("database: %v", err)
	}

	if cfg.SeedCatalog {
		n, err := models.SeedCatalog(db)
		if err != nil {
			sugar.Fatalf("seed catalog: %v", err)
		}
		if n > 0 {
			sugar.Infof("seeded %d catalog items", n)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		sugar.Fatalf("storage: %v", err)
	}

	rc := utils.NewRedis(cfg)
	if rc != nil {
		defer rc.Close()
	}

	r := routes.SetupRouter(routes.Deps{Config: cfg, DB: db, Store: store, Redis: rc, Logger: logger})

	// Retry file removals left behind by failed deletes (best-effort)
	utils.StartStaleFileSweeper(ctx, db, store, logger, cfg.StaleSweepEvery)

	addr := ":" + cfg.AppPort
	logger.Info("starting server (graceful)",
		zap.String("addr", addr),
		zap.String("db", cfg.DBDriver),
		zap.String("storage", cfg.StorageDriver),
		zap.Bool("redis", rc != nil),
		zap.Bool("tls", cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""),
	)
	// stop the sweeper once in-flight requests have drained
	opts := utils.ServerOptions{OnShutdown: cancel}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		err = utils.GraceServerTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile, r, logger, opts)
	} else {
		err = utils.GraceServer(addr, r, logger, opts)
	}
	if err != nil {
		sugar.Fatalf("server stopped with error: %v", err)
	}
}
