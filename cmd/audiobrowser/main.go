package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audiobrowser/internal/api"
	"audiobrowser/internal/attr"
	"audiobrowser/internal/event"
	"audiobrowser/internal/library"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/metrics"
	"audiobrowser/internal/watcher"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := loadConfig(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) || errors.Is(err, errVersion) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "audiobrowser: %v\n", err)
		return 1
	}

	logBuffer := logging.NewLogBuffer(logging.DefaultBufferSize)
	logger := logging.NewLogger(logBuffer, cfg.LogLevel)
	logStartupConfig(logger, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	stopSignals := watchShutdownSignals(logger, cancel, signals)
	defer stopSignals()

	registry := metrics.Default
	bus := event.NewBus[watcher.ChangeEvent](ctx, event.BusOptions{
		Name:                 "file_changes",
		SubscriberBufferSize: cfg.BusBuffer,
		Logger:               logger,
		Registry:             registry,
	})
	defer bus.Close()

	lib, err := library.New(library.Options{
		Base:     cfg.BasePath,
		Store:    buildAttrStore(cfg, logger),
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		logger.Error("library setup failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	fileWatcher, err := watcher.New(watcher.Options{
		Base:       cfg.BasePath,
		Debounce:   cfg.Debounce,
		MaxWatches: cfg.MaxWatches,
		Logger:     logger,
		Registry:   registry,
	})
	if err != nil {
		logger.Error("watcher setup failed", map[string]string{
			"error": err.Error(),
		})
		return 1
	}

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewHandler(api.Options{
			Library:   lib,
			Bus:       bus,
			Logger:    logger,
			Registry:  registry,
			Watcher:   fileWatcher,
			Heartbeat: cfg.Heartbeat,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	err = runServices(ctx, logger,
		watcherService(fileWatcher, bus),
		httpService(server, logger),
	)
	if err != nil {
		logger.Error("server stopped", map[string]string{
			"error": err.Error(),
		})
		return 1
	}
	logger.Info("shutdown complete", nil)
	return 0
}

// buildAttrStore picks the heard flag backend. A filesystem without user
// xattr support falls back to the in-memory store so the server still runs.
func buildAttrStore(cfg Config, logger *logging.Logger) attr.Store {
	if cfg.AttrBackend == attrBackendMemory {
		logger.Warn("heard flags are kept in memory and lost on restart", nil)
		return attr.NewMemoryStore()
	}
	store := attr.NewXattrStore()
	if !store.Supported(cfg.BasePath) {
		logger.Warn("extended attributes unsupported; using in-memory heard flags", map[string]string{
			"base_path": cfg.BasePath,
		})
		return attr.NewMemoryStore()
	}
	return store
}
