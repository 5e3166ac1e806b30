package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"pricetracker/config"
	"pricetracker/internal/pyth/collector"
	"pricetracker/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (searched in ./ and ./config when empty)")
	flag.Parse()

	// viper config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run collector
	c, err := collector.StartCollector(ctx, cfg, log)
	if err != nil {
		log.Fatal("collector failed", zap.Error(err))
	}
	log.Info("price tracker running", zap.String("addr", c.Addr()))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := c.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", zap.Error(err))
	}
}
