package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/harunnryd/fleetvoice/pkg/fleetvoice"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config; built-in defaults when empty")
	addr := flag.String("addr", "", "override server.addr")
	envFile := flag.String("env", ".env", "dotenv file loaded before config expansion; skipped when missing")
	flag.Parse()

	if err := loadEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "env error:", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	app, err := fleetvoice.NewEngine(fleetvoice.EngineOptions{Config: cfg})
	if err != nil {
		slog.Error("engine_init_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		slog.Error("engine_start_failed", "error", err)
		os.Exit(1)
	}
	<-ctx.Done()
	if err := app.Stop(); err != nil {
		slog.Warn("engine_stop", "error", err)
	}
}

func loadConfig(path string) (fleetvoice.Config, error) {
	if path == "" {
		return fleetvoice.DefaultConfig()
	}
	return fleetvoice.LoadConfig(path)
}

func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
