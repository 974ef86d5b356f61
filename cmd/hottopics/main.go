package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"HotTopics/internal/app"
	"HotTopics/internal/config"
	"HotTopics/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	trigger := flag.String("run", "", "run one trigger and exit: scrape, analyze, cluster, select or full")
	category := flag.Int64("category", 0, "scrape only this category id and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.New("error", "text").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	switch {
	case *category > 0:
		res := application.Pipeline().RunScrapeCycleFor(ctx, *category)
		logger.Info("category scrape finished", "success", res.Success, "message", res.Message)
		if !res.Success {
			exit(application, 1)
		}
	case *trigger != "":
		if _, err := application.RunOnce(ctx, *trigger); err != nil {
			logger.Error("trigger failed", "error", err)
			exit(application, 1)
		}
	default:
		if err := application.Run(ctx); err != nil {
			logger.Error("application stopped", "error", err)
			exit(application, 1)
		}
	}
}

// exit closes the application first since os.Exit skips deferred calls.
func exit(application *app.Application, code int) {
	application.Close()
	os.Exit(code)
}
