package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tg-letthemknow/internal/bot"
	"tg-letthemknow/internal/config"
	"tg-letthemknow/internal/crash"
	"tg-letthemknow/internal/handler"
	"tg-letthemknow/internal/logger"
	"tg-letthemknow/internal/service"
	"tg-letthemknow/internal/storage"
)

func main() {
	defer crash.RecoverWithStackAndExit("main")

	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("Failed to set up logger: %v", err)
	}

	// Pending messages only exist in the database; running without one
	// would silently drop everything users ask us to hold.
	if !cfg.Database.Enabled {
		log.Fatalf("Database support is required: set database.enabled to true")
	}
	if err := storage.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler.Initialize(cfg)
	if err := service.InitRepositories(); err != nil {
		log.Fatalf("Failed to initialize repositories: %v", err)
	}

	botService, server, err := bot.Initialize(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize bot: %v", err)
	}

	if server != nil {
		crash.SafeGoroutine("webhook-server", func() {
			if err := server.Start(); err != nil {
				log.Fatalf("HTTP server error: %v", err)
			}
		})

		// Give server time to start
		time.Sleep(500 * time.Millisecond)
		log.Println("HTTP server is ready, starting bot handler...")
	}

	handler.SetupMessageHandlers(botService.Handler, botService.Bot)
	crash.SafeGoroutine("bot-handler", func() {
		botService.Start()
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	log.Printf("Received signal: %v, shutting down...", sig)

	botService.Stop()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}

	log.Println("Server gracefully stopped")
}
