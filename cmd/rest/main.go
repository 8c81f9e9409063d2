package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"debt-negotiation-be/internal/bootstrap"
	"debt-negotiation-be/internal/config"
	"debt-negotiation-be/internal/server"
	"debt-negotiation-be/internal/tracer"
)

func main() {
	// 0. Initialize Tracer (no-op unless OTEL_ENABLED=true)
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	// 1. Load Configuration
	cfg := config.Load()

	// 2. Bootstrap Dependencies (Container)
	container := bootstrap.NewContainer(cfg)

	// 3. Initialize Server
	srv := server.New(cfg, container)

	// 4. Run Server, tear sessions down on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Println("Shutting down, releasing portal sessions...")
		container.SyncService.TeardownAll()
		container.Logger.Sync()
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := srv.Run(); err != nil {
		log.Fatal(err)
	}
}
