package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/runlog-dev/runlog"
	obs "github.com/runlog-dev/runlog/internal/observability"
	"github.com/runlog-dev/runlog/pkg/adapter/openai"
	"github.com/runlog-dev/runlog/pkg/observability"
	"github.com/runlog-dev/runlog/pkg/session"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	// Command line flags
	configFile = flag.String("config", getEnv("RUNLOG_CONFIG", "config/runlog.yaml"), "Configuration file")
	httpPort   = flag.Int("http-port", getEnvInt("PORT", 8080), "HTTP server port")
)

func main() {
	flag.Parse()

	log.Printf("Starting runlog v%s", Version)
	log.Printf("Config: %s, HTTP Port: %d", *configFile, *httpPort)

	if err := obs.InitFromEnv(); err != nil {
		log.Printf("Warning: Failed to initialize tracing: %v", err)
	}

	var adapter session.Adapter
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		adapter = openai.New(key)
		log.Println("OpenAI adapter configured")
	}

	rt, err := runlog.OpenFromFile(*configFile, adapter)
	if err != nil {
		log.Fatalf("Failed to open runtime: %v", err)
	}

	// Observability endpoints
	observability.InitMetrics()
	health := observability.NewHealth()
	health.Register(observability.StoreProbe(rt.StoreHealthCheck()))
	if adapter != nil {
		health.Register(observability.AdapterProbe("openai", func(ctx context.Context) error {
			_, err := adapter.Capabilities(ctx)
			return err
		}))
	}

	obsServer := observability.NewServer(*httpPort, health)
	errChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on :%d", *httpPort)
		if err := obsServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Printf("Error: %v", err)
	case <-quit:
		log.Println("Shutting down...")
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := obsServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := rt.Close(); err != nil {
		log.Printf("Store close error: %v", err)
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	log.Println("runlog stopped")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
