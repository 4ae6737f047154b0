// Command dealdeskd runs the deal agent platform server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dealdesk/dealdesk/api"
	"github.com/dealdesk/dealdesk/config"
	"github.com/dealdesk/dealdesk/hub"
	"github.com/dealdesk/dealdesk/llm"
	"github.com/dealdesk/dealdesk/policy"
	"github.com/dealdesk/dealdesk/runner"
	"github.com/dealdesk/dealdesk/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting dealdeskd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM URL: %s", cfg.LLMBaseURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize LLM client
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout)

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize push hub
	h := hub.NewHub()
	go h.Run()

	// Initialize runner service and handlers
	runnerSvc := runner.New(db, llmClient, h, policyEngine, cfg)
	handler := api.NewHandler(db, runnerSvc, h, cfg)

	// Create Echo server
	server := echo.New()
	server.HideBanner = true

	// Middleware
	server.Use(middleware.Logger())
	server.Use(middleware.Recover())
	server.Use(middleware.CORS())

	handler.RegisterRoutes(server)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dealdeskd...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("dealdeskd stopped")
}
