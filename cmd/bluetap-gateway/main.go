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

	_ "github.com/joho/godotenv/autoload"

	"github.com/bluetap-cloud/bluetap/internal/auth"
	"github.com/bluetap-cloud/bluetap/internal/placement"
	"github.com/bluetap-cloud/bluetap/internal/registry"
	"github.com/bluetap-cloud/bluetap/internal/server"
	"github.com/bluetap-cloud/bluetap/internal/storage"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	dataDir := os.Getenv("BLUETAP_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	window := registry.DefaultLivenessWindow
	if v := os.Getenv("BLUETAP_LIVENESS_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid BLUETAP_LIVENESS_WINDOW: %v", err)
		}
		window = d
	}

	db, err := storage.NewDB(dataDir + "/bluetap.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.NewWithWindow(db, window)
	srv := server.New(db, auth.New(db, auth.LogNotifier{}), reg, placement.New(db, reg))
	srv.StartWorkers(ctx)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	fmt.Printf("Bluetap gateway running on http://localhost:%s\n", port)
	log.Fatal(http.ListenAndServe(":"+port, srv))
}
