package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/google/uuid"

	"github.com/bluetap-cloud/bluetap/internal/chunkstore"
	"github.com/bluetap-cloud/bluetap/internal/node"
)

const defaultCapacity = 10 << 30 // 10 GB

func main() {
	nodeID := flag.String("node-id", "", "stable node identifier (generated if empty)")
	host := flag.String("host", "127.0.0.1", "address advertised to the gateway")
	port := flag.Int("port", 7001, "data-plane listen port")
	storageDir := flag.String("storage", "chunks", "chunk storage directory")
	gatewayURL := flag.String("gateway", envOr("BLUETAP_GATEWAY", "http://localhost:8080"), "gateway base URL")
	capacity := flag.Int64("capacity", defaultCapacity, "advertised capacity in bytes")
	heartbeat := flag.Duration("heartbeat", node.DefaultHeartbeatInterval, "heartbeat interval")
	flag.Parse()

	id := *nodeID
	if id == "" {
		id = uuid.New().String()
		log.Printf("[node] no -node-id given, generated %s", id)
	}

	store, err := chunkstore.New(*storageDir)
	if err != nil {
		log.Fatalf("Failed to open chunk store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &node.Heartbeater{
		GatewayURL:    *gatewayURL,
		NodeID:        id,
		IP:            *host,
		Port:          *port,
		CapacityBytes: *capacity,
		StorageDir:    *storageDir,
		Interval:      *heartbeat,
	}
	go h.Run(ctx)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		// Give the heartbeat loop a beat to stop before exiting.
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	}()

	fmt.Printf("Bluetap node %s serving chunks on %s:%d\n", id, *host, *port)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *port), node.NewServer(id, store)))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
