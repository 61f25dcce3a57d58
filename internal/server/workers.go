package server

import (
	"context"
	"log"
	"time"
)

// StartWorkers launches all background goroutines. Call with a cancellable
// context for graceful shutdown.
func (s *Server) StartWorkers(ctx context.Context) {
	go s.runTTLCleanup(ctx)
}

// runTTLCleanup periodically sweeps expired access codes and sessions
// (every minute).
func (s *Server) runTTLCleanup(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Minute):
			n, err := s.auth.SweepExpired()
			if err != nil {
				log.Printf("[worker] sweep expired credentials: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] swept %d expired codes/sessions", n)
			}
		}
	}
}
