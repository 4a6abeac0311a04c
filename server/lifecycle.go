package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/peergrade/pushsync/errors"
)

// Start runs the agent hub and serves HTTP on the given port, trying
// nearby ports when it is taken. Blocks until the listener fails or the
// server is stopped.
func (s *PushServer) Start(port int) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actualPort != port {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", port,
			"actual_port", actualPort,
		)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", actualPort),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: agent WebSocket connections are
		// long-lived.
	}

	s.logger.Infow("Server ready",
		"url", fmt.Sprintf("http://localhost:%d", actualPort),
		"port", actualPort,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server: stop accepting requests, close
// agent connections, cancel goroutines, wait with a timeout.
func (s *PushServer) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("HTTP server shutdown error", "error", err)
		}
	}

	// Close all agent connections BEFORE cancelling context so readPump
	// unblocks cleanly.
	s.mu.Lock()
	agentsToClose := make([]*AgentClient, 0, len(s.agents))
	for agent := range s.agents {
		agentsToClose = append(agentsToClose, agent)
		delete(s.agents, agent)
	}
	s.mu.Unlock()

	if len(agentsToClose) > 0 {
		s.logger.Infow("Closing agent connections", "count", len(agentsToClose))
		for _, agent := range agentsToClose {
			agent.conn.Close()
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout,
		)
	}

	s.logger.Infow("Server shutdown complete",
		"delivery_drops", s.deliveryDrops.Load(),
	)
	return nil
}

// isPortAvailable checks if a port is available for binding
func isPortAvailable(port int) bool {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// findAvailablePort tries the requested port first, then up to 10
// alternatives above it.
func findAvailablePort(requestedPort int) (int, error) {
	if isPortAvailable(requestedPort) {
		return requestedPort, nil
	}

	for i := 1; i <= 10; i++ {
		port := requestedPort + i
		if isPortAvailable(port) {
			return port, nil
		}
	}

	return 0, errors.Newf("no available ports found (tried %d-%d)", requestedPort, requestedPort+10)
}
