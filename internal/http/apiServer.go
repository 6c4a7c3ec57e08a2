package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"jobchat/internal/api"
	"jobchat/internal/metrics"
	"jobchat/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, live *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()
	apiHandlers.Register(mux)

	// WebSocket endpoint
	mux.HandleFunc("GET /api/live", live.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           metrics.Middleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
