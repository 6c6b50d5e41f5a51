package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/careline/chat-service/internal/config"
	"github.com/careline/chat-service/internal/directory"
	"github.com/careline/chat-service/internal/identity"
	"github.com/careline/chat-service/internal/relay"
	"github.com/careline/chat-service/internal/stats"
	"github.com/careline/chat-service/internal/store"
)

type ChatApp struct {
	log            *log.Logger
	store          store.MessageStore
	directory      directory.Directory
	verifier       identity.Verifier
	rs             *relay.RelayServer
	stats          stats.StatsProvider
	mux            *http.Server
	allowedOrigins []string
}

func NewChatApp(mux *http.ServeMux, logger *log.Logger, rs *relay.RelayServer, msgStore store.MessageStore, dir directory.Directory, verifier identity.Verifier, statsProvider stats.StatsProvider, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		store:          msgStore,
		directory:      dir,
		verifier:       verifier,
		rs:             rs,
		stats:          statsProvider,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/conversations/{conversationId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/conversations/{conversationId}/messages", s.authMiddleware(s.postMessage))
	mux.HandleFunc("GET /api/conversations/{conversationId}/unread", s.authMiddleware(s.getUnreadCount))
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.health)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.requestIdMiddleware(h)
	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
