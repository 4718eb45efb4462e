package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-storechat/internal/analytics"
	"github.com/npezzotti/go-storechat/internal/auth"
	"github.com/npezzotti/go-storechat/internal/config"
	"github.com/npezzotti/go-storechat/internal/database"
	"github.com/npezzotti/go-storechat/internal/server"
	"github.com/npezzotti/go-storechat/internal/types"
)

// ChatServer is the part of server.ChatServer the HTTP surface drives.
type ChatServer interface {
	Connect(p auth.Principal, conn *websocket.Conn) *server.Client
	NotifyChatCreated(chat types.Chat, created bool)
	Connections() int
	OnlineUsers() int
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

type AudienceInvalidator interface {
	Invalidate(ctx context.Context, customerId, merchantId int) error
}

type App struct {
	log            *log.Logger
	db             database.Repository
	srv            *http.Server
	cs             ChatServer
	gate           Authenticator
	audience       AudienceInvalidator
	issuer         *auth.Issuer
	aggregator     *analytics.Aggregator
	allowedOrigins []string
	tokenTTL       time.Duration
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs ChatServer, db database.Repository, gate Authenticator, audience AudienceInvalidator, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		db:             db,
		cs:             cs,
		gate:           gate,
		audience:       audience,
		issuer:         auth.NewIssuer(cfg.SigningKey),
		aggregator:     analytics.NewAggregator(logger, db),
		allowedOrigins: cfg.AllowedOrigins,
		tokenTTL:       cfg.TokenTTL,
	}

	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/logout", s.logout)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("POST /api/chats", s.authMiddleware(s.createChat))
	mux.HandleFunc("GET /api/stores/{id}/analytics", s.authMiddleware(s.storeAnalytics))
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

// Handler exposes the fully wrapped handler chain.
func (s *App) Handler() http.Handler {
	return s.srv.Handler
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
