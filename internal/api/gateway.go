package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/moimhealth/moim-chat/internal/chat"
	"github.com/moimhealth/moim-chat/internal/config"
	"github.com/moimhealth/moim-chat/internal/database"
	"github.com/moimhealth/moim-chat/internal/stats"
)

// ChatGateway exposes the chat core to browser clients: REST reads
// for the mailbox and message history, and a websocket per client
// that owns the user's chat session. All writes go through a session.
type ChatGateway struct {
	log            *log.Logger
	db             database.ChatRepository
	msgs           *chat.MessageLog
	mailbox        *chat.MailboxLedger
	stats          stats.StatsProvider
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewChatGateway(mux *http.ServeMux, logger *log.Logger, db database.ChatRepository, msgs *chat.MessageLog, mailbox *chat.MailboxLedger, statsProvider stats.StatsProvider, cfg *config.Config) *ChatGateway {
	g := &ChatGateway{
		log:            logger,
		db:             db,
		msgs:           msgs,
		mailbox:        mailbox,
		stats:          statsProvider,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.Handle("GET /healthz", http.HandlerFunc(g.healthCheck))
	mux.Handle("GET /api/mailbox", g.authMiddleware(g.getMailbox))
	mux.Handle("GET /api/messages", g.authMiddleware(g.getMessages))
	mux.Handle("GET /api/profile", g.authMiddleware(g.getProfile))
	mux.Handle("GET /ws", g.authMiddleware(g.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = g.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	g.mux = srv
	return g
}

func (g *ChatGateway) Start() error {
	g.log.Printf("starting gateway on %s\n", g.mux.Addr)
	return g.mux.ListenAndServe()
}

func (g *ChatGateway) Shutdown(ctx context.Context) error {
	g.log.Println("shutting down HTTP server...")
	if err := g.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (g *ChatGateway) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				g.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				g.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
