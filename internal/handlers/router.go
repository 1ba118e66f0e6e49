package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pliu/etoe/internal/middleware"
	"github.com/pliu/etoe/internal/snapshot"
	"github.com/pliu/etoe/internal/store"
	"github.com/pliu/etoe/internal/ws"
)

type RouterConfig struct {
	Store          store.Store
	Hub            *ws.Hub
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter builds the public relay API. Registration is the only route
// reachable without a token; anything else unauthenticated is a 401, even
// when the path does not exist.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandler := &AuthHandler{Store: cfg.Store, Logger: logger}
	chatHandler := &ChatHandler{
		Store: cfg.Store,
		Hub:   cfg.Hub,
		Upgrader: &websocket.Upgrader{
			CheckOrigin: middleware.OriginChecker(cfg.AllowedOrigins),
		},
		Logger: logger,
	}
	requireUser := middleware.AuthMiddleware(cfg.Store)

	r := mux.NewRouter()
	r.HandleFunc("/users", authHandler.Register).Methods("POST")

	api := r.NewRoute().Subrouter()
	api.Use(requireUser)
	api.HandleFunc("/chats", chatHandler.GetChats).Methods("GET")
	api.HandleFunc("/chats", chatHandler.CreateChat).Methods("POST")
	api.HandleFunc("/chats/{id}", chatHandler.PostMessage).Methods("POST")
	api.HandleFunc("/chats/{id}/key", chatHandler.PeerKey).Methods("GET")
	api.HandleFunc("/ws", chatHandler.ServeWs).Methods("GET")

	notFound := requireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	}))
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notFound

	var h http.Handler = r
	h = middleware.LoggingMiddleware(logger)(h)
	h = middleware.CORS(cfg.AllowedOrigins)(h)
	return h
}

// NewMaintenanceRouter serves operator-only endpoints.
func NewMaintenanceRouter(s store.Store, sink snapshot.Sink, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	snapshotHandler := &SnapshotHandler{Store: s, Sink: sink, Logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/json", snapshotHandler.Export).Methods("GET", "POST")
	r.HandleFunc("/healthz", Health).Methods("GET")
	return middleware.LoggingMiddleware(logger)(r)
}
