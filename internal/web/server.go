// Package web provides the browser front end: login, the conversation
// sidebar, the chat view, image serving, and the live activity feed.
package web

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/phantomtech/mirage/internal/agent"
	"github.com/phantomtech/mirage/internal/artifact"
	"github.com/phantomtech/mirage/internal/auth"
	"github.com/phantomtech/mirage/internal/events"
	"github.com/phantomtech/mirage/internal/memory"
)

// Server handles all HTTP traffic for the assistant UI.
type Server struct {
	logger    *slog.Logger
	templates map[string]*template.Template
	users     *auth.Store
	sessions  *auth.SessionManager
	convs     *memory.Store
	artifacts *artifact.Store
	handoff   *artifact.Buffer
	runtime   *agent.Runtime
	bus       *events.Bus
	brandName string
	baseURL   string
	upgrader  websocket.Upgrader
}

// Options configures the web server.
type Options struct {
	Users     *auth.Store
	Sessions  *auth.SessionManager
	Convs     *memory.Store
	Artifacts *artifact.Store
	Handoff   *artifact.Buffer
	Runtime   *agent.Runtime
	Bus       *events.Bus
	BrandName string
	// BaseURL is the externally reachable address, used for share links.
	BaseURL string
	Logger  *slog.Logger
}

// NewServer creates the web server and parses all embedded templates.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		templates: loadTemplates(),
		users:     opts.Users,
		sessions:  opts.Sessions,
		convs:     opts.Convs,
		artifacts: opts.Artifacts,
		handoff:   opts.Handoff,
		runtime:   opts.Runtime,
		bus:       opts.Bus,
		brandName: opts.BrandName,
		baseURL:   opts.BaseURL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /{$}", s.requireAuth(s.handleHome))
	mux.HandleFunc("POST /conversations", s.requireAuth(s.handleNewConversation))
	mux.HandleFunc("GET /conversations/{id}", s.requireAuth(s.handleConversation))
	mux.HandleFunc("POST /conversations/{id}/rename", s.requireAuth(s.handleRename))
	mux.HandleFunc("POST /conversations/{id}/delete", s.requireAuth(s.handleDelete))
	mux.HandleFunc("POST /conversations/{id}/messages", s.requireAuth(s.handleMessage))
	mux.HandleFunc("GET /conversations/{id}/share.png", s.requireAuth(s.handleShareQR))

	mux.HandleFunc("GET /images/{id}", s.requireAuth(s.handleImage))
	mux.HandleFunc("GET /ws/activity", s.requireAuth(s.handleActivity))

	return mux
}
