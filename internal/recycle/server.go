package recycle

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const sessionCookieName = "bluebin_session"

// Server handles HTTP requests for the detector page and API
type Server struct {
	service   *Service
	sessions  *Sessions
	metrics   *Metrics
	basicAuth BasicAuth
	mux       *http.ServeMux
	validate  *validator.Validate
	upgrader  websocket.Upgrader

	mu   sync.Mutex
	http *http.Server
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) enabled() bool {
	return b.Username != "" || b.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, sessions *Sessions, metrics *Metrics, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, sessions, metrics, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, sessions *Sessions, metrics *Metrics, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	if sessions == nil {
		sessions = NewSessions()
	}
	s := &Server{
		service:   service,
		sessions:  sessions,
		metrics:   metrics,
		basicAuth: basicAuth,
		mux:       mux,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if !s.basicAuth.enabled() {
		return true
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="BlueBin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /static/app.css", s.requireAuth(s.handleStaticCSS))
	s.mux.HandleFunc("GET /static/app.js", s.requireAuth(s.handleStaticJS))

	// Probes stay reachable without credentials
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	s.mux.HandleFunc("POST /api/detect", s.requireAuth(s.handleDetect))

	s.mux.HandleFunc("GET /api/captures/current/overlay.png", s.requireAuth(s.handleCurrentOverlay))
	s.mux.HandleFunc("GET /api/captures/current/annotated.jpg", s.requireAuth(s.handleCurrentAnnotated))
	s.mux.HandleFunc("GET /api/captures/current", s.requireAuth(s.handleCurrentCapture))
	s.mux.HandleFunc("DELETE /api/captures/current", s.requireAuth(s.handleResetCapture))
	s.mux.HandleFunc("POST /api/captures", s.requireAuth(s.handleUploadCapture))

	s.mux.HandleFunc("GET /api/feedback/{id}/image", s.requireAuth(s.handleGetFeedbackImage))
	s.mux.HandleFunc("GET /api/feedback/{id}", s.requireAuth(s.handleGetFeedback))
	s.mux.HandleFunc("DELETE /api/feedback/{id}", s.requireAuth(s.handleDeleteFeedback))
	s.mux.HandleFunc("GET /api/feedback", s.requireAuth(s.handleListFeedback))
	s.mux.HandleFunc("POST /api/feedback", s.requireAuth(s.handleSubmitFeedback))

	s.mux.HandleFunc("GET /ws", s.requireAuth(s.handleWebSocket))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /", s.requireAuth(s.handleIndex))
}

// session returns the caller's controller, issuing a session cookie when needed
func (s *Server) session(w http.ResponseWriter, r *http.Request) *Controller {
	var current string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		current = cookie.Value
	}

	id, ctrl := s.sessions.Get(current)
	if id != current {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return ctrl
}

// Handler returns the server's routes wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
