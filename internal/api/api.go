package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/config"
	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/auth"
	"github.com/IlyasAtabaev731/banco-digital/internal/services/banking"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionCookie = "banco_session"

type APIServer struct {
	config  *config.Config
	logger  *slog.Logger
	server  *http.Server
	banking *banking.Service
	auth    *auth.Service
}

func New(config *config.Config, logger *slog.Logger, banking *banking.Service, auth *auth.Service) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:         config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		banking: banking,
		auth:    auth,
	}

	s.configureRouter()

	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured router.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.instrument)

	router.HandleFunc("/api/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/api/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/api/logout", s.authenticate(s.logoutHandler())).Methods("POST")
	router.HandleFunc("/api/session", s.authenticate(s.sessionHandler())).Methods("GET")
	router.HandleFunc("/api/dashboard", s.authenticate(s.dashboardHandler())).Methods("GET")
	router.HandleFunc("/api/transactions", s.authenticate(s.transactionsHandler())).Methods("GET")
	router.HandleFunc("/api/deposit", s.authenticate(s.depositHandler())).Methods("POST")
	router.HandleFunc("/api/transfer", s.authenticate(s.transferHandler())).Methods("POST")

	router.HandleFunc("/health", s.healthHandler()).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/", s.pageHandler("login")).Methods("GET")
	router.HandleFunc("/register", s.pageHandler("register")).Methods("GET")
	router.HandleFunc(banking.DashboardPath, s.dashboardPageHandler()).Methods("GET")

	router.NotFoundHandler = s.notFoundHandler()

	s.server.Handler = router
}

// sessionHandlerFunc receives the caller's session explicitly.
type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, session *models.Session)

func (s *APIServer) authenticate(next sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := s.session(r)
		if err != nil {
			s.respondError(w, err)
			return
		}

		next(w, r, session)
	}
}

// session resolves the caller from a bearer token or the session cookie.
func (s *APIServer) session(r *http.Request) (*models.Session, error) {
	const op = "api.session"

	token := ""
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.Split(header, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return nil, banking.WrapError(op, auth.ErrUnauthenticated)
		}
		token = parts[1]
	} else if cookie, err := r.Cookie(sessionCookie); err == nil {
		token = cookie.Value
	}

	if token == "" {
		return nil, banking.WrapError(op, auth.ErrUnauthenticated)
	}

	session, err := s.auth.Current(token)
	if err != nil {
		return nil, banking.WrapError(op, err)
	}

	return session, nil
}
