// Package httpapi exposes the authentication engine over HTTP. Sessions
// travel in HttpOnly cookies written by session.Transport; request and
// response bodies are JSON.
package httpapi

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/metrics/export/prometheus"
	"github.com/mnemoforge/authcore/middleware"
	"github.com/mnemoforge/authcore/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

// Options tunes the router around the engine.
type Options struct {
	// TrustProxyHeaders takes the client address from X-Forwarded-For
	// and X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	// AccessLog enables the combined-format request log.
	AccessLog bool
}

// Server holds the handlers. Build one with New and mount Handler.
type Server struct {
	engine    *authcore.Engine
	transport *session.Transport
	config    authcore.Config
	logger    *zap.Logger
	opts      Options
}

// New returns a Server for engine. A nil logger discards output.
func New(engine *authcore.Engine, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		transport: engine.SessionTransport(),
		config:    engine.Config(),
		logger:    logger.Named("http"),
		opts:      opts,
	}
}

// Router registers every route on a new mux.Router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.ClientInfo)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.config.Metrics.Enabled {
		r.Handle("/metrics", prometheus.New(s.engine).Handler()).Methods(http.MethodGet)
	}

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/login", s.login).Methods(http.MethodPost)
	auth.HandleFunc("/register", s.register).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", s.refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", s.logout).Methods(http.MethodPost)
	auth.HandleFunc("/2fa/verify", s.verifyTwoFactor).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/request", s.requestPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/validate", s.validatePasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/password-reset/confirm", s.confirmPasswordReset).Methods(http.MethodPost)
	auth.HandleFunc("/verify-email", s.verifyEmail).Methods(http.MethodGet)

	protected := auth.NewRoute().Subrouter()
	protected.Use(middleware.RequireAuth(s.engine))
	protected.HandleFunc("/check", s.check).Methods(http.MethodGet)
	protected.HandleFunc("/me", s.me).Methods(http.MethodGet)
	protected.HandleFunc("/verify-email/resend", s.resendVerification).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/setup", s.setupTwoFactor).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/enable", s.enableTwoFactor).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/disable", s.disableTwoFactor).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/backup-codes", s.regenerateBackupCodes).Methods(http.MethodPost)
	protected.HandleFunc("/2fa/status", s.twoFactorStatus).Methods(http.MethodGet)

	r.HandleFunc("/oauth2/authorization/{provider}", s.startOAuth).Methods(http.MethodGet)
	r.HandleFunc("/login/oauth2/code/{provider}", s.oauthCallback).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// Handler returns the router wrapped with panic recovery, optional proxy
// header handling and the access log.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()

	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger.Named("recovery"))),
		handlers.PrintRecoveryStack(true),
	)(h)
	if s.opts.TrustProxyHeaders {
		h = handlers.ProxyHeaders(h)
	}
	if s.opts.AccessLog {
		h = handlers.CombinedLoggingHandler(&zapio.Writer{Log: s.logger.Named("access"), Level: zap.InfoLevel}, h)
	}
	return h
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
