// Package main provides the marketplace web client: a thin view layer over
// the remote deal service. It keeps no durable state beyond the session
// cookies; every view load re-fetches from the remote authority.
package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dealbridge/marketplace/internal/deals"
	"github.com/dealbridge/marketplace/internal/invitations"
	"github.com/dealbridge/marketplace/internal/marketplace"
	"github.com/dealbridge/marketplace/internal/session"
	"github.com/dealbridge/marketplace/internal/shutdown"
	"github.com/dealbridge/marketplace/pkg/config"
	"github.com/dealbridge/marketplace/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	log := logger.New(level, cfg.LogJSON)

	s := newServer(cfg, log)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.routes(),
	}

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewHTTPServerComponent("web", httpServer))
	go coordinator.WaitForSignal()

	log.Info("starting marketplace web client",
		"addr", cfg.ListenAddr,
		"api_url", cfg.APIURL,
	)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("web server failed", "error", err)
		os.Exit(1)
	}

	coordinator.Wait()
	log.Info("web client stopped")
	os.Exit(coordinator.ExitCode())
}

// server holds the web client's dependencies. The session store and the deal
// service client are injected here once at startup; handlers never reach for
// ambient globals.
type server struct {
	cfg      *config.Config
	logger   *logger.Logger
	sessions session.Store
	base     *marketplace.Client
}

func newServer(cfg *config.Config, log *logger.Logger) *server {
	return &server{
		cfg:      cfg,
		logger:   log,
		sessions: session.NewCookieStore(cfg.SecureCookies),
		base:     marketplace.NewClient(cfg.APIURL, marketplace.WithTimeout(cfg.RequestTimeout)),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.requestLogger)
	r.Use(s.recovery)

	// Public routes
	r.Get("/health", handleHealth)
	r.Get("/session/establish", s.handleEstablishSession)
	r.Get("/logout", s.handleLogout)
	r.Get("/login/{role}", s.handleLoginPage)

	// Protected routes: the session guard runs before any privileged call.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/profile", s.handleProfile)

		r.Route("/buyer/deals", func(r chi.Router) {
			r.Get("/", s.handleBuyerDeals)
			r.Post("/{dealID}/activate", s.handleDealTransition(marketplace.ActionActivate))
			r.Post("/{dealID}/reject", s.handleDealTransition(marketplace.ActionReject))
		})

		r.Route("/seller/deals/{dealID}", func(r chi.Router) {
			r.Get("/summary", s.handleStatusSummary)
			r.Get("/summary/ws", s.handleStatusSummaryWS)
		})
	})

	return r
}

// ============================================================================
// Middleware
// ============================================================================

// requestID assigns every request an id and threads it through the context
// and the X-Request-ID response header.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := logger.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs every request with status and timing.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.WithContext(r.Context()).Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// recovery recovers from handler panics and answers with a generic error.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithContext(r.Context()).Error("panic recovered",
					"error", rec,
					"method", r.Method,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireSession is the session lifecycle guard. A missing session redirects
// to the login page before any privileged call executes; a token the remote
// service no longer accepts clears the session and redirects likewise.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.Read(r)
		if !ok {
			redirectToLogin(w, r, session.RoleBuyer, "")
			return
		}

		client := s.apiClient(w, r, sess)
		profile, err := client.FetchProfile(r.Context())
		if err != nil {
			if errors.Is(err, marketplace.ErrAuthRequired) || errors.Is(err, marketplace.ErrNoToken) {
				// The client's auth-expired handler has already cleared the
				// session; invalidating again would duplicate the headers.
				s.logger.WithContext(r.Context()).Debug("session validation failed", "error", err)
				redirectToLogin(w, r, sess.Role, "Your session has expired. Please log in again.")
				return
			}
			// The remote service is unhealthy, not the session. Surface it
			// without tearing the session down.
			s.handleRemoteError(w, r, err)
			return
		}
		if profile == nil {
			s.sessions.Invalidate(w)
			redirectToLogin(w, r, sess.Role, "Your session has expired. Please log in again.")
			return
		}

		ctx := logger.ContextWithUser(r.Context(), sess.UserID, string(sess.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiClient builds a per-request deal service client: session token attached
// and 401 handling wired back to session invalidation. The gateway fans out
// over goroutines sharing one client, so the invalidator must run at most
// once; concurrent writes to the response header map are fatal.
func (s *server) apiClient(w http.ResponseWriter, r *http.Request, sess session.Session) *marketplace.Client {
	client := s.base
	if override := s.sessions.APIURL(r); override != "" {
		client = marketplace.NewClient(override, marketplace.WithTimeout(s.cfg.RequestTimeout))
	}
	var invalidateOnce sync.Once
	return client.
		WithToken(sess.Token).
		WithAuthExpiredHandler(func() {
			invalidateOnce.Do(func() {
				s.sessions.Invalidate(w)
			})
		})
}

// ============================================================================
// Session Handlers
// ============================================================================

// handleEstablishSession accepts credentials arriving via an incoming link
// and persists them, then forwards to the role's landing view.
func (s *server) handleEstablishSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromLink(r.URL.Query())
	if !ok {
		redirectToLogin(w, r, session.RoleBuyer, "Missing credentials")
		return
	}

	s.sessions.Establish(w, r, sess)

	if apiURL := strings.TrimSpace(r.URL.Query().Get("apiUrl")); apiURL != "" {
		if u, err := url.Parse(apiURL); err == nil && u.Scheme != "" && u.Host != "" {
			s.sessions.SetAPIURL(w, apiURL)
		}
	}

	s.logger.Info("session established", "user_id", sess.UserID, "role", sess.Role)
	http.Redirect(w, r, sess.Role.HomePath(), http.StatusFound)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	role := session.RoleBuyer
	if sess, ok := s.sessions.Read(r); ok {
		role = sess.Role
	}
	s.sessions.Invalidate(w)
	http.Redirect(w, r, role.LoginPath(), http.StatusFound)
}

// handleLoginPage is a placeholder surface; authentication itself lives with
// the remote service, which redirects back to /session/establish.
func (s *server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	role := session.ParseRole(chi.URLParam(r, "role"))
	writeJSON(w, http.StatusOK, map[string]string{
		"role":  string(role),
		"error": r.URL.Query().Get("error"),
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.Read(r)
	profile, err := s.apiClient(w, r, sess).FetchProfile(r.Context())
	if err != nil {
		s.handleAPIError(w, r, err, sess.Role)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ============================================================================
// Buyer Deal Handlers
// ============================================================================

// buyerDealsResponse is the view-state for the buyer deal pipeline.
type buyerDealsResponse struct {
	Tab    marketplace.Status         `json:"tab"`
	Query  string                     `json:"query,omitempty"`
	Deals  []deals.View               `json:"deals"`
	Counts map[marketplace.Status]int `json:"counts"`
	Error  string                     `json:"error,omitempty"`
}

// handleBuyerDeals rebuilds the unified deal collection from the three
// status endpoints and applies tab plus search filtering.
func (s *server) handleBuyerDeals(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.Read(r)
	dc := deals.NewClient(s.apiClient(w, r, sess), s.logger.WithComponent("deals").Logger)

	views, err := dc.LoadAll(r.Context())
	if err != nil {
		s.handleAPIError(w, r, err, sess.Role)
		return
	}

	tab := marketplace.Status(r.URL.Query().Get("tab"))
	if !tab.Valid() {
		tab = dc.ActiveTab()
	}
	query := r.URL.Query().Get("q")

	counts := make(map[marketplace.Status]int, 3)
	for _, status := range marketplace.Statuses() {
		counts[status] = len(deals.Filter(views, status, ""))
	}

	writeJSON(w, http.StatusOK, buyerDealsResponse{
		Tab:    tab,
		Query:  query,
		Deals:  deals.Filter(views, tab, query),
		Counts: counts,
		Error:  r.URL.Query().Get("error"),
	})
}

// handleDealTransition issues a transition command and bounces back to the
// deal list focused on the destination bucket. The local collection is never
// patched; the redirect target re-fetches everything.
func (s *server) handleDealTransition(action marketplace.TransitionAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dealID := strings.TrimSpace(chi.URLParam(r, "dealID"))
		if dealID == "" {
			// No deal to act on; fall back to the safe default view.
			http.Redirect(w, r, "/buyer/deals", http.StatusSeeOther)
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Redirect(w, r, "/buyer/deals?error="+url.QueryEscape("Invalid form data"), http.StatusSeeOther)
			return
		}
		notes := r.FormValue("notes")

		sess, _ := s.sessions.Read(r)
		dc := deals.NewClient(s.apiClient(w, r, sess), s.logger.WithComponent("deals").Logger)

		if err := dc.Transition(r.Context(), dealID, action, notes); err != nil {
			if errors.Is(err, marketplace.ErrAuthRequired) || errors.Is(err, marketplace.ErrNoToken) {
				redirectToLogin(w, r, sess.Role, "Your session has expired. Please log in again.")
				return
			}
			http.Redirect(w, r, "/buyer/deals?tab="+string(dc.ActiveTab())+"&error="+url.QueryEscape(errorMessage(err)), http.StatusSeeOther)
			return
		}

		http.Redirect(w, r, "/buyer/deals?tab="+string(action.Target()), http.StatusSeeOther)
	}
}

// ============================================================================
// Seller Summary Handlers
// ============================================================================

func (s *server) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	dealID := strings.TrimSpace(chi.URLParam(r, "dealID"))
	if dealID == "" {
		http.Redirect(w, r, "/seller/deals", http.StatusSeeOther)
		return
	}

	sess, _ := s.sessions.Read(r)
	agg := invitations.NewAggregator(s.apiClient(w, r, sess), s.logger.WithComponent("invitations").Logger)

	summary, err := agg.BuildSummary(r.Context(), dealID)
	if err != nil {
		s.handleAPIError(w, r, err, sess.Role)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

var summaryUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusSummaryWS pushes a fresh status summary whenever the browser
// reports the hosting view became visible again, so out-of-band invitation
// responses show up without a fixed polling timer.
func (s *server) handleStatusSummaryWS(w http.ResponseWriter, r *http.Request) {
	dealID := strings.TrimSpace(chi.URLParam(r, "dealID"))
	if dealID == "" {
		http.Error(w, "deal id is required", http.StatusBadRequest)
		return
	}

	sess, _ := s.sessions.Read(r)
	log := s.logger.WithContext(r.Context())

	conn, err := summaryUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade websocket", "error", err)
		return
	}
	defer conn.Close()

	// The upgraded connection outlives the HTTP handler; 401 handling cannot
	// write cookies anymore, so the client is built without the invalidator.
	client := s.base.WithToken(sess.Token)
	agg := invitations.NewAggregator(client, s.logger.WithComponent("invitations").Logger)

	push := func() bool {
		summary, err := agg.BuildSummary(r.Context(), dealID)
		if err != nil {
			log.Warn("summary rebuild failed", "deal_id", dealID, "error", err)
			if writeErr := conn.WriteJSON(map[string]string{"error": errorMessage(err)}); writeErr != nil {
				return false
			}
			return !errors.Is(err, marketplace.ErrAuthRequired)
		}
		return conn.WriteJSON(summary) == nil
	}

	if !push() {
		return
	}

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		switch strings.TrimSpace(string(msg)) {
		case "visible", "refresh":
			if !push() {
				return
			}
		}
	}
}

// ============================================================================
// Error Handling Helpers
// ============================================================================

// handleAPIError maps a gateway failure to the response the taxonomy calls
// for: auth failures clear the session and navigate to login, remote
// failures surface as a dismissible error payload.
func (s *server) handleAPIError(w http.ResponseWriter, r *http.Request, err error, role session.Role) {
	if errors.Is(err, marketplace.ErrAuthRequired) || errors.Is(err, marketplace.ErrNoToken) {
		// The 401 path has already invalidated the store via the client's
		// auth-expired handler; ErrNoToken never had a session to clear.
		redirectToLogin(w, r, role, "Your session has expired. Please log in again.")
		return
	}
	s.handleRemoteError(w, r, err)
}

func (s *server) handleRemoteError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.WithContext(r.Context()).Error("remote service call failed", "error", err)
	writeError(w, http.StatusBadGateway, errorMessage(err))
}

func errorMessage(err error) string {
	var remoteErr *marketplace.RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.Message
	}
	if err != nil {
		return err.Error()
	}
	return "An unexpected error occurred"
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, role session.Role, message string) {
	target := role.LoginPath()
	if message != "" {
		target += "?error=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// ============================================================================
// Response Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
