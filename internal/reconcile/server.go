package reconcile

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"
)

// Server handles HTTP requests for cheque reconciliation
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Cheque Reconciler"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// recoverPanic turns a panic in one handler into a 500 for that request only
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				slog.Error("Panic while handling request", "method", r.Method, "path", r.URL.Path, "panic", rec, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers to every response and answers preflight
// requests
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/cheques/{id}/image", s.requireAuth(s.handleGetChequeImage))
	s.mux.HandleFunc("POST /api/cheques/{id}/image", s.requireAuth(s.handleReplaceChequeImage))
	s.mux.HandleFunc("POST /api/cheques/{id}/retry", s.requireAuth(s.handleRetry))
	s.mux.HandleFunc("POST /api/cheques/{id}/match", s.requireAuth(s.handleSelectInvoice))
	s.mux.HandleFunc("POST /api/cheques/{id}/reject", s.requireAuth(s.handleReject))
	s.mux.HandleFunc("POST /api/cheques/{id}/complete", s.requireAuth(s.handleComplete))
	s.mux.HandleFunc("POST /api/cheques/{id}/reset", s.requireAuth(s.handleReset))
	s.mux.HandleFunc("GET /api/cheques/{id}", s.requireAuth(s.handleGetCheque))
	s.mux.HandleFunc("GET /api/cheques", s.requireAuth(s.handleListCheques))
	s.mux.HandleFunc("POST /api/cheques", s.requireAuth(s.handleUploadCheque))

	s.mux.HandleFunc("POST /api/analyze", s.requireAuth(s.handleAnalyze))

	s.mux.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
	s.mux.HandleFunc("GET /api/invoices", s.requireAuth(s.handleListInvoices))
	s.mux.HandleFunc("GET /api/settlements", s.requireAuth(s.handleListSettlements))
	s.mux.HandleFunc("GET /api/reports/settlements.xlsx", s.requireAuth(s.handleSettlementReport))
}

// Handler returns the mux wrapped with CORS and panic recovery
func (s *Server) Handler() http.Handler {
	return corsMiddleware(recoverPanic(s.mux))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
