package web

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"subscription-lifecycle/internal/usecase"

	"github.com/rs/zerolog"
)

// Server is the operator-facing admin API.
type Server struct {
	statsUC     usecase.StatsUseCase
	reconcileUC usecase.ReconcileUseCase
	batch       int
	apiKey      string
	log         *zerolog.Logger
}

func NewServer(
	statsUC usecase.StatsUseCase,
	reconcileUC usecase.ReconcileUseCase,
	batch int,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "AdminServer").Logger()
	return &Server{
		statsUC:     statsUC,
		reconcileUC: reconcileUC,
		batch:       batch,
		apiKey:      apiKey,
		log:         &l,
	}
}

// RegisterRoutes sets up the routing for the admin API.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /admin/stats", s.authMiddleware(statsHandler(s.statsUC)))
	mux.Handle("GET /admin/discrepancies", s.authMiddleware(discrepanciesListHandler(s.reconcileUC)))
	mux.Handle("POST /admin/discrepancies/{id}/resolve", s.authMiddleware(discrepancyResolveHandler(s.reconcileUC, s.log)))
	mux.Handle("POST /admin/reconcile", s.authMiddleware(reconcileHandler(s.reconcileUC, s.batch, s.log)))
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("Admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(tokenParts[1]), []byte(s.apiKey)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
