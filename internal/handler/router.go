package handler

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/campusloop/backend/internal/auth"
	"github.com/campusloop/backend/internal/handler/live"
	"github.com/campusloop/backend/internal/handler/session"
	middlewarePkg "github.com/campusloop/backend/internal/middleware"
	"github.com/campusloop/backend/internal/service/broker"
	"github.com/campusloop/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(b *broker.Broker, verifier *auth.Verifier, sessions session.Reader, db *sql.DB, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	liveHandler := live.New(b, verifier, log)
	sessionHandler := session.New(sessions)

	liveHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "database unreachable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
