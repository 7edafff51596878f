// Package healthz exposes a minimal liveness/readiness surface, grounded on
// the teacher's chi+cors router (internal/api/router.go) — the render
// pipeline's worker process has no other HTTP surface (spec.md §1 treats the
// ingestion/API layer as an external collaborator), but operators still need
// something for container orchestration probes to hit.
package healthz

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
)

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// NewRouter builds the /healthz and /readyz endpoints. readyChecks run on
// every /readyz call; a failing check yields 503.
func NewRouter(rdb *redis.Client, readyChecks ...Checker) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("redis: " + err.Error()))
			return
		}
		for _, check := range readyChecks {
			if err := check(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	return r
}
