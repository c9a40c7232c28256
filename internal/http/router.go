package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/example/community-tips/internal/ingest"
	"github.com/example/community-tips/internal/tips"
	"github.com/example/community-tips/internal/types"
)

// TipService is the engine surface the API drives.
type TipService interface {
	Tips() []types.Tip
	Submit(ctx context.Context, req tips.SubmitRequest) (types.Tip, error)
	Report(ctx context.Context, id string) (tips.ReportResult, error)
	AddComment(ctx context.Context, id, text string) (types.Comment, error)
	Mode() tips.Mode
}

// Deps bundles everything the router serves.
type Deps struct {
	Tips            TipService
	Feed            http.Handler
	Offenders       []ingest.Offender
	Incidents       []ingest.Incident
	AllowedOrigins  []string
	SubmitPerMinute int
	MaxImageBytes   int
	Health          func(context.Context) error
	Now             func() time.Time
	Logger          zerolog.Logger
}

// NewRouter wires the public API.
func NewRouter(deps Deps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxImageBytes <= 0 {
		deps.MaxImageBytes = tips.DefaultMaxImageBytes
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(deps.Logger))
	r.Use(CORS(deps.AllowedOrigins))

	r.Get("/healthz", healthHandler(deps))

	th := &TipHandler{svc: deps.Tips, maxImageBytes: deps.MaxImageBytes, logger: deps.Logger}
	limiter := NewIPLimiter(deps.SubmitPerMinute)

	r.Route("/tips", func(r chi.Router) {
		r.Get("/", th.List)
		if deps.Feed != nil {
			r.Get("/feed", deps.Feed.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Post("/", th.Create)
			r.Post("/{id}/reports", th.Report)
			r.Post("/{id}/comments", th.Comment)
		})
	})

	dh := &DirectoryHandler{offenders: deps.Offenders, incidents: deps.Incidents, now: deps.Now}
	r.Get("/offenders", dh.Offenders)
	r.Get("/incidents", dh.Incidents)

	return r
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "mode": deps.Tips.Mode()})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
