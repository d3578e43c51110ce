package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouteOptions struct {
	// StatusTimeout bounds the read-only job endpoints.
	StatusTimeout time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics       http.Handler
	// VideoDir is served at /videos/ when set.
	VideoDir      string
}

func Routes(h *Handler, opts RouteOptions) http.Handler {
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 5 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// after RequestID so the id is in the context
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(opts.StatusTimeout))
			r.Get("/{id}", h.GetJob)
			r.Get("/{id}/result", h.GetJobResult)
		})
	})

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	if opts.VideoDir != "" {
		fs := http.StripPrefix("/videos/", http.FileServer(http.Dir(opts.VideoDir)))
		r.Get("/videos/*", fs.ServeHTTP)
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
