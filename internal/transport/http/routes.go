package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	_ "brandclip-worker-service/docs"
)

// Routes mounts the webhook routes for the configured workers. A process
// serving a single worker also answers on /process. The /videos routes are
// mounted only when internalToken is set.
func Routes(h *Handler, logger *zap.Logger, internalToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// after RequestID
	r.Use(RequestLogger(logger))

	r.Get("/health", h.Health)

	if h.edit != nil {
		r.Post("/edit/process", h.ProcessEdit)
	}
	if h.upload != nil {
		r.Post("/upload/process", h.ProcessUpload)
	}
	switch {
	case h.edit != nil && h.upload == nil:
		r.Post("/process", h.ProcessEdit)
	case h.upload != nil && h.edit == nil:
		r.Post("/process", h.ProcessUpload)
	}

	if internalToken != "" && h.dispatcher != nil {
		r.Route("/videos", func(r chi.Router) {
			r.Use(BearerAuth(internalToken))
			r.Post("/{id}/edit", h.ConfirmEdit)
			r.Post("/{id}/upload", h.RequestUpload)
		})
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
