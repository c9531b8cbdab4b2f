package server

import (
	"log/slog"
	"net/http"

	"github.com/cloo-solutions/outreach/internal/api/handlers"
	"github.com/cloo-solutions/outreach/internal/api/middleware"
	"github.com/go-chi/chi/v5"
)

type RouterConfig struct {
	Logger            *slog.Logger
	PrincipalResolver middleware.PrincipalResolver
	WorkerToken       string
	AdminToken        string

	HealthHandler   *handlers.HealthHandler
	AuthHandler     *handlers.AuthHandler
	FileHandler     *handlers.FileHandler
	DocumentHandler *handlers.DocumentHandler
	CampaignHandler *handlers.CampaignHandler
	JobHandler      *handlers.JobHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.AdminToken))

		r.Post("/orgs", cfg.AuthHandler.CreateOrg)
		r.Post("/apikeys", cfg.AuthHandler.CreateAPIKey)
	})

	r.Route("/internal/jobs/{id}", func(r chi.Router) {
		r.Use(middleware.WorkerToken(cfg.WorkerToken))

		r.Post("/result", cfg.JobHandler.Result)
		r.Post("/progress", cfg.JobHandler.Progress)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.PrincipalResolver))

		r.Route("/files", func(r chi.Router) {
			r.Post("/", cfg.FileHandler.Upload)
			r.Post("/presign", cfg.FileHandler.Presign)
		})

		r.Put("/offer", cfg.DocumentHandler.SaveOffer)
		r.Get("/offer", cfg.DocumentHandler.GetOffer)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", cfg.DocumentHandler.List)
			r.Post("/upload", cfg.DocumentHandler.SubmitUpload)
			r.Post("/crawl", cfg.DocumentHandler.SubmitCrawl)
			r.Get("/{id}", cfg.DocumentHandler.Get)
			r.Delete("/{id}", cfg.DocumentHandler.Delete)
			r.Get("/{id}/chunks", cfg.DocumentHandler.Chunks)
			r.Post("/{id}/reprocess", cfg.DocumentHandler.Reprocess)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", cfg.CampaignHandler.Create)
			r.Get("/", cfg.CampaignHandler.List)
			r.Get("/{id}", cfg.CampaignHandler.Get)
			r.Post("/{id}/activate", cfg.CampaignHandler.Activate)

			r.Route("/{id}/templates", func(r chi.Router) {
				r.Post("/", cfg.CampaignHandler.CreateTemplate)
				r.Get("/", cfg.CampaignHandler.ListTemplates)
				r.Get("/{templateID}", cfg.CampaignHandler.GetTemplate)
				r.Put("/{templateID}", cfg.CampaignHandler.UpdateTemplate)
				r.Delete("/{templateID}", cfg.CampaignHandler.DeleteTemplate)
			})
		})
	})

	return r
}
