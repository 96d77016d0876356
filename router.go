package main

import (
	"net/http"
	"time"

	"scrapbook-server/handlers/api/cleanup"
	"scrapbook-server/handlers/api/documents"
	"scrapbook-server/handlers/api/uploads"
	"scrapbook-server/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

type routerOptions struct {
	allowedOrigins []string
	maxUploadSize  int64
	defaultGrace   time.Duration
}

func setupRouter(s *stores.Stores, sweeper cleanup.Sweeper, opts routerOptions) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "X-Requested-With"},
		ExposedHeaders:   []string{documents.NextItemIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, map[string]string{"message": "Hello from the ScrapBookApp server!"})
		})

		r.Post("/upload", uploads.HandleUpload(s.Uploads, opts.maxUploadSize))
		r.Post("/save/{id}", documents.HandleSave(s.Documents))
		r.Get("/load/{id}", documents.HandleLoad(s.Documents))

		r.Route("/scrapbooks", func(r chi.Router) {
			r.Get("/", documents.HandleList(s.Documents))
			r.Post("/", documents.HandleCreate())
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", documents.HandleDelete(s.Documents))
				r.Post("/rename", documents.HandleRename(s.Documents))
			})
		})

		r.Post("/cleanup", cleanup.HandleCleanup(sweeper, opts.defaultGrace))
	})

	r.Get("/uploads/{filename}", uploads.HandleServe(s.Uploads))

	return r
}
