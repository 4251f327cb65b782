package routes

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))
	root.Mount("/files", http.StripPrefix("/files", http.FileServer(http.Dir(app.Files.Root))))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	// public intake surface
	api.Get(`/campaigns/{id:^\d+$}`, PublicGetCampaign(app))
	api.Post(`/campaigns/{id:^\d+$}/submissions`, SubmitCampaign(app))
	api.Post(`/campaigns/{id:^\d+$}/uploads`, UploadAttachment(app))

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.Owner(app.TokenSecret))

		// CRUD campaign
		r.Post("/campaigns", CreateCampaign(app))
		r.Get("/campaigns", ListCampaigns(app))
		r.Get(`/campaigns/{id:^\d+$}`, GetCampaignById(app))
		r.Put(`/campaigns/{id:^\d+$}`, UpdateCampaign(app))
		r.Delete(`/campaigns/{id:^\d+$}`, DeleteCampaign(app))

		// submission search and follow-up
		r.Post(`/campaigns/{id:^\d+$}/submissions/search`, SearchSubmissions(app))
		r.Get(`/submissions/{id:^\d+$}`, GetSubmissionById(app))
		r.Put(`/submissions/{id:^\d+$}/favorite`, SetSubmissionFavorite(app))
		r.Delete(`/submissions/{id:^\d+$}`, DeleteSubmission(app))

		r.Get(`/submissions/{id:^\d+$}/activities`, ListActivities(app))
		r.Post(`/submissions/{id:^\d+$}/activities`, CreateActivity(app))
		r.Put(`/activities/{id:^\d+$}`, UpdateActivity(app))
		r.Delete(`/activities/{id:^\d+$}`, DeleteActivity(app))

		// sheet analysis and import
		r.Post("/analyze", AnalyzeSheet(app))
		r.Post("/campaigns/import", ImportCampaign(app))

		// export
		r.Post(`/campaigns/{id:^\d+$}/export`, ExportSubmissions(app))
		r.Get(`/campaigns/{id:^\d+$}/exports`, ListExportHistory(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
