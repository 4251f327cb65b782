package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/tmercier/collecte/app"
	"github.com/tmercier/collecte/config"
	"github.com/tmercier/collecte/database"
	"github.com/tmercier/collecte/httpx"
	"github.com/tmercier/collecte/log"
	"github.com/tmercier/collecte/mail"
	"github.com/tmercier/collecte/routes"
	"github.com/tmercier/collecte/storage"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	files, err := storage.New(cfg.FilesDir)
	if err != nil {
		log.Fatal("main.storage:", err)
	}

	mailer := mail.New(cfg.ResendKey, cfg.MailFrom)
	if !mailer.Enabled() {
		log.Warn("main.mail: no API key, email sending disabled")
	}

	bearerServer := httpx.NewBearerServer(db, cfg)

	app := app.App{
		DB:           db,
		BearerServer: bearerServer,
		Config:       cfg,
		Mail:         mailer,
		Files:        files,
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
