package app

import (
	"database/sql"

	"github.com/go-chi/oauth"

	"github.com/tmercier/collecte/config"
	"github.com/tmercier/collecte/mail"
	"github.com/tmercier/collecte/storage"
)

type App struct {
	*sql.DB
	*oauth.BearerServer
	config.Config
	Mail  *mail.Mailer
	Files storage.Store
}
