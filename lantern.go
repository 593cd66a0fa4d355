// Package lantern is the root facade for the passwordless identity
// service: magic-link logins, lazily materialized guest identities,
// multi-email accounts and confirmed account merges.
package lantern

import (
	"github.com/lanternhq/lantern/app"
	"github.com/lanternhq/lantern/config"
)

type App = app.App

// New assembles the full application. A nil config loads configuration
// from the environment.
func New(cfg *config.Config) *App {
	return app.New(cfg)
}
