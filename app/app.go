package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lanternhq/lantern/config"
	"github.com/lanternhq/lantern/database"
	"github.com/lanternhq/lantern/handlers"
	"github.com/lanternhq/lantern/server"
	"github.com/lanternhq/lantern/services/linking"
	"github.com/lanternhq/lantern/services/logging"
	"github.com/lanternhq/lantern/services/mail"
	"github.com/lanternhq/lantern/services/pendinglogin"
	"github.com/lanternhq/lantern/services/session"
	"github.com/lanternhq/lantern/services/tokens"
	"github.com/lanternhq/lantern/users"
	"go.uber.org/fx"
)

// App assembles every module into one fx application. Pass a nil config
// to load it from the environment.
type App struct {
	fx     *fx.App
	logger *logging.Service
}

func New(customConfig *config.Config) *App {
	a := &App{}

	a.fx = fx.New(
		config.NewProvider(customConfig),
		fx.Provide(func() *database.ModelsOption {
			return database.WithModels(
				&users.User{},
				&users.UserEmail{},
				&pendinglogin.PendingLoginRequest{},
			)
		}),
		logging.Module,
		database.Module,
		users.Module,
		tokens.Module,
		pendinglogin.Module,
		session.Module,
		mail.Module,
		linking.Module,
		server.Module,
		handlers.Module,
		fx.Populate(&a.logger),
	)

	return a
}

func (a *App) Start(ctx context.Context) error {
	return a.fx.Start(ctx)
}

func (a *App) Run() {
	if err := a.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	if a.logger != nil {
		a.logger.Info("Received shutdown signal, stopping gracefully...")
	} else {
		log.Printf("Received signal %v, shutting down gracefully...", sig)
	}

	a.Stop()
}

func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.fx.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("Failed to stop application gracefully")
		} else {
			log.Printf("Failed to stop application gracefully: %v", err)
		}
	}
}
