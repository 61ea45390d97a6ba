// Package schoolchat wires the chat client together: config, logging,
// backend client, stores, scheduler and mutations.
package schoolchat

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edusys/schoolchat/pkg/auth"
	"github.com/edusys/schoolchat/pkg/backend"
	"github.com/edusys/schoolchat/pkg/chat"
	"github.com/edusys/schoolchat/pkg/history"
	"github.com/edusys/schoolchat/pkg/logger"
)

type App struct {
	config  *Config
	context context.Context
	logger  *slog.Logger
	db      *sql.DB

	Backend   chat.Backend
	Rooms     *chat.RoomStore
	Messages  *chat.MessageStore
	Mutations *chat.MutationService
	Scheduler *chat.Scheduler

	cleanupFuncs []func(context.Context)
	wg           sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	app := &App{}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = logger.New(os.Stdout, slog.LevelDebug)

	viewer := chat.User{
		ID:   config.User.ID,
		Name: config.User.Name,
		Role: chat.Role(config.User.Role),
	}

	app.Backend = backend.New(backend.Options{
		BaseURL: config.API.BaseURL,
		Tokens:  &auth.ExpiryCheckedSource{Source: auth.StaticTokenSource(config.API.Token)},
		Timeout: time.Duration(config.API.TimeoutSeconds) * time.Second,
		Logger:  app.logger,
	})

	var hist chat.History
	if config.History.File != "" {
		db, err := history.Open(config.History.File, config.History.Migrations)
		if err != nil {
			failed(1, "failed to open history cache: %v\n", err)
		}
		app.db = db
		app.AddCleanupFunc(func(ctx context.Context) {
			app.db.Close()
		})
		hist = history.NewSQLiteHistoryStore(db)
	}

	app.Rooms = chat.NewRoomStore(app.Backend, viewer, app.logger)
	app.Messages = chat.NewMessageStore(app.Backend, hist, config.Sync.PageSize, app.logger)
	app.Mutations = chat.NewMutationService(app.Backend, app.Messages, app.Rooms, viewer, app.logger)
	app.Scheduler = chat.NewScheduler(app.Backend, app.Rooms, app.Messages,
		time.Duration(config.Sync.IntervalSeconds)*time.Second, app.logger)

	return app
}

// Run drives the polling scheduler until the context is cancelled, then
// runs the cleanup funcs with a grace period.
func (app *App) Run() int {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.Scheduler.Run(app.context); err != nil && err != context.Canceled {
			app.logger.Error("scheduler stopped", "error", err)
		}
	}()

	app.logger.Info("chat client running",
		"api", app.config.API.BaseURL,
		"user", app.config.User.ID,
		"role", app.config.User.Role)

	<-app.context.Done()
	app.wg.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	for _, f := range app.cleanupFuncs {
		f(closeCtx)
	}
	app.logger.Info("app shutdown gracefully")
	return 0
}

// Context returns the app's root context.
func (app *App) Context() context.Context {
	return app.context
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
