package app

import (
	"context"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/loomwell/handover-backend/internal/db"
	"github.com/loomwell/handover-backend/internal/logger"
	"github.com/loomwell/handover-backend/internal/server"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Hub      *server.ProgressHub
	Server   *server.Server

	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(log, clientset, reposet)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	hub, err := server.NewProgressHub(ctx, log, clientset.Bus)
	if err != nil {
		cancel()
		clientset.Close()
		log.Sync()
		return nil, err
	}

	handlers, err := server.NewHandlers(
		log,
		serviceset.Auth,
		serviceset.Orchestrator,
		serviceset.Vector,
		reposet.Gap,
		reposet.GapAnswer,
		reposet.Connector,
		reposet.User,
		serviceset.Factory,
		hub,
	)
	if err != nil {
		cancel()
		clientset.Close()
		log.Sync()
		return nil, err
	}

	srv := server.NewServer(server.RouterConfig{
		Handlers:       handlers,
		AuthMiddleware: server.NewAuthMiddleware(log, serviceset.Auth),
		ServiceName:    cfg.ServiceName,
	})

	return &App{
		Log:      log,
		DB:       theDB,
		Cfg:      cfg,
		Clients:  clientset,
		Repos:    reposet,
		Services: serviceset,
		Hub:      hub,
		Server:   srv,
		cancel:   cancel,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Starting HTTP server", "address", a.Cfg.ListenAddress)
	return a.Server.Run(a.Cfg.ListenAddress)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Orchestrator != nil {
		a.Services.Orchestrator.Close()
	}
	if a.Services.Limiter != nil {
		a.Services.Limiter.Close()
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
