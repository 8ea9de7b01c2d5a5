// Package server assembles the full devserve stack: storage instances,
// capability providers, services, dispatcher and the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/devserve/devserve/pkg/auth"
	"github.com/devserve/devserve/pkg/config"
	"github.com/devserve/devserve/pkg/crud"
	"github.com/devserve/devserve/pkg/dispatch"
	"github.com/devserve/devserve/pkg/flags"
	"github.com/devserve/devserve/pkg/jsonstore"
	"github.com/devserve/devserve/pkg/rules"
	"github.com/devserve/devserve/pkg/storage"
)

// Server is a fully wired devserve instance.
type Server struct {
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	log        *slog.Logger
}

// New builds a Server from cfg: seeds the public and protected instances,
// parses the access rules and wires the standard provider pipeline
// (storage, auth, flags, rules) with the users, data, jsonstore and util
// services.
func New(cfg config.Config, log *slog.Logger) (*Server, error) {
	public := storage.NewInstance()
	seed, err := config.LoadSeedData(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	public.Seed(seed)

	protected := storage.NewInstance()
	authProvider := auth.NewProvider(protected, cfg.Identity, []byte(cfg.Secret))
	authProvider.SeedUsers(cfg.Protected.SeedUsers())

	ruleSet, err := rules.Parse(cfg.Rules)
	if err != nil {
		return nil, err
	}
	engine := rules.NewEngine(ruleSet, public)

	flagStore := flags.NewStore(map[string]bool{"throttle": cfg.Throttle})

	dispatcher, err := dispatch.New(dispatch.Config{
		Providers: []dispatch.Provider{
			dispatch.NewStorageProvider(public),
			auth.NewCapabilityProvider(authProvider),
			flags.NewProvider(flagStore),
			rules.NewCapabilityProvider(engine),
		},
		Services: []dispatch.Service{
			auth.NewService(authProvider),
			crud.NewService(),
			jsonstore.NewService(),
			flags.NewService(flagStore),
		},
		Flags:  flagStore,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		dispatcher: dispatcher,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           dispatcher,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

// Handler exposes the dispatcher, mainly for tests embedding the server.
func (s *Server) Handler() http.Handler {
	return s.dispatcher
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}
