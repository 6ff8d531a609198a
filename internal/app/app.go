// Package app assembles the display process: logger, module catalog, the
// bridge (server and client halves), and the lifecycle controller, all from
// one startup configuration file.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantum28/MagicMirror/internal/bridge"
	"github.com/quantum28/MagicMirror/internal/bus"
	"github.com/quantum28/MagicMirror/internal/config"
	"github.com/quantum28/MagicMirror/internal/ctxlog"
	"github.com/quantum28/MagicMirror/internal/lifecycle"
	"github.com/quantum28/MagicMirror/internal/module"
	"github.com/quantum28/MagicMirror/internal/resource"
	"github.com/quantum28/MagicMirror/internal/scheduler"
)

// Config holds everything an App needs to run.
type Config struct {
	// ConfigPath is the HCL file declaring module placements and options.
	ConfigPath string
	// Address is the listen address for the socket.io bridge. Empty runs the
	// bridge over the in-process memory transport instead (no server).
	Address string
	// ResourceDir is the base directory module resources resolve against.
	ResourceDir string
	// FetchTimeout bounds remote resource and backend fetches.
	FetchTimeout time.Duration
	// Admission gates new physical connections; nil accepts all. Supplied by
	// the access-control collaborator, not owned here.
	Admission bridge.AdmissionFunc
	LogFormat string
	LogLevel  string
}

// Module is implemented by every module package compiled into the binary.
// Register installs the module's definition into the catalog.
type Module interface {
	Register(reg *module.Registry)
}

// BackendProvider is the optional second capability of a Module: a
// server-side singleton counterpart.
type BackendProvider interface {
	Backend() *bridge.Backend
}

// App encapsulates one display process and its collaborators.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	ctx    context.Context

	registry   *module.Registry
	controller *lifecycle.Controller
	backends   *bridge.BackendRegistry
	mux        *bridge.Multiplexer
	loader     *resource.Loader
	httpServer *http.Server
	file       *config.File
}

// New constructs a fully wired App. Critical startup errors (unreadable
// config, duplicate registrations) panic; the CLI entrypoint recovers and
// reports them.
func New(outW io.Writer, appConfig *Config, mods ...Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	file, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}

	reg := module.NewRegistry()
	for _, mod := range mods {
		mod.Register(reg)
	}
	logger.Debug("All module definitions registered.", "count", len(reg.Names()))

	clientConn, serverConn, httpServer := buildTransport(ctx, appConfig, file)

	backends := bridge.NewBackendRegistry(ctx, serverConn)
	for _, mod := range mods {
		if provider, ok := mod.(BackendProvider); ok {
			backends.Register(provider.Backend())
		}
	}

	loader := resource.NewLoader(appConfig.ResourceDir, appConfig.FetchTimeout)
	mux := bridge.NewMultiplexer(ctx, clientConn)
	controller := lifecycle.NewController(ctx, lifecycle.Options{
		Registry:  reg,
		Resources: loader,
		Bus:       bus.New(),
		Mux:       mux,
		Scheduler: scheduler.New(),
		Locale:    file.Locale,
	})

	return &App{
		outW:       outW,
		logger:     logger,
		ctx:        ctx,
		registry:   reg,
		controller: controller,
		backends:   backends,
		mux:        mux,
		loader:     loader,
		httpServer: httpServer,
		file:       file,
	}
}

// buildTransport picks the bridge transport: socket.io over HTTP when an
// address is configured, the in-process pair otherwise.
func buildTransport(ctx context.Context, appConfig *Config, file *config.File) (bridge.ClientConn, bridge.ServerConn, *http.Server) {
	address := appConfig.Address
	if address == "" {
		address = file.Address
	}
	if address == "" {
		server := bridge.NewMemoryServer()
		return server.Dial(), server, nil
	}

	server := bridge.NewSocketIOServer(ctx, appConfig.Admission)
	serveMux := http.NewServeMux()
	serveMux.Handle("/socket.io/", server.Handler())
	httpServer := &http.Server{Addr: address, Handler: serveMux}

	client, err := bridge.DialSocketIO("http://" + address + "/socket.io/")
	if err != nil {
		panic(fmt.Errorf("failed to prepare bridge client: %w", err))
	}
	return client, server, httpServer
}

// Controller exposes the lifecycle controller, primarily for tests.
func (a *App) Controller() *lifecycle.Controller {
	return a.controller
}

// Backends exposes the backend registry, primarily for tests.
func (a *App) Backends() *bridge.BackendRegistry {
	return a.backends
}

// Run registers all configured placements, starts backends and instances,
// and blocks until the context is cancelled. A placement of an unknown
// module type is reported and skipped; everything else keeps going.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	if a.httpServer != nil {
		go func() {
			a.logger.Info("Bridge listening.", "address", a.httpServer.Addr)
			if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.logger.Error("Bridge server stopped.", "error", err)
			}
		}()
	}

	a.backends.StartAll(ctx)

	for _, placement := range a.file.Placements {
		if _, err := a.controller.Register(ctx, placement.Module, placement.Position, placement.Options); err != nil {
			a.logger.Error("Skipping placement.", "module", placement.Module, "error", err)
		}
	}
	a.controller.StartAll(ctx)
	a.logger.Info("All module instances started.", "instances", len(a.controller.Instances()))

	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown terminates all instances and closes the transports. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.controller.TerminateAll(ctx)
	if err := a.mux.Close(); err != nil {
		a.logger.Warn("Closing bridge client failed.", "error", err)
	}
	if err := a.backends.Close(); err != nil {
		a.logger.Warn("Closing backend registry failed.", "error", err)
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}
	if err := a.loader.Close(); err != nil {
		a.logger.Warn("Closing resource loader failed.", "error", err)
	}
	a.logger.Info("Shutdown complete.")
	return nil
}
