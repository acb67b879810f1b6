package app

import (
	"context"
	"fmt"

	"github.com/renderdeck/renderdeck/internal/app/notify"
	"github.com/renderdeck/renderdeck/internal/app/queue"
	"github.com/renderdeck/renderdeck/internal/app/services/catalog"
	"github.com/renderdeck/renderdeck/internal/app/services/executions"
	"github.com/renderdeck/renderdeck/internal/app/services/generations"
	"github.com/renderdeck/renderdeck/internal/app/storage"
	"github.com/renderdeck/renderdeck/internal/app/system"
	"github.com/renderdeck/renderdeck/internal/app/uploads"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users       storage.UserStore
	Models      storage.ModelStore
	Apps        storage.AppStore
	Generations storage.GenerationStore
	Executions  storage.ExecutionStore
}

// Options carries the swappable infrastructure pieces. Nil fields fall back
// to in-process defaults suitable for development and tests.
type Options struct {
	Queue   queue.Queue
	Uploads uploads.Store
	Invoker generations.ModelInvoker
	Workers int
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog     *catalog.Service
	Generations *generations.Service
	Executions  *executions.Service
	Hub         *notify.Hub
	Stores      Stores
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := storage.NewMemory()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Models == nil {
		stores.Models = mem
	}
	if stores.Apps == nil {
		stores.Apps = mem
	}
	if stores.Generations == nil {
		stores.Generations = mem
	}
	if stores.Executions == nil {
		stores.Executions = mem
	}
	if opts.Queue == nil {
		opts.Queue = queue.NewMemory(0)
	}

	manager := system.NewManager()
	hub := notify.NewHub(log)

	catalogService := catalog.New(stores.Models, stores.Apps, log)
	genService := generations.New(stores.Users, stores.Models, stores.Generations, opts.Queue, log)
	if opts.Uploads != nil {
		genService.AttachUploads(opts.Uploads)
	}
	genService.AttachNotifier(hub)

	execService := executions.New(stores.Apps, stores.Executions, log)
	execService.AttachLauncher(genService)
	execService.AttachNotifier(hub)
	genService.AttachObserver(executions.NewCoordinator(execService, log))

	runner := generations.NewRunner(genService, opts.Queue, log).WithWorkers(opts.Workers)
	if opts.Invoker != nil {
		runner = runner.WithInvoker(opts.Invoker)
	}
	if err := manager.Register(runner); err != nil {
		return nil, fmt.Errorf("register %s: %w", runner.Name(), err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Catalog:     catalogService,
		Generations: genService,
		Executions:  execService,
		Hub:         hub,
		Stores:      stores,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and disconnects websocket subscribers.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.Hub.Close()
	return err
}
