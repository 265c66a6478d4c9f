package app

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"

	"github.com/vk/agentgridgo/blocks/flow"
	"github.com/vk/agentgridgo/blocks/math"
	"github.com/vk/agentgridgo/blocks/text"
	"github.com/vk/agentgridgo/internal/config"
	"github.com/vk/agentgridgo/internal/ctxlog"
	"github.com/vk/agentgridgo/internal/events"
	"github.com/vk/agentgridgo/internal/execstore"
	"github.com/vk/agentgridgo/internal/executor"
	"github.com/vk/agentgridgo/internal/graph"
	"github.com/vk/agentgridgo/internal/inmemorystore"
	"github.com/vk/agentgridgo/internal/ledger"
	"github.com/vk/agentgridgo/internal/localexecutor"
	"github.com/vk/agentgridgo/internal/metrics"
	"github.com/vk/agentgridgo/internal/redisstore"
	"github.com/vk/agentgridgo/internal/registry"
)

// coreModules are the blocks every App ships with unless the caller
// supplies its own set.
var coreModules = []registry.Module{
	text.Module{},
	math.Module{},
	flow.Module{},
}

const eventStreamMaxLen = 10_000

// App encapsulates the engine's dependencies and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	cfg     config.Config
	reg     *registry.Registry
	graphs  *graph.Store
	store   execstore.Store
	ledger  ledger.Ledger
	promReg *prometheus.Registry
	metrics *metrics.Metrics
	emitter events.Emitter
	blocks  executor.BlockExecutor

	client *backend.Client

	mu      sync.Mutex
	running map[string]*runningExecution
}

// NewApp is the constructor for the engine. It returns a fully initialized
// App instance, including its own isolated logger and registry. A registry
// that fails validation is a programmer error and panics.
func NewApp(outW io.Writer, cfg config.Config, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All block modules registered.", "count", len(modules))

	if err := reg.Validate(); err != nil {
		panic(err)
	}
	logger.Debug("Registry validation passed.", "blocks", reg.Types())

	// Each App owns its collector registry so instances stay isolated, the
	// same way each owns its logger and block registry.
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	a := &App{
		outW:    outW,
		logger:  logger,
		cfg:     cfg,
		reg:     reg,
		graphs:  graph.NewStore(reg),
		promReg: promReg,
		metrics: m,
		blocks:  localexecutor.New(reg),
		running: make(map[string]*runningExecution),
	}

	if cfg.Redis.Addr != "" {
		a.client = backend.NewClient(&backend.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.store = redisstore.NewFromClient(a.client)
		a.ledger = ledger.NewRedis(a.client, m)
		a.emitter = events.NewRedisEmitter(a.client, cfg.EventStream, eventStreamMaxLen)
		logger.Debug("Redis backends selected.", "addr", cfg.Redis.Addr)
	} else {
		a.store = inmemorystore.New()
		a.ledger = ledger.NewMemory(m)
		a.emitter = events.Nop{}
		logger.Debug("In-memory backends selected.")
	}

	return a
}

// Close releases the Redis connection, if any. In-flight executions are
// not waited for.
func (a *App) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// Logger returns the app's logger, for embedding into request contexts.
func (a *App) Logger() *slog.Logger { return a.logger }

// Registry returns the app's block registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry { return a.reg }

// Graphs returns the graph definition store.
func (a *App) Graphs() *graph.Store { return a.graphs }

// Store returns the execution state store.
func (a *App) Store() execstore.Store { return a.store }

// Ledger returns the credit ledger.
func (a *App) Ledger() ledger.Ledger { return a.ledger }

// MetricsRegistry returns the app's prometheus registry, for exposing or
// gathering this instance's collectors.
func (a *App) MetricsRegistry() *prometheus.Registry { return a.promReg }

// contextWithLogger threads the app logger through ctx for ctxlog users
// further down the stack.
func (a *App) contextWithLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger)
}
