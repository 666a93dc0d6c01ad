// Package hybridmemory is the top-level facade: one constructor wiring the
// adapter registry, transaction coordinator, query router, collaboration
// service, and error logger into the single entry point a caller embeds.
package hybridmemory

import (
	"context"

	"github.com/devsynth/hybridmemory/internal/collab"
	"github.com/devsynth/hybridmemory/internal/config"
	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/errlog"
	"github.com/devsynth/hybridmemory/internal/memory"
	"github.com/devsynth/hybridmemory/internal/memory/graphstore"
	"github.com/devsynth/hybridmemory/internal/memory/kv"
	"github.com/devsynth/hybridmemory/internal/memory/vectorstore"
	"github.com/devsynth/hybridmemory/internal/router"
	"github.com/devsynth/hybridmemory/internal/telemetry"
	"github.com/devsynth/hybridmemory/internal/txn"
)

// Version identifies this build of the coordination core.
const Version = "0.1.0"

// Coordinator is the top-level handle for the hybrid memory coordination
// core: adapter registry, 2PC transaction coordinator, query router,
// collaboration entity service, and bounded error logger.
type Coordinator struct {
	Config   config.Config
	Registry *memory.Registry
	Txn      *txn.Coordinator
	Router   *router.Router
	Collab   *collab.Service
	ErrorLog *errlog.Logger
	Logger   core.Logger
}

type buildState struct {
	cfg      config.Config
	logger   core.Logger
	adapters []namedAdapter
	noDefaults bool
}

type namedAdapter struct {
	name    string
	adapter memory.Adapter
}

// Option configures a Coordinator at construction time.
type Option func(*buildState)

// WithConfig overrides the default (environment-derived) configuration.
func WithConfig(cfg config.Config) Option {
	return func(b *buildState) { b.cfg = cfg }
}

// WithLogger overrides the default no-op logger.
func WithLogger(logger core.Logger) Option {
	return func(b *buildState) { b.logger = logger }
}

// WithAdapter registers an additional adapter under name, overriding any
// in-memory default already registered under the same name. Use this to
// wire the networked/on-disk backends (kv.NewRedis, duckdbstore.Open,
// lmdbstore.Open, faissstore.Open, chromastore.Open) in place of the
// process-local defaults.
func WithAdapter(name string, adapter memory.Adapter) Option {
	return func(b *buildState) { b.adapters = append(b.adapters, namedAdapter{name, adapter}) }
}

// WithoutDefaultAdapters skips registering the built-in in-memory "tinydb",
// "graph", and "vector" adapters, for callers who want to build the
// registry entirely from WithAdapter calls.
func WithoutDefaultAdapters() Option {
	return func(b *buildState) { b.noDefaults = true }
}

// New builds a Coordinator. Unless WithoutDefaultAdapters is supplied, it
// registers three in-memory defaults sufficient for tests and local
// development: a document store under "tinydb", a graph store under
// "graph", and a cosine vector store under "vector" -- matching
// config.DefaultConfig's PrimaryStorePreference of tinydb -> graph ->
// kuzu (the third falls back to whatever else is registered).
func New(opts ...Option) (*Coordinator, error) {
	b := &buildState{cfg: config.FromEnv(), logger: core.NoOpLogger{}}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}

	reg := memory.NewRegistry()
	if !b.noDefaults {
		reg.Register("tinydb", kv.New("tinydb"))
		graph, err := graphstore.New("graph", "")
		if err != nil {
			return nil, err
		}
		reg.Register("graph", graph)
		reg.Register("vector", vectorstore.New("vector", 0))
	}
	for _, a := range b.adapters {
		reg.Register(a.name, a.adapter)
	}

	coord := txn.NewCoordinator(b.logger)
	svc := collab.NewService(reg, coord, b.cfg.Coordinator.PrimaryStorePreference, b.logger)
	elog := errlog.New(b.cfg.ErrorLogger.Capacity, b.cfg.ErrorLogger.LogDir)

	return &Coordinator{
		Config:   b.cfg,
		Registry: reg,
		Txn:      coord,
		Router:   router.New(reg),
		Collab:   svc,
		ErrorLog: elog,
		Logger:   b.logger,
	}, nil
}

// Store persists item to its primary store (per Config.Coordinator's
// PrimaryStorePreference) and best-effort fans it out to every other
// registered store, per spec §4.6.
func (c *Coordinator) Store(ctx context.Context, item core.MemoryItem) error {
	ctx, span := telemetry.Tracer().Start(ctx, "Coordinator.Store")
	defer span.End()

	err := c.Txn.PersistWithFanout(ctx, c.Registry, item, c.Config.Coordinator.PrimaryStorePreference)
	if err != nil {
		c.ErrorLog.LogError("Store", "coordinator", err, map[string]any{"id": item.ID})
	}
	return err
}

// Retrieve fetches id from the named store.
func (c *Coordinator) Retrieve(ctx context.Context, store, id string) (*core.MemoryItem, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Coordinator.Retrieve")
	defer span.End()

	a, ok := c.Registry.Get(store)
	if !ok {
		return nil, core.NewErrorWithDetails("Coordinator.Retrieve", core.KindUserInput, core.CodeValidationError, core.ErrValidation, map[string]any{"store": store})
	}
	ms, ok := a.(memory.MemoryStore)
	if !ok {
		return nil, core.NewErrorWithDetails("Coordinator.Retrieve", core.KindAdapter, core.CodeMemoryStoreError, core.ErrValidation, map[string]any{"store": store})
	}
	item, err := ms.Retrieve(ctx, id)
	if err != nil {
		c.ErrorLog.LogError("Retrieve", store, err, map[string]any{"id": id})
	}
	return item, err
}

// Delete removes id from every registered store that holds a MemoryStore
// or VectorStore capability, best-effort, returning true if at least one
// adapter reported a deletion.
func (c *Coordinator) Delete(ctx context.Context, id string) bool {
	deleted := false
	for _, name := range c.Registry.Names() {
		a, _ := c.Registry.Get(name)
		if ms, ok := a.(memory.MemoryStore); ok {
			if ok, err := ms.Delete(ctx, id); err == nil && ok {
				deleted = true
			} else if err != nil {
				c.ErrorLog.LogError("Delete", name, err, map[string]any{"id": id})
			}
		}
		if vs, ok := a.(memory.VectorStore); ok {
			if ok, err := vs.DeleteVector(ctx, id); err == nil && ok {
				deleted = true
			} else if err != nil {
				c.ErrorLog.LogError("Delete", name, err, map[string]any{"id": id})
			}
		}
	}
	return deleted
}

// Search runs query against the named stores via the router: a single
// store name performs Direct, no names performs Cross over every
// registered store, and multiple names performs Cross over exactly those.
func (c *Coordinator) Search(ctx context.Context, query core.Query, stores ...string) (core.GroupedMemoryResults, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "Coordinator.Search")
	defer span.End()

	if len(stores) == 1 {
		res, err := c.Router.Direct(ctx, query, stores[0])
		if err != nil {
			return core.GroupedMemoryResults{}, err
		}
		return core.GroupedMemoryResults{
			ByStore:  map[string]core.MemoryQueryResults{stores[0]: res},
			Combined: res.Records,
			Query:    query,
		}, nil
	}
	if len(stores) == 0 {
		stores = c.Registry.Names()
	}
	return c.Router.Cross(ctx, query, stores), nil
}

// Federated runs the router's embedding-reranked cross-store search.
func (c *Coordinator) Federated(ctx context.Context, query core.Query) []core.MemoryRecord {
	return c.Router.Federated(ctx, query)
}
