// Package router implements the query router: direct, cross, cascading,
// federated, and context-aware search strategies dispatched over the
// adapter registry and normalized into record DTOs. Grounded in shape on
// pkg/routing/interfaces.go's RouterMode/RoutingPlan family, adapted from
// LLM-agent routing steps to memory-store query dispatch (spec §4.5). The
// router is pure: it owns no state beyond a registry reference.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/devsynth/hybridmemory/internal/core"
	"github.com/devsynth/hybridmemory/internal/memory"
)

// DefaultCascadeOrder lists store kinds in the default cascade order, per
// spec §4.5. Cascading does not consult it: the registry records adapter
// names, not kinds, and an empty order visits every registered adapter in
// registry insertion order.
var DefaultCascadeOrder = []string{"document", "relational", "vector", "graph"}

// EmbedFunc produces a query embedding; defaults to core.EmbedText.
type EmbedFunc func(text string) []float64

// Router dispatches logical queries across a Registry's adapters.
type Router struct {
	Registry *memory.Registry
	Embed    EmbedFunc
}

// New builds a Router over reg, defaulting Embed to core.EmbedText.
func New(reg *memory.Registry) *Router {
	return &Router{Registry: reg, Embed: core.EmbedText}
}

func (r *Router) embed(text string) []float64 {
	if r.Embed != nil {
		return r.Embed(text)
	}
	return core.EmbedText(text)
}

// searchAdapter dispatches a logical Query to a single adapter: MemoryStore
// adapters use Search directly; VectorStore-only adapters fall back to
// SimilaritySearch over the router's embedding of the query text.
func (r *Router) searchAdapter(ctx context.Context, name string, a memory.Adapter, query core.Query, topK int) ([]core.MemoryRecord, error) {
	if ms, ok := a.(memory.MemoryStore); ok {
		return ms.Search(ctx, query)
	}
	if vs, ok := a.(memory.VectorStore); ok {
		if topK <= 0 {
			topK = 10
		}
		return vs.SimilaritySearch(ctx, r.embed(query.Text), topK)
	}
	return nil, core.NewError("router.searchAdapter", core.KindAdapter, core.CodeAdapterUnavailable,
		fmt.Errorf("adapter %q supports neither MemoryStore nor VectorStore search", name))
}

// Direct invokes the named adapter's search and wraps results into a
// MemoryQueryResults.
func (r *Router) Direct(ctx context.Context, query core.Query, store string) (core.MemoryQueryResults, error) {
	a, ok := r.Registry.Get(store)
	if !ok {
		return core.MemoryQueryResults{}, core.NewError("router.Direct", core.KindAdapter, core.CodeAdapterUnavailable, core.ErrAdapterUnavailable)
	}
	records, err := r.searchAdapter(ctx, store, a, query, 0)
	if err != nil {
		return core.MemoryQueryResults{}, err
	}
	return core.MemoryQueryResults{Store: store, Records: records}, nil
}

// Cross invokes every named adapter (or every registered adapter, if stores
// is empty) concurrently and returns a GroupedMemoryResults; a failing
// adapter contributes an empty result set with its error noted in metadata
// rather than failing the whole call, per the core's graceful-degradation
// posture (spec §7).
func (r *Router) Cross(ctx context.Context, query core.Query, stores []string) core.GroupedMemoryResults {
	if len(stores) == 0 {
		stores = r.Registry.Names()
	}

	type outcome struct {
		name    string
		results core.MemoryQueryResults
	}
	out := make(chan outcome, len(stores))
	var wg sync.WaitGroup
	for _, name := range stores {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, ok := r.Registry.Get(name)
			if !ok {
				out <- outcome{name: name, results: core.MemoryQueryResults{Store: name, Metadata: core.MemoryMetadata{"error": "adapter not registered"}}}
				return
			}
			records, err := r.searchAdapter(ctx, name, a, query, 0)
			if err != nil {
				out <- outcome{name: name, results: core.MemoryQueryResults{Store: name, Metadata: core.MemoryMetadata{"error": err.Error()}}}
				return
			}
			out <- outcome{name: name, results: core.MemoryQueryResults{Store: name, Records: records}}
		}()
	}
	wg.Wait()
	close(out)

	grouped := core.GroupedMemoryResults{ByStore: make(map[string]core.MemoryQueryResults, len(stores)), Query: query}
	for o := range out {
		grouped.ByStore[o.name] = o.results
		grouped.Combined = append(grouped.Combined, o.results.Records...)
	}
	return grouped
}

// Cascading invokes adapters in order (every registered adapter in registry
// insertion order when order is empty; DefaultCascadeOrder is not applied),
// concatenating unique records; uniqueness is keyed by (source, id), first
// occurrence wins.
func (r *Router) Cascading(ctx context.Context, query core.Query, order []string) ([]core.MemoryRecord, error) {
	if len(order) == 0 {
		order = r.Registry.Names()
	}
	seen := make(map[string]bool)
	var out []core.MemoryRecord
	for _, name := range order {
		a, ok := r.Registry.Get(name)
		if !ok {
			continue
		}
		records, err := r.searchAdapter(ctx, name, a, query, 0)
		if err != nil {
			continue
		}
		for _, rec := range records {
			key := rec.Source + "|" + rec.ID()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

func recordEmbedding(r *Router, rec core.MemoryRecord) []float64 {
	if rec.Vector != nil && len(rec.Vector.Embedding) > 0 {
		return rec.Vector.Embedding
	}
	if rec.Item != nil {
		if emb, ok := rec.Item.Metadata["embedding"].([]float64); ok {
			return emb
		}
		if content, ok := rec.Item.Content.(string); ok {
			return r.embed(content)
		}
	}
	if rec.Vector != nil {
		if content, ok := rec.Vector.Content.(string); ok {
			return r.embed(content)
		}
	}
	return nil
}

// Federated runs Cross across every registered adapter, then reranks the
// combined records by cosine similarity between the query embedding and
// each record's embedding, descending (spec Testable Property 5).
func (r *Router) Federated(ctx context.Context, query core.Query) []core.MemoryRecord {
	grouped := r.Cross(ctx, query, nil)
	queryEmbedding := r.embed(query.Text)

	type scored struct {
		rec   core.MemoryRecord
		score float64
	}
	scoredRecs := make([]scored, 0, len(grouped.Combined))
	for _, rec := range grouped.Combined {
		emb := recordEmbedding(r, rec)
		scoredRecs = append(scoredRecs, scored{rec: rec, score: core.Cosine(queryEmbedding, emb)})
	}
	sort.SliceStable(scoredRecs, func(i, j int) bool { return scoredRecs[i].score > scoredRecs[j].score })

	out := make([]core.MemoryRecord, len(scoredRecs))
	for i, s := range scoredRecs {
		out[i] = s.rec
	}
	return out
}

// ContextAware prefixes the query's text with "k:v" pairs derived from
// context (sorted by key for determinism), then delegates to Direct (when
// store is non-empty) or Cross.
func (r *Router) ContextAware(ctx context.Context, query core.Query, context map[string]string, store string) (core.MemoryQueryResults, core.GroupedMemoryResults, error) {
	prefixed := query
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// Each pair is prepended, so walk the keys backwards to leave the
	// prefix in ascending key order.
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		prefixed.Text = fmt.Sprintf("%s:%s %s", k, context[k], prefixed.Text)
	}

	if store != "" {
		res, err := r.Direct(ctx, prefixed, store)
		return res, core.GroupedMemoryResults{}, err
	}
	return core.MemoryQueryResults{}, r.Cross(ctx, prefixed, nil), nil
}
