package search

import (
	"cmp"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"inkwell/pkg/engines"
	"inkwell/pkg/flight"
	"inkwell/pkg/providers"
	"inkwell/pkg/schema"
)

const (
	DefaultConcurrency = 4
	DefaultMinSize     = 512
	DefaultMaxResults  = 15
	perQuery           = 15
)

type Options struct {
	Concurrency int
	// MinSize drops images whose width and height are both below it.
	MinSize    int
	MaxResults int
	// TopN is the number of providers picked per entity.
	TopN     int
	CacheTTL time.Duration
}

func (o Options) withDefaults() Options {
	o.Concurrency = cmp.Or(max(o.Concurrency, 0), DefaultConcurrency)
	o.MinSize = cmp.Or(max(o.MinSize, 0), DefaultMinSize)
	o.MaxResults = cmp.Or(max(o.MaxResults, 0), DefaultMaxResults)
	o.TopN = max(o.TopN, 0)
	return o
}

// Entity is one character or location to find references for.
type Entity struct {
	Name        string
	Type        string
	Description string
	Ontology    schema.EntityOntology
	Tokens      schema.EntityVisualTokens
	// Queries replaces the built queries when set.
	Queries []string
}

type Result struct {
	Images     []schema.ImageResult `json:"images"`
	Providers  []string             `json:"providers"`
	Queries    []string             `json:"queries"`
	QueriesRun int                  `json:"queries_run"`
	// Usage counts kept images per provider.
	Usage map[string]int `json:"provider_usage"`
}

type key struct {
	provider    string
	query       string
	contentType string
}

// Dispatcher fans an entity's queries out to its selected providers.
type Dispatcher struct {
	registry *providers.Registry
	cache    *flight.Cache[key, []schema.ImageResult]
	opts     Options
	log      *log.Logger
}

func NewDispatcher(registry *providers.Registry, logger *log.Logger, opts Options) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		opts:     opts.withDefaults(),
		log:      cmp.Or(logger, log.Default()),
	}
	d.cache = flight.NewCache(d.search)
	if opts.CacheTTL != 0 {
		d.cache.Expiry(opts.CacheTTL)
	}
	return d
}

func (d *Dispatcher) search(ctx context.Context, k key) ([]schema.ImageResult, error) {
	p, ok := d.registry.Get(k.provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", k.provider)
	}
	return p.Search(ctx, k.query, k.contentType, perQuery)
}

// SearchEntity selects providers for e with the book's ratings, runs every
// query against each of them and merges the results. Failed searches are
// logged and skipped; an error is returned only when ctx ends.
func (d *Dispatcher) SearchEntity(ctx context.Context, e Entity, book BookInfo, ratings map[string]int) (Result, error) {
	queries := e.Queries
	if len(queries) == 0 {
		queries = BuildQueries(e.Type, e.Description, book, e.Tokens, e.Ontology)
	}
	selected := engines.Select(e.Ontology.EntityClass, e.Type, book.StyleCategory, d.registry.Available(), ratings, d.opts.TopN)

	res := Result{Providers: selected, Queries: queries, Usage: map[string]int{}}
	if len(selected) == 0 || len(queries) == 0 {
		return res, nil
	}

	// batches[i][j] holds provider i, query j so the merge order is stable.
	batches := make([][][]schema.ImageResult, len(selected))
	var (
		mu  sync.Mutex
		run int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, name := range selected {
		p, _ := d.registry.Get(name)
		batches[i] = make([][]schema.ImageResult, len(queries))
		for j, q := range queries {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				k := key{provider: name, query: p.FormatQuery(q), contentType: e.Type}
				images, err := d.cache.Get(gctx, k)
				mu.Lock()
				run++
				mu.Unlock()
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					d.log.Warn("reference search failed", "entity", e.Name, "provider", name, "query", k.query, "error", err)
					return nil
				}
				batches[i][j] = images
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	res.QueriesRun = run

	seen := map[string]bool{}
	for j := range queries {
		for i := range selected {
			for _, img := range batches[i][j] {
				if len(res.Images) == d.opts.MaxResults {
					break
				}
				if img.URL == "" || seen[img.URL] {
					continue
				}
				if img.Width < d.opts.MinSize && img.Height < d.opts.MinSize {
					continue
				}
				seen[img.URL] = true
				img.Provider = cmp.Or(img.Provider, selected[i])
				res.Images = append(res.Images, img)
				res.Usage[img.Provider]++
			}
		}
	}

	d.log.Info("reference search", "entity", e.Name, "providers", selected, "queries", len(queries), "images", len(res.Images))
	return res, nil
}
