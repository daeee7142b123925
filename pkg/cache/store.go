package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sepich/project-image-cache/pkg/metrics"
	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/objectstore"
	"github.com/sepich/project-image-cache/pkg/persist"
	"github.com/sepich/project-image-cache/pkg/resolver"
)

// DefaultTTL is how long a loaded image set is served without asking the bucket.
const DefaultTTL = 30 * time.Minute

type Options struct {
	TTL       time.Duration
	Resolver  resolver.Options
	Persister persist.Persister
	Metrics   metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

// LoadResult is the outcome of one LoadProject call.
type LoadResult struct {
	Images []string
	Cached bool // served from a fresh cache record
	Err    error
}

// Store is the only writer of project image sets, their freshness records,
// loading flags and progress. Concurrent loads of one project share a single
// remote resolution.
type Store struct {
	catalog   *model.Catalog
	objects   objectstore.ObjectStore
	resolver  *resolver.Resolver
	persister persist.Persister
	metrics   metrics.Metrics
	log       *zap.Logger
	ttl       time.Duration
	now       func() time.Time

	flight singleflight.Group
	saveMu sync.Mutex

	mu           sync.RWMutex
	images       map[string][]string
	projectCache map[string]model.CacheRecord
	loading      map[string]int // resolutions in flight
	progress     map[string]model.ProgressRecord
	generation   map[string]uint64 // bumped when a mutation supersedes in-flight loads
	lastErr      string
}

// New builds a store and restores the persisted image sets.
func New(ctx context.Context, catalog *model.Catalog, objects objectstore.ObjectStore, opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Persister == nil {
		opts.Persister = persist.Noop{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolver.Logger == nil {
		opts.Resolver.Logger = opts.Logger
	}

	state, err := opts.Persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", persist.StoreName, err)
	}

	s := &Store{
		catalog:      catalog,
		objects:      objects,
		resolver:     resolver.New(objects, opts.Resolver),
		persister:    opts.Persister,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		ttl:          opts.TTL,
		now:          opts.Now,
		images:       state.Images,
		projectCache: state.ProjectCache,
		loading:      map[string]int{},
		progress:     map[string]model.ProgressRecord{},
		generation:   map[string]uint64{},
	}
	// drop entries for projects no longer in the catalog
	for key := range s.images {
		if _, err := catalog.Lookup(key); err != nil {
			delete(s.images, key)
			delete(s.projectCache, key)
		}
	}
	s.log.Info("restored image cache", zap.Int("projects", len(s.images)))
	return s, nil
}

func (s *Store) Catalog() *model.Catalog {
	return s.catalog
}

// LoadProject returns the project's image URLs, resolving them from the
// bucket when the cached set is missing or stale. It never fails: errors
// yield an empty set and are recorded in LastError.
func (s *Store) LoadProject(ctx context.Context, key string) []string {
	return s.Load(ctx, key).Images
}

// Load is LoadProject with the error and cache status exposed.
func (s *Store) Load(ctx context.Context, key string) LoadResult {
	p, err := s.catalog.Lookup(key)
	if err != nil {
		s.recordError(err)
		s.metrics.IncProjectLoad(key, metrics.LoadError)
		return LoadResult{Images: []string{}, Err: err}
	}

	if images, ok := s.fresh(key); ok {
		s.log.Debug("serving cached images", zap.String("project", key))
		s.metrics.IncProjectLoad(key, metrics.LoadHit)
		return LoadResult{Images: images, Cached: true}
	}

	// The resolution outlives a caller that gives up and still commits.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		if images, ok := s.fresh(key); ok {
			return images, nil
		}
		return s.resolve(flightCtx, p)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			s.metrics.IncProjectLoad(key, metrics.LoadError)
			return LoadResult{Images: []string{}, Err: r.Err}
		}
		result := metrics.LoadMiss
		if r.Shared {
			result = metrics.LoadShared
		}
		s.metrics.IncProjectLoad(key, result)
		return LoadResult{Images: clone(r.Val.([]string))}
	case <-ctx.Done():
		return LoadResult{Images: s.GetProjectImages(key), Err: ctx.Err()}
	}
}

func (s *Store) fresh(key string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.projectCache[key]
	if !ok || !rec.Fresh(s.now(), s.ttl) {
		return nil, false
	}
	return clone(s.images[key]), true
}

func (s *Store) resolve(ctx context.Context, p model.ProjectDescriptor) ([]string, error) {
	s.mu.Lock()
	s.loading[p.Key]++
	delete(s.progress, p.Key)
	gen := s.generation[p.Key]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.loading[p.Key]--; s.loading[p.Key] <= 0 {
			delete(s.loading, p.Key)
		}
		s.mu.Unlock()
	}()

	start := time.Now()
	s.metrics.IncRemoteList(p.Key)
	entries, err := s.resolver.BuildImageSet(ctx, p, s.setProgress)
	s.metrics.ObserveLoadDuration(p.Key, time.Since(start).Seconds())
	if err != nil {
		err = fmt.Errorf("load %s: %w", p.Key, err)
		s.recordError(err)
		return nil, err
	}

	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}

	s.mu.Lock()
	if gen != s.generation[p.Key] {
		s.mu.Unlock()
		s.log.Debug("discarding superseded load", zap.String("project", p.Key))
		return clone(urls), nil
	}
	s.images[p.Key] = urls
	s.projectCache[p.Key] = model.CacheRecord{Timestamp: s.now()}
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Info("loaded project images", zap.String("project", p.Key),
		zap.Int("images", len(urls)), zap.Duration("took", time.Since(start)))
	s.save(ctx)
	return clone(urls), nil
}

func (s *Store) setProgress(p model.ProgressRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[p.Project] = p
}

// GetProjectImages returns the committed set without loading anything.
func (s *Store) GetProjectImages(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.images[key])
}

func (s *Store) IsProjectLoading(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading[key] > 0
}

// GetProjectProgress returns false until the first batch of a load reported.
func (s *Store) GetProjectProgress(key string) (model.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[key]
	return p, ok
}

// LastError is the message of the most recent failed load, or "".
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// ClearProjectCache drops the freshness record of key, or of every project
// when key is empty. Image sets stay servable through GetProjectImages.
func (s *Store) ClearProjectCache(ctx context.Context, key string) {
	s.mu.Lock()
	if key == "" {
		s.projectCache = map[string]model.CacheRecord{}
	} else {
		delete(s.projectCache, key)
	}
	s.mu.Unlock()

	s.log.Debug("cleared project cache", zap.String("project", key))
	s.save(ctx)
}

func (s *Store) recordError(err error) {
	s.log.Warn("project load failed", zap.Error(err))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

// snapshot copies the persisted part of the state.
func (s *Store) snapshot() persist.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := persist.NewState()
	for k, v := range s.images {
		state.Images[k] = clone(v)
	}
	for k, v := range s.projectCache {
		state.ProjectCache[k] = v
	}
	return state
}

// save writes the current state. Saves are serialized so an older snapshot
// never lands after a newer one.
func (s *Store) save(ctx context.Context) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.persister.Save(ctx, s.snapshot()); err != nil {
		s.log.Warn("failed to persist image cache", zap.Error(err))
	}
}

func clone(urls []string) []string {
	out := make([]string, len(urls))
	copy(out, urls)
	return out
}
