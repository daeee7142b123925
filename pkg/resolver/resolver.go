package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/objectstore"
)

const (
	DefaultBatchSize    = 5
	DefaultTimeout      = 10 * time.Second
	DefaultListRetries  = 2
	DefaultRetryBackoff = 200 * time.Millisecond
)

type Options struct {
	BatchSize    int           // URL resolutions in flight at once
	Timeout      time.Duration // per remote call
	ListRetries  int           // extra listing attempts after the first failure
	RetryBackoff time.Duration // doubled after every failed attempt
	Logger       *zap.Logger
}

// Resolver turns the numbered objects under a project prefix into public URLs.
type Resolver struct {
	store objectstore.ObjectStore
	opts  Options
	log   *zap.Logger
}

func New(store objectstore.ObjectStore, opts Options) *Resolver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ListRetries < 0 {
		opts.ListRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Resolver{store: store, opts: opts, log: opts.Logger}
}

// NumberedObject is a listed object with its parsed ordinal.
type NumberedObject struct {
	Ordinal int
	Name    string
}

// SortByOrdinal parses the integer before the first "." of each name and
// returns the objects in ascending ordinal order. Names without a positive
// leading integer are dropped, and for a repeated ordinal only the
// lexically smallest name is kept.
func SortByOrdinal(objects []model.RemoteObject) []NumberedObject {
	out := make([]NumberedObject, 0, len(objects))
	for _, o := range objects {
		n, ok := ParseOrdinal(o.Name)
		if !ok {
			continue
		}
		out = append(out, NumberedObject{Ordinal: n, Name: o.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].Name < out[j].Name
	})

	deduped := out[:0]
	for i, o := range out {
		if i > 0 && out[i-1].Ordinal == o.Ordinal {
			continue
		}
		deduped = append(deduped, o)
	}
	return deduped
}

// ParseOrdinal extracts the ordinal from a name like "12.JPG".
func ParseOrdinal(name string) (int, bool) {
	head, _, _ := strings.Cut(name, ".")
	n, err := strconv.Atoi(head)
	if err != nil || n < 1 || head[0] == '+' {
		return 0, false
	}
	return n, true
}

// ListRemoteObjects lists prefix, retrying with backoff. On failure it logs
// and returns an empty list along with the last error.
func (r *Resolver) ListRemoteObjects(ctx context.Context, prefix string) ([]model.RemoteObject, error) {
	backoff := r.opts.RetryBackoff
	var err error
	for attempt := 0; attempt <= r.opts.ListRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		var objects []model.RemoteObject
		objects, err = r.list(ctx, prefix)
		if err == nil {
			return objects, nil
		}
		r.log.Warn("listing failed", zap.String("prefix", prefix), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return nil, fmt.Errorf("list %s: %w", prefix, err)
}

func (r *Resolver) list(ctx context.Context, prefix string) ([]model.RemoteObject, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return r.store.List(ctx, prefix)
}

// ResolvePublicURL returns false when the store could not produce a link.
func (r *Resolver) ResolvePublicURL(ctx context.Context, path string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	u, err := r.store.PublicURL(ctx, path)
	if err != nil || u == "" {
		r.log.Warn("could not resolve public url", zap.String("path", path), zap.Error(err))
		return "", false
	}
	return u, true
}

// BuildImageSet lists the project's prefix and resolves every numbered object,
// BatchSize at a time. onProgress runs after each batch with the discovered
// object count as total; Expected is never consulted. Unresolvable images are
// left out. Only a failed listing returns an error.
func (r *Resolver) BuildImageSet(ctx context.Context, p model.ProjectDescriptor, onProgress func(model.ProgressRecord)) ([]model.ImageEntry, error) {
	if onProgress == nil {
		onProgress = func(model.ProgressRecord) {}
	}
	objects, err := r.ListRemoteObjects(ctx, p.Prefix)
	if err != nil {
		return nil, err
	}
	numbered := SortByOrdinal(objects)
	total := len(numbered)
	if total != p.Expected {
		r.log.Debug("object count differs from catalog", zap.String("project", p.Key),
			zap.Int("expected", p.Expected), zap.Int("found", total))
	}
	if total == 0 {
		onProgress(model.ProgressRecord{Project: p.Key})
		return []model.ImageEntry{}, nil
	}

	urls := make([]string, total)
	for start := 0; start < total; start += r.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+r.opts.BatchSize, total)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				if u, ok := r.ResolvePublicURL(ctx, p.Prefix+"/"+numbered[i].Name); ok {
					urls[i] = u
				}
				return nil
			})
		}
		_ = g.Wait()
		onProgress(model.ProgressRecord{Project: p.Key, Loaded: end, Total: total})
	}

	entries := make([]model.ImageEntry, 0, total)
	for i, u := range urls {
		if u == "" {
			continue
		}
		entries = append(entries, model.ImageEntry{Ordinal: numbered[i].Ordinal, URL: u})
	}
	return entries, nil
}

// FindImage returns the name of the object carrying ordinal under prefix.
func (r *Resolver) FindImage(ctx context.Context, prefix string, ordinal int) (string, error) {
	objects, err := r.ListRemoteObjects(ctx, prefix)
	if err != nil {
		return "", err
	}
	for _, o := range SortByOrdinal(objects) {
		if o.Ordinal == ordinal {
			return o.Name, nil
		}
	}
	return "", model.ErrImageNotFound
}

// Timeout is the per-call deadline applied to remote operations.
func (r *Resolver) Timeout() time.Duration {
	return r.opts.Timeout
}
