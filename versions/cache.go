package versions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// snapshot is one tick's view of the catalog's hashes. It is disposable:
// nothing in it is authoritative, and a process that restarts simply builds
// a new one.
type snapshot struct {
	lists   SystemListVersions
	builtAt time.Time

	source Source
	mu     sync.Mutex
	// uri -> hash; "" records a known-missing resource.
	resources map[string]string
}

// resourceHash returns the content hash of uri, reading it on demand when it
// was not part of the listing (template-addressed resources, for instance).
// A missing resource hashes to "".
func (s *snapshot) resourceHash(ctx context.Context, uri string) (string, bool, error) {
	s.mu.Lock()
	h, cached := s.resources[uri]
	s.mu.Unlock()
	if cached {
		return h, h != "", nil
	}
	return s.rehash(ctx, uri)
}

// rehash reads uri from the source regardless of what the snapshot holds and
// records the result.
func (s *snapshot) rehash(ctx context.Context, uri string) (string, bool, error) {
	contents, ok, err := s.source.ReadResource(ctx, uri)
	if err != nil {
		return "", false, errors.Wrapf(err, "read %s", uri)
	}
	var h string
	if ok {
		if h, err = ListHash(contents); err != nil {
			return "", false, errors.Wrapf(err, "hash %s", uri)
		}
	}
	s.mu.Lock()
	s.resources[uri] = h
	s.mu.Unlock()
	return h, ok, nil
}

// cache holds the engine's current snapshot.
type cache struct {
	mu   sync.RWMutex
	snap *snapshot
}

func (c *cache) current() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *cache) swap(s *snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// buildSnapshot hashes the four lists and every listed resource. A list that
// fails to load keeps its hash from prev (or stays unknown); a resource that
// fails to read is left out and re-read on demand.
func buildSnapshot(ctx context.Context, src Source, prev *snapshot, log *slog.Logger) *snapshot {
	s := &snapshot{builtAt: time.Now(), source: src, resources: make(map[string]string)}
	var prevLists SystemListVersions
	if prev != nil {
		prevLists = prev.lists
	}

	s.lists.Tools = hashList(ctx, log, "tools", prevLists.Tools, src.Tools)
	s.lists.Prompts = hashList(ctx, log, "prompts", prevLists.Prompts, src.Prompts)
	s.lists.ResourceTemplates = hashList(ctx, log, "resource_templates", prevLists.ResourceTemplates, src.ResourceTemplates)

	resources, err := src.Resources(ctx)
	if err != nil {
		log.WarnContext(ctx, "versions.cache.list.fail", slog.String("list", "resources"), slog.Any("err", err))
		s.lists.Resources = prevLists.Resources
		return s
	}
	if s.lists.Resources, err = ListHash(resources); err != nil {
		log.WarnContext(ctx, "versions.cache.hash.fail", slog.String("list", "resources"), slog.Any("err", err))
		s.lists.Resources = prevLists.Resources
	}
	for _, r := range resources {
		if _, _, err := s.resourceHash(ctx, r.URI); err != nil {
			log.WarnContext(ctx, "versions.cache.resource.fail", slog.String("uri", r.URI), slog.Any("err", err))
		}
	}
	return s
}

func hashList[T any](ctx context.Context, log *slog.Logger, name, prev string, load func(context.Context) ([]T, error)) string {
	items, err := load(ctx)
	if err != nil {
		log.WarnContext(ctx, "versions.cache.list.fail", slog.String("list", name), slog.Any("err", err))
		return prev
	}
	h, err := ListHash(items)
	if err != nil {
		log.WarnContext(ctx, "versions.cache.hash.fail", slog.String("list", name), slog.Any("err", err))
		return prev
	}
	return h
}
