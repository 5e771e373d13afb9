// Package mapper resolves extracted filter names to canonical IDs through
// per-namespace TTL caches. Mapping is lossy but never fails: an unresolved
// name is simply omitted from the search parameters.
package mapper

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/internal/storage"
	"github.com/mesa-ai/carta-recs/internal/types"
)

// Resolver is the slice of the persistence collaborator the mapper needs.
type Resolver interface {
	ResolveNamesToIDs(ctx context.Context, names []string, table string) (map[string]uuid.UUID, error)
	FilterExistingIDs(ctx context.Context, table string, ids []uuid.UUID) ([]uuid.UUID, error)
}

type CacheStats struct {
	Hits   int64
	Misses int64
	Size   int
}

type Mapper struct {
	resolver Resolver
	caches   map[string]*nameCache
	logger   *logrus.Logger

	now  func() time.Time
	stop chan struct{}
}

func New(resolver Resolver, ttl, sweepInterval time.Duration, logger *logrus.Logger) *Mapper {
	m := &Mapper{
		resolver: resolver,
		caches: map[string]*nameCache{
			storage.TableCategories: newNameCache(ttl),
			storage.TableAllergens:  newNameCache(ttl),
			storage.TableDietTags:   newNameCache(ttl),
		},
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}

	go m.sweepLoop(sweepInterval)

	return m
}

func (m *Mapper) Stop() {
	close(m.stop)
}

func (m *Mapper) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := m.now()
			for _, cache := range m.caches {
				cache.sweep(now)
			}
		case <-m.stop:
			return
		}
	}
}

// MapToRPCParameters translates name-based filters into ID-based search
// parameters. Scalar filters pass through unchanged.
func (m *Mapper) MapToRPCParameters(ctx context.Context, filters types.ExtractedFilters) types.RPCFilterParameters {
	return types.RPCFilterParameters{
		ItemType:           filters.ItemType,
		CategoryIDs:        m.resolveNamespace(ctx, storage.TableCategories, filters.CategoryNames),
		ExcludeAllergenIDs: m.resolveNamespace(ctx, storage.TableAllergens, filters.ExcludeAllergenNames),
		IncludeDietTagIDs:  m.resolveNamespace(ctx, storage.TableDietTags, filters.IncludeDietTagNames),
		IsVegetarianBase:   filters.IsVegetarianBase,
		IsVeganBase:        filters.IsVeganBase,
		IsGlutenFreeBase:   filters.IsGlutenFreeBase,
		IsAlcoholic:        filters.IsAlcoholic,
		PriceMin:           filters.PriceMin,
		PriceMax:           filters.PriceMax,
		CaloriesMin:        filters.CaloriesMin,
		CaloriesMax:        filters.CaloriesMax,
	}
}

func (m *Mapper) resolveNamespace(ctx context.Context, table string, names []string) []uuid.UUID {
	if len(names) == 0 {
		return nil
	}

	cache := m.caches[table]
	now := m.now()

	var ids []uuid.UUID
	var missing []string
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if id, ok := cache.get(key, now); ok {
			ids = append(ids, id)
			continue
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		resolved, err := m.resolver.ResolveNamesToIDs(ctx, missing, table)
		if err != nil {
			m.logger.WithError(err).WithField("table", table).
				Warn("name resolution failed, omitting unresolved filters")
		} else {
			for name, id := range resolved {
				cache.put(name, id, now)
				ids = append(ids, id)
			}
		}
	}

	if len(ids) == 0 {
		return nil
	}

	// Cached entries can outlive the rows they point at; drop IDs that no
	// longer exist before handing them to search.
	existing, err := m.resolver.FilterExistingIDs(ctx, table, ids)
	if err != nil {
		m.logger.WithError(err).WithField("table", table).
			Warn("id revalidation failed, using unvalidated ids")
		return ids
	}

	return existing
}

// Stats exposes per-namespace hit/miss counters for observability.
func (m *Mapper) Stats() map[string]CacheStats {
	stats := make(map[string]CacheStats, len(m.caches))
	for table, cache := range m.caches {
		hits, misses := cache.stats()
		stats[table] = CacheStats{Hits: hits, Misses: misses, Size: cache.size()}
	}
	return stats
}
