package mapper

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mesa-ai/carta-recs/internal/storage"
	"github.com/mesa-ai/carta-recs/internal/types"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveNamesToIDs(ctx context.Context, names []string, table string) (map[string]uuid.UUID, error) {
	args := m.Called(ctx, names, table)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]uuid.UUID), args.Error(1)
}

func (m *MockResolver) FilterExistingIDs(ctx context.Context, table string, ids []uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, table, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func newTestMapper(resolver *MockResolver) *Mapper {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(resolver, 30*time.Minute, time.Hour, logger)
}

func TestMapper_MapToRPCParameters_ResolvesNames(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	postresID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"postres"}, storage.TableCategories).
		Return(map[string]uuid.UUID{"postres": postresID}, nil)
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableCategories, []uuid.UUID{postresID}).
		Return([]uuid.UUID{postresID}, nil)

	isVegan := true
	params := m.MapToRPCParameters(context.Background(), types.ExtractedFilters{
		MainQuery:     "algo dulce",
		CategoryNames: []string{"postres"},
		IsVeganBase:   &isVegan,
	})

	assert.Equal(t, []uuid.UUID{postresID}, params.CategoryIDs)
	assert.True(t, *params.IsVeganBase)
	assert.Nil(t, params.ExcludeAllergenIDs)

	mockResolver.AssertExpectations(t)
}

func TestMapper_CacheAvoidsRepeatLookups(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	glutenID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"gluten"}, storage.TableAllergens).
		Return(map[string]uuid.UUID{"gluten": glutenID}, nil).Once()
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableAllergens, []uuid.UUID{glutenID}).
		Return([]uuid.UUID{glutenID}, nil)

	filters := types.ExtractedFilters{MainQuery: "sin gluten", ExcludeAllergenNames: []string{"gluten"}}

	first := m.MapToRPCParameters(context.Background(), filters)
	second := m.MapToRPCParameters(context.Background(), filters)

	assert.Equal(t, []uuid.UUID{glutenID}, first.ExcludeAllergenIDs)
	assert.Equal(t, []uuid.UUID{glutenID}, second.ExcludeAllergenIDs)

	mockResolver.AssertNumberOfCalls(t, "ResolveNamesToIDs", 1)
	mockResolver.AssertExpectations(t)
}

func TestMapper_ExpiredEntryTriggersOneLookup(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	current := time.Now()
	m.now = func() time.Time { return current }

	veganID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"vegano"}, storage.TableDietTags).
		Return(map[string]uuid.UUID{"vegano": veganID}, nil)
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableDietTags, []uuid.UUID{veganID}).
		Return([]uuid.UUID{veganID}, nil)

	filters := types.ExtractedFilters{MainQuery: "algo vegano", IncludeDietTagNames: []string{"vegano"}}

	m.MapToRPCParameters(context.Background(), filters)
	mockResolver.AssertNumberOfCalls(t, "ResolveNamesToIDs", 1)

	current = current.Add(31 * time.Minute)

	m.MapToRPCParameters(context.Background(), filters)
	mockResolver.AssertNumberOfCalls(t, "ResolveNamesToIDs", 2)
}

func TestMapper_ResolutionFailureOmitsFilters(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"postres"}, storage.TableCategories).
		Return(nil, assert.AnError)

	params := m.MapToRPCParameters(context.Background(), types.ExtractedFilters{
		MainQuery:     "algo dulce",
		CategoryNames: []string{"postres"},
	})

	assert.Nil(t, params.CategoryIDs)
	mockResolver.AssertNotCalled(t, "FilterExistingIDs", mock.Anything, mock.Anything, mock.Anything)
}

func TestMapper_RevalidationDropsStaleIDs(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	keptID := uuid.New()
	staleID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, mock.Anything, storage.TableCategories).
		Return(map[string]uuid.UUID{"postres": keptID, "tartas": staleID}, nil)
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableCategories, mock.Anything).
		Return([]uuid.UUID{keptID}, nil)

	params := m.MapToRPCParameters(context.Background(), types.ExtractedFilters{
		MainQuery:     "algo dulce",
		CategoryNames: []string{"postres", "tartas"},
	})

	assert.Equal(t, []uuid.UUID{keptID}, params.CategoryIDs)
}

func TestMapper_RevalidationFailureKeepsUnvalidatedIDs(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	postresID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"postres"}, storage.TableCategories).
		Return(map[string]uuid.UUID{"postres": postresID}, nil)
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableCategories, []uuid.UUID{postresID}).
		Return(nil, assert.AnError)

	params := m.MapToRPCParameters(context.Background(), types.ExtractedFilters{
		MainQuery:     "algo dulce",
		CategoryNames: []string{"postres"},
	})

	assert.Equal(t, []uuid.UUID{postresID}, params.CategoryIDs)
}

func TestMapper_StatsCountHitsAndMisses(t *testing.T) {
	mockResolver := &MockResolver{}
	m := newTestMapper(mockResolver)
	defer m.Stop()

	postresID := uuid.New()
	mockResolver.On("ResolveNamesToIDs", mock.Anything, []string{"postres"}, storage.TableCategories).
		Return(map[string]uuid.UUID{"postres": postresID}, nil)
	mockResolver.On("FilterExistingIDs", mock.Anything, storage.TableCategories, mock.Anything).
		Return([]uuid.UUID{postresID}, nil)

	filters := types.ExtractedFilters{MainQuery: "algo dulce", CategoryNames: []string{"postres"}}

	m.MapToRPCParameters(context.Background(), filters)
	m.MapToRPCParameters(context.Background(), filters)

	stats := m.Stats()[storage.TableCategories]
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestNameCache_SweepRemovesExpiredEntries(t *testing.T) {
	cache := newNameCache(30 * time.Minute)
	now := time.Now()

	cache.put("postres", uuid.New(), now)
	cache.put("tartas", uuid.New(), now.Add(20*time.Minute))

	cache.sweep(now.Add(40 * time.Minute))

	assert.Equal(t, 1, cache.size())
	_, ok := cache.get("tartas", now.Add(40*time.Minute))
	assert.True(t, ok)
}
