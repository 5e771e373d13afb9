// Package search retrieves candidate menu items for a query: vector
// similarity first, language-aware full-text search as a fallback when the
// primary path under-returns.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mesa-ai/carta-recs/internal/embedding"
	"github.com/mesa-ai/carta-recs/internal/types"
)

const (
	minPrimaryResults = 3
	maxMergedResults  = 4
	minUsableTokens   = 3
	minTokenLength    = 3
)

// Repository is the slice of the search collaborator the searcher needs.
type Repository interface {
	MatchMenuItems(ctx context.Context, embedding []float32, threshold float64, count int, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error)
	FullTextSearch(ctx context.Context, tsQuery string, limit int) ([]types.MenuItemCandidate, error)
}

type Searcher struct {
	embedClient embedding.Client
	repo        Repository
	threshold   float64
	overFetch   int
}

func New(embedClient embedding.Client, repo Repository, threshold float64, overFetch int) *Searcher {
	return &Searcher{
		embedClient: embedClient,
		repo:        repo,
		threshold:   threshold,
		overFetch:   overFetch,
	}
}

// FindRelevantItems embeds the query and searches. Backend errors propagate
// untouched; this component does no masking.
func (s *Searcher) FindRelevantItems(ctx context.Context, mainQuery string, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error) {
	queryEmbedding, err := s.embedClient.GenerateEmbedding(ctx, mainQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	return s.FindRelevantItemsWithEmbedding(ctx, mainQuery, queryEmbedding, params)
}

// FindRelevantItemsWithEmbedding is the reuse path for callers that already
// computed the query embedding.
func (s *Searcher) FindRelevantItemsWithEmbedding(ctx context.Context, mainQuery string, queryEmbedding []float32, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error) {
	primary, err := s.repo.MatchMenuItems(ctx, queryEmbedding, s.threshold, s.overFetch, params)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}

	results := primary

	tokens := usableTokens(mainQuery)
	if len(primary) < minPrimaryResults && len(tokens) >= minUsableTokens {
		fallback, err := s.repo.FullTextSearch(ctx, strings.Join(tokens, " & "), s.overFetch)
		if err != nil {
			return nil, fmt.Errorf("failed to run full-text fallback: %w", err)
		}
		results = mergeByMargin(primary, fallback)
	}

	return applyPriceBounds(results, params), nil
}

// mergeByMargin merges the fallback set into the primary one (primary wins on
// duplicate IDs), re-sorts by profit margin and clamps to 3–4 items when at
// least 3 are available.
func mergeByMargin(primary, fallback []types.MenuItemCandidate) []types.MenuItemCandidate {
	seen := make(map[string]bool, len(primary))
	merged := make([]types.MenuItemCandidate, 0, len(primary)+len(fallback))
	for _, item := range primary {
		seen[item.ID.String()] = true
		merged = append(merged, item)
	}
	for _, item := range fallback {
		if seen[item.ID.String()] {
			continue
		}
		merged = append(merged, item)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].ProfitMargin > merged[j].ProfitMargin
	})

	if len(merged) > maxMergedResults {
		merged = merged[:maxMergedResults]
	}

	return merged
}

// applyPriceBounds re-checks price filters on the final set. The backend
// already filtered by price; this catches a backend filter regression before
// an out-of-budget item reaches the guest.
func applyPriceBounds(items []types.MenuItemCandidate, params types.RPCFilterParameters) []types.MenuItemCandidate {
	if params.PriceMin == nil && params.PriceMax == nil {
		return items
	}

	filtered := items[:0]
	for _, item := range items {
		if params.PriceMin != nil && item.Price < *params.PriceMin {
			continue
		}
		if params.PriceMax != nil && item.Price > *params.PriceMax {
			continue
		}
		filtered = append(filtered, item)
	}
	return filtered
}

func usableTokens(query string) []string {
	var tokens []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return !isWordRune(r)
		})
		if len([]rune(token)) >= minTokenLength {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == 'ñ' || r == 'á' || r == 'é' || r == 'í' || r == 'ó' || r == 'ú' || r == 'ü' ||
		(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
