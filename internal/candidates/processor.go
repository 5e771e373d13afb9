// Package candidates turns raw search hits into the shortlist offered to the
// recommendation LLM.
package candidates

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mesa-ai/carta-recs/internal/types"
)

// The assistant never proposes more than four dishes at once.
const maxRecommendations = 4

// CategoryResolver is the slice of the persistence collaborator used for
// category enrichment.
type CategoryResolver interface {
	GetCategoryNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type Processor struct {
	resolver CategoryResolver
}

func New(resolver CategoryResolver) *Processor {
	return &Processor{resolver: resolver}
}

// ProcessCandidates enriches search hits with category names, drops anything
// unavailable or already in the guest's cart, ranks house recommendations
// first and the rest by profit margin, and caps the shortlist at four.
func (p *Processor) ProcessCandidates(ctx context.Context, searched []types.MenuItemCandidate, cart []types.CartItem) ([]types.MenuItemCandidate, error) {
	if len(searched) == 0 {
		return nil, nil
	}

	categoryIDs := collectCategoryIDs(searched)
	names, err := p.resolver.GetCategoryNames(ctx, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve category names: %w", err)
	}

	inCart := make(map[uuid.UUID]bool, len(cart))
	for _, item := range cart {
		inCart[item.MenuItemID] = true
	}

	var processed []types.MenuItemCandidate
	for _, item := range searched {
		if !item.IsAvailable || inCart[item.ID] {
			continue
		}
		item.Categories = item.Categories[:0]
		for _, id := range item.CategoryIDs {
			if name, ok := names[id]; ok {
				item.Categories = append(item.Categories, types.CategoryInfo{ID: id, Name: name})
			}
		}
		processed = append(processed, item)
	}

	sort.SliceStable(processed, func(i, j int) bool {
		if processed[i].IsRecommended != processed[j].IsRecommended {
			return processed[i].IsRecommended
		}
		return processed[i].ProfitMargin > processed[j].ProfitMargin
	})

	if len(processed) > maxRecommendations {
		processed = processed[:maxRecommendations]
	}

	return processed, nil
}

func collectCategoryIDs(items []types.MenuItemCandidate) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, item := range items {
		for _, id := range item.CategoryIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}
