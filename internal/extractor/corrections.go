package extractor

import (
	"strings"

	"github.com/mesa-ai/carta-recs/internal/types"
)

// CorrectionRule rewrites one extraction mistake the LLM makes consistently
// in this domain. Rules live in a table so new ones do not grow into inline
// conditionals.
type CorrectionRule struct {
	// ExcludedAllergen, matched case-insensitively against the extracted
	// excluded-allergen names.
	ExcludedAllergen string
	// IncludeDietTag is added to the included diet tags when the allergen
	// entry is removed.
	IncludeDietTag string
}

// Pork is a dietary preference here, not an allergen.
var defaultCorrectionRules = []CorrectionRule{
	{ExcludedAllergen: "cerdo", IncludeDietTag: "Sin Cerdo"},
}

func applyCorrectionRules(filters *types.ExtractedFilters, rules []CorrectionRule) {
	for _, rule := range rules {
		kept := filters.ExcludeAllergenNames[:0]
		matched := false
		for _, name := range filters.ExcludeAllergenNames {
			if strings.EqualFold(strings.TrimSpace(name), rule.ExcludedAllergen) {
				matched = true
				continue
			}
			kept = append(kept, name)
		}
		if !matched {
			continue
		}
		filters.ExcludeAllergenNames = kept

		present := false
		for _, tag := range filters.IncludeDietTagNames {
			if strings.EqualFold(tag, rule.IncludeDietTag) {
				present = true
				break
			}
		}
		if !present {
			filters.IncludeDietTagNames = append(filters.IncludeDietTagNames, rule.IncludeDietTag)
		}
	}
}
