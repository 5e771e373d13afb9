package extractor

import "strings"

// ContinuationDetector decides whether a message continues the previous search
// (so prior filters should be kept) or starts a new one. The heuristic below
// is best-effort pattern matching; the interface exists so it can be replaced
// by a real intent classifier without touching the merge logic.
type ContinuationDetector interface {
	IsContinuation(message string) bool
}

const shortMessageTokenLimit = 4

var leadingConjunctions = map[string]bool{
	"y": true, "e": true, "o": true, "u": true,
	"pero": true, "aunque": true, "también": true, "tambien": true,
	"además": true, "ademas": true, "mejor": true,
	"and": true, "but": true, "also": true, "or": true,
}

type heuristicDetector struct{}

func NewHeuristicDetector() ContinuationDetector {
	return heuristicDetector{}
}

func (heuristicDetector) IsContinuation(message string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(message))
	if trimmed == "" {
		return false
	}

	tokens := strings.Fields(trimmed)
	if leadingConjunctions[tokens[0]] {
		return true
	}
	if len(tokens) <= shortMessageTokenLimit {
		return true
	}
	return HasRelativePricePhrase(trimmed)
}
