// Package extractor turns a free-text guest message into structured menu
// filters via a forced LLM function call. It is the one pipeline component
// that recovers locally: after retries it degrades to a bare main_query
// instead of failing.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/prompt"
	"github.com/mesa-ai/carta-recs/internal/types"
)

const (
	extractFunctionName = "extract_filters"
	historyDepth        = 5
)

var extractFiltersSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"main_query": {"type": "string", "description": "Lo que el cliente busca, en sus propias palabras"},
		"item_type": {"type": "string", "enum": ["Food", "Drink"]},
		"category_names": {"type": "array", "items": {"type": "string"}},
		"exclude_allergen_names": {"type": "array", "items": {"type": "string"}},
		"include_diet_tag_names": {"type": "array", "items": {"type": "string"}},
		"keywords_include": {"type": "array", "items": {"type": "string"}},
		"is_vegetarian_base": {"type": "boolean"},
		"is_vegan_base": {"type": "boolean"},
		"is_gluten_free_base": {"type": "boolean"},
		"is_alcoholic": {"type": "boolean"},
		"price_min": {"type": "number", "minimum": 0},
		"price_max": {"type": "number", "minimum": 0},
		"calories_min": {"type": "number", "minimum": 0},
		"calories_max": {"type": "number", "minimum": 0}
	},
	"required": ["main_query"]
}`)

// DomainCatalog supplies the valid names injected into the extraction prompt.
type DomainCatalog interface {
	ListNames(ctx context.Context, table string) ([]string, error)
	ListSlotNames(ctx context.Context) ([]string, error)
}

type Extractor struct {
	llmClient llm.Client
	catalog   DomainCatalog
	detector  ContinuationDetector
	rules     []CorrectionRule
	validate  *validator.Validate
	logger    *logrus.Logger

	maxTries uint
}

func New(llmClient llm.Client, catalog DomainCatalog, detector ContinuationDetector, logger *logrus.Logger) *Extractor {
	return &Extractor{
		llmClient: llmClient,
		catalog:   catalog,
		detector:  detector,
		rules:     defaultCorrectionRules,
		validate:  validator.New(),
		logger:    logger,
		maxTries:  3,
	}
}

// ExtractFilters never fails: any error after the retry budget collapses into
// a degraded result carrying only the original message.
func (e *Extractor) ExtractFilters(ctx context.Context, message string, history []types.ConversationTurn) types.ExtractedFilters {
	hints := DetectPricePhrases(message)
	systemPrompt := e.buildSystemPrompt(ctx, message, hints)
	historyBlock := prompt.BuildExtractionContext(history, historyDepth)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
	}
	if historyBlock != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: historyBlock})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})

	operation := func() (types.ExtractedFilters, error) {
		return e.callExtraction(ctx, messages)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = 4 * time.Second

	filters, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(e.maxTries),
	)
	if err != nil {
		e.logger.WithError(err).WithField("message_length", len(message)).
			Warn("filter extraction exhausted retries, returning degraded filters")
		return types.ExtractedFilters{MainQuery: strings.TrimSpace(message)}
	}

	applyCorrectionRules(&filters, e.rules)
	filters = NormalizeFilters(filters)
	if filters.MainQuery == "" {
		filters.MainQuery = strings.TrimSpace(message)
	}

	return filters
}

func (e *Extractor) callExtraction(ctx context.Context, messages []llm.Message) (types.ExtractedFilters, error) {
	resp, err := e.llmClient.Complete(ctx, llm.CompletionRequest{
		Messages: messages,
		Functions: []llm.FunctionSchema{{
			Name:        extractFunctionName,
			Description: "Extrae filtros estructurados de la petición del cliente",
			Parameters:  extractFiltersSchema,
		}},
		FunctionCall: llm.ForceFunction(extractFunctionName),
	})
	if err != nil {
		return types.ExtractedFilters{}, err
	}

	if resp.FunctionCall == nil || resp.FunctionCall.Name != extractFunctionName {
		return types.ExtractedFilters{}, types.NewValidationError(
			"expected %s function call, got %q", extractFunctionName, functionName(resp))
	}

	var filters types.ExtractedFilters
	if err := json.Unmarshal(resp.FunctionCall.Arguments, &filters); err != nil {
		return types.ExtractedFilters{}, types.NewValidationError("malformed function arguments: %v", err)
	}

	filters.MainQuery = strings.TrimSpace(filters.MainQuery)
	if err := e.validate.Struct(filters); err != nil {
		return types.ExtractedFilters{}, types.NewValidationError("extracted filters failed validation: %v", err)
	}

	return filters, nil
}

func (e *Extractor) buildSystemPrompt(ctx context.Context, message string, hints PriceHints) string {
	var b strings.Builder

	b.WriteString("Eres el asistente de recomendaciones de un restaurante. ")
	b.WriteString("Extrae los filtros de búsqueda de la petición del cliente llamando a la función extract_filters. ")
	b.WriteString("Usa solo los nombres válidos listados a continuación.\n\n")

	e.writeCatalogSection(ctx, &b, "Categorías válidas", "categories")
	e.writeCatalogSection(ctx, &b, "Alérgenos válidos", "allergens")
	e.writeCatalogSection(ctx, &b, "Etiquetas de dieta válidas", "diet_tags")

	if slots, err := e.catalog.ListSlotNames(ctx); err == nil && len(slots) > 0 {
		fmt.Fprintf(&b, "Franjas horarias: %s\n", strings.Join(slots, ", "))
	}

	if hints.Min != nil || hints.Max != nil {
		b.WriteString("\nPrecios detectados en el mensaje (verifícalos):")
		if hints.Min != nil {
			fmt.Fprintf(&b, " precio mínimo %.2f€", *hints.Min)
		}
		if hints.Max != nil {
			fmt.Fprintf(&b, " precio máximo %.2f€", *hints.Max)
		}
		b.WriteString("\n")
	}

	if e.detector.IsContinuation(message) {
		b.WriteString("\nEl mensaje parece continuar la búsqueda anterior. ")
		b.WriteString("Mantén los filtros previos de categoría y tipo que sigan aplicando; ")
		b.WriteString("actualiza solo lo que el cliente cambia.\n")
	}

	return b.String()
}

func (e *Extractor) writeCatalogSection(ctx context.Context, b *strings.Builder, label, table string) {
	names, err := e.catalog.ListNames(ctx, table)
	if err != nil {
		e.logger.WithError(err).WithField("table", table).Warn("failed to load domain names for prompt")
		return
	}
	if len(names) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(names, ", "))
}

func functionName(msg *llm.Message) string {
	if msg.FunctionCall == nil {
		return ""
	}
	return msg.FunctionCall.Name
}

// MergeFilters folds freshly extracted filters into the previous turn's
// filters. Array fields union, scalars overwrite only when newly present, and
// a short follow-up query that adds new words is appended to the prior query.
func MergeFilters(existing, incoming types.ExtractedFilters) types.ExtractedFilters {
	merged := existing

	merged.MainQuery = mergeQueries(existing.MainQuery, incoming.MainQuery)
	merged.CategoryNames = unionFold(existing.CategoryNames, incoming.CategoryNames)
	merged.ExcludeAllergenNames = unionFold(existing.ExcludeAllergenNames, incoming.ExcludeAllergenNames)
	merged.IncludeDietTagNames = unionFold(existing.IncludeDietTagNames, incoming.IncludeDietTagNames)
	merged.KeywordsInclude = unionFold(existing.KeywordsInclude, incoming.KeywordsInclude)

	if incoming.ItemType != nil {
		merged.ItemType = incoming.ItemType
	}
	if incoming.IsVegetarianBase != nil {
		merged.IsVegetarianBase = incoming.IsVegetarianBase
	}
	if incoming.IsVeganBase != nil {
		merged.IsVeganBase = incoming.IsVeganBase
	}
	if incoming.IsGlutenFreeBase != nil {
		merged.IsGlutenFreeBase = incoming.IsGlutenFreeBase
	}
	if incoming.IsAlcoholic != nil {
		merged.IsAlcoholic = incoming.IsAlcoholic
	}
	if incoming.PriceMin != nil {
		merged.PriceMin = incoming.PriceMin
	}
	if incoming.PriceMax != nil {
		merged.PriceMax = incoming.PriceMax
	}
	if incoming.CaloriesMin != nil {
		merged.CaloriesMin = incoming.CaloriesMin
	}
	if incoming.CaloriesMax != nil {
		merged.CaloriesMax = incoming.CaloriesMax
	}

	return merged
}

func mergeQueries(existing, incoming string) string {
	existing = strings.TrimSpace(existing)
	incoming = strings.TrimSpace(incoming)

	if incoming == "" {
		return existing
	}
	if existing == "" {
		return incoming
	}

	tokens := strings.Fields(strings.ToLower(incoming))
	if len(tokens) > shortMessageTokenLimit || restatesQuery(existing, tokens) {
		return incoming
	}
	return existing + " " + incoming
}

func restatesQuery(existing string, incomingTokens []string) bool {
	existingTokens := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(existing)) {
		if len([]rune(tok)) >= 3 {
			existingTokens[tok] = true
		}
	}
	for _, tok := range incomingTokens {
		if len([]rune(tok)) >= 3 && existingTokens[tok] {
			return true
		}
	}
	return false
}

// NormalizeFilters trims and lower-cases every array entry, dropping empties
// and duplicates. The main query is only trimmed.
func NormalizeFilters(filters types.ExtractedFilters) types.ExtractedFilters {
	filters.MainQuery = strings.TrimSpace(filters.MainQuery)
	filters.CategoryNames = normalizeList(filters.CategoryNames)
	filters.ExcludeAllergenNames = normalizeList(filters.ExcludeAllergenNames)
	filters.IncludeDietTagNames = normalizeList(filters.IncludeDietTagNames)
	filters.KeywordsInclude = normalizeList(filters.KeywordsInclude)
	return filters
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	var out []string
	for _, value := range values {
		normalized := strings.ToLower(strings.TrimSpace(value))
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

func unionFold(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, value := range existing {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}
	for _, value := range incoming {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}
	return out
}
