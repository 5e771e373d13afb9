// Package fncall validates and executes the function the LLM selected,
// enriching its arguments with persistence lookups and producing the final
// typed response. Arguments are parsed and validated at this boundary; partial
// data never proceeds.
package fncall

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/types"
)

// Repository is the slice of the persistence collaborator used for
// enrichment lookups.
type Repository interface {
	GetMenuItemByID(ctx context.Context, id uuid.UUID) (*types.MenuItemDetails, error)
}

// CallContext carries per-message state a function handler may need.
type CallContext struct {
	Filters types.ExtractedFilters
}

type handlerFunc func(ctx context.Context, arguments json.RawMessage, callCtx CallContext) (types.AssistantResponse, error)

type Handler struct {
	repo      Repository
	llmClient llm.Client
	validate  *validator.Validate
	logger    *logrus.Logger

	dispatch map[string]handlerFunc
}

func New(repo Repository, llmClient llm.Client, logger *logrus.Logger) *Handler {
	h := &Handler{
		repo:      repo,
		llmClient: llmClient,
		validate:  validator.New(),
		logger:    logger,
	}

	h.dispatch = map[string]handlerFunc{
		"extract_filters":         h.handleExtractFilters,
		"request_clarification":   h.handleRequestClarification,
		"provide_recommendations": h.handleRecommendations,
		"recommend_dishes":        h.handleRecommendations,
		"get_product_details":     h.handleProductDetails,
	}

	return h
}

func (h *Handler) HandleFunctionCall(ctx context.Context, name string, arguments json.RawMessage, callCtx CallContext) (types.AssistantResponse, error) {
	handler, ok := h.dispatch[name]
	if !ok {
		return types.AssistantResponse{}, types.NewValidationError("unknown function %q", name)
	}
	return handler(ctx, arguments, callCtx)
}

// The generation model asking for extract_filters means it wants more
// constraints than the current search holds; answer with a clarification
// instead of looping back into extraction.
func (h *Handler) handleExtractFilters(_ context.Context, _ json.RawMessage, callCtx CallContext) (types.AssistantResponse, error) {
	query := strings.TrimSpace(callCtx.Filters.MainQuery)
	if query == "" {
		return types.ClarificationResponse("¿Qué te apetece tomar? Dime un plato, una categoría o un presupuesto."), nil
	}
	return types.ClarificationResponse(fmt.Sprintf(
		"Para afinar la búsqueda de %q, ¿puedes darme algún detalle más? Por ejemplo una categoría, un precio máximo o alguna restricción.", query)), nil
}

type clarificationArgs struct {
	Message string `json:"message" validate:"required"`
}

func (h *Handler) handleRequestClarification(_ context.Context, arguments json.RawMessage, _ CallContext) (types.AssistantResponse, error) {
	var args clarificationArgs
	if err := h.parseArguments(arguments, &args); err != nil {
		return types.AssistantResponse{}, err
	}
	return types.ClarificationResponse(args.Message), nil
}

type recommendationEntry struct {
	ID     string `json:"id" validate:"required,uuid"`
	Reason string `json:"reason" validate:"required"`
}

type recommendationsArgs struct {
	Recommendations []recommendationEntry `json:"recommendations" validate:"required,min=1,dive"`
}

func (h *Handler) handleRecommendations(ctx context.Context, arguments json.RawMessage, _ CallContext) (types.AssistantResponse, error) {
	var args recommendationsArgs
	if err := h.parseArguments(arguments, &args); err != nil {
		return types.AssistantResponse{}, err
	}

	var items []types.RecommendedItem
	for _, entry := range args.Recommendations {
		id, err := uuid.Parse(entry.ID)
		if err != nil {
			h.logger.WithField("id", entry.ID).Warn("dropping recommendation with invalid id")
			continue
		}

		details, err := h.repo.GetMenuItemByID(ctx, id)
		if err != nil {
			h.logger.WithError(err).WithField("id", entry.ID).Warn("dropping unresolvable recommendation")
			continue
		}

		items = append(items, types.RecommendedItem{
			ID:         details.ID,
			Name:       details.Name,
			Price:      details.Price,
			Reason:     entry.Reason,
			ImageURL:   details.ImageURL,
			Categories: details.Categories,
		})
	}

	// Dropping a bad entry is fine; returning an empty list silently is not.
	if len(items) == 0 {
		return types.AssistantResponse{}, types.NewRecommendationFailedError(
			"none of the recommended items could be resolved", nil)
	}

	return types.RecommendationsResponse(items), nil
}

type productDetailsArgs struct {
	ProductID    string `json:"product_id" validate:"required,uuid"`
	IsPriceQuery bool   `json:"is_price_query"`
}

func (h *Handler) handleProductDetails(ctx context.Context, arguments json.RawMessage, _ CallContext) (types.AssistantResponse, error) {
	var args productDetailsArgs
	if err := h.parseArguments(arguments, &args); err != nil {
		return types.AssistantResponse{}, err
	}

	id, err := uuid.Parse(args.ProductID)
	if err != nil {
		return types.AssistantResponse{}, types.NewValidationError("invalid product_id %q", args.ProductID)
	}

	details, err := h.repo.GetMenuItemByID(ctx, id)
	if err != nil {
		return types.AssistantResponse{}, err
	}

	if args.IsPriceQuery {
		return types.ProductDetailsResponse(*details,
			fmt.Sprintf("%s cuesta %.2f€.", details.Name, details.Price)), nil
	}

	explanation, err := h.explainItem(ctx, details)
	if err != nil {
		h.logger.WithError(err).WithField("item", details.Name).
			Warn("explanation call failed, using deterministic fallback")
		explanation = fallbackExplanation(details)
	}

	return types.ProductDetailsResponse(*details, explanation), nil
}

func (h *Handler) explainItem(ctx context.Context, details *types.MenuItemDetails) (string, error) {
	resp, err := h.llmClient.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{
				Role: llm.RoleSystem,
				Content: "Eres el asistente de un restaurante. Describe el plato en un máximo de 3 líneas, " +
					"cálido pero preciso. No inventes ingredientes ni precios.",
			},
			{Role: llm.RoleUser, Content: itemFactSheet(details)},
		},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty explanation from llm")
	}
	return strings.TrimSpace(resp.Content), nil
}

func itemFactSheet(details *types.MenuItemDetails) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plato: %s\n", details.Name)
	fmt.Fprintf(&b, "Precio: %.2f€\n", details.Price)
	if details.Description != "" {
		fmt.Fprintf(&b, "Descripción: %s\n", details.Description)
	}
	if len(details.Categories) > 0 {
		names := make([]string, 0, len(details.Categories))
		for _, c := range details.Categories {
			names = append(names, c.Name)
		}
		fmt.Fprintf(&b, "Categorías: %s\n", strings.Join(names, ", "))
	}
	if len(details.Allergens) > 0 {
		fmt.Fprintf(&b, "Alérgenos: %s\n", strings.Join(details.Allergens, ", "))
	}
	if len(details.DietTags) > 0 {
		fmt.Fprintf(&b, "Etiquetas de dieta: %s\n", strings.Join(details.DietTags, ", "))
	}
	if details.ChefNotes != "" {
		fmt.Fprintf(&b, "Notas del chef: %s\n", details.ChefNotes)
	}
	if details.Pairing != "" {
		fmt.Fprintf(&b, "Maridaje: %s\n", details.Pairing)
	}
	return b.String()
}

func fallbackExplanation(details *types.MenuItemDetails) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("%s (%.2f€)", details.Name, details.Price))
	if details.Description != "" {
		parts = append(parts, details.Description)
	}
	if len(details.Allergens) > 0 {
		parts = append(parts, "Contiene: "+strings.Join(details.Allergens, ", "))
	}
	if details.Pairing != "" {
		parts = append(parts, "Maridaje: "+details.Pairing)
	}
	return strings.Join(parts, ". ")
}

func (h *Handler) parseArguments(arguments json.RawMessage, target any) error {
	if err := json.Unmarshal(arguments, target); err != nil {
		return types.NewValidationError("malformed function arguments: %v", err)
	}
	if err := h.validate.Struct(target); err != nil {
		return types.NewValidationError("function arguments failed validation: %v", err)
	}
	return nil
}
