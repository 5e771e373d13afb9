// Package orchestrator runs the per-message pipeline: extraction, mapping,
// retrieval, shortlist processing, generation and function dispatch, with
// every external call bounded by the shared timeout + circuit breaker. It is
// the single recovery boundary: no internal error ever escapes to the caller.
package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/internal/extractor"
	"github.com/mesa-ai/carta-recs/internal/fncall"
	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/prompt"
	"github.com/mesa-ai/carta-recs/internal/resilience"
	"github.com/mesa-ai/carta-recs/internal/types"
)

const (
	historyLimit = 20

	genericErrorMessage = "Lo siento, ahora mismo no puedo ayudarte con eso. Inténtalo de nuevo en un momento."

	systemPrompt = "Eres el asistente de recomendaciones de un restaurante. " +
		"Con la búsqueda del cliente y los platos candidatos listados, o bien recomienda " +
		"platos llamando a recommend_dishes con IDs exactos de la lista, o bien responde " +
		"a una pregunta sobre un plato concreto con get_product_details, o bien contesta " +
		"en texto breve. Nunca inventes platos ni IDs."
)

type Session struct {
	ID         string
	TableAlias string
}

type FilterExtractor interface {
	ExtractFilters(ctx context.Context, message string, history []types.ConversationTurn) types.ExtractedFilters
}

type FilterMapper interface {
	MapToRPCParameters(ctx context.Context, filters types.ExtractedFilters) types.RPCFilterParameters
}

type Searcher interface {
	FindRelevantItemsWithEmbedding(ctx context.Context, mainQuery string, queryEmbedding []float32, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error)
}

type CandidateProcessor interface {
	ProcessCandidates(ctx context.Context, searched []types.MenuItemCandidate, cart []types.CartItem) ([]types.MenuItemCandidate, error)
}

type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, messages []llm.Message, candidateCount int) (*llm.Message, error)
}

type FunctionCallHandler interface {
	HandleFunctionCall(ctx context.Context, name string, arguments json.RawMessage, callCtx fncall.CallContext) (types.AssistantResponse, error)
}

type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Repository interface {
	GetLastConversationTurns(ctx context.Context, sessionID string, n int) ([]types.ConversationTurn, error)
	AddMessage(ctx context.Context, sessionID string, turn types.ConversationTurn) error
	GetCartItems(ctx context.Context, tableAlias string) ([]types.CartItem, error)
	GetMenuItemByID(ctx context.Context, id uuid.UUID) (*types.MenuItemDetails, error)
	HealthCheck(ctx context.Context) error
}

type Orchestrator struct {
	extractor FilterExtractor
	mapper    FilterMapper
	searcher  Searcher
	processor CandidateProcessor
	generator ResponseGenerator
	fnHandler FunctionCallHandler
	embed     EmbeddingClient
	repo      Repository
	detector  extractor.ContinuationDetector
	guard     *resilience.Guard
	logger    *logrus.Logger
}

func New(
	filterExtractor FilterExtractor,
	filterMapper FilterMapper,
	searcher Searcher,
	processor CandidateProcessor,
	generator ResponseGenerator,
	fnHandler FunctionCallHandler,
	embed EmbeddingClient,
	repo Repository,
	detector extractor.ContinuationDetector,
	guard *resilience.Guard,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		extractor: filterExtractor,
		mapper:    filterMapper,
		searcher:  searcher,
		processor: processor,
		generator: generator,
		fnHandler: fnHandler,
		embed:     embed,
		repo:      repo,
		detector:  detector,
		guard:     guard,
		logger:    logger,
	}
}

// ProcessUserMessage is the public entry point. It always returns a
// well-formed response; any pipeline failure is logged, recorded as a system
// turn, and collapsed into a generic error response.
func (o *Orchestrator) ProcessUserMessage(ctx context.Context, session Session, message string, categoryID *uuid.UUID) types.AssistantResponse {
	response, err := o.run(ctx, session, message, categoryID)
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID,
			"error_kind": types.KindOf(err),
		}).Error("pipeline failed")

		o.recordFailure(ctx, session, err)
		return types.ErrorResponse(string(types.KindOf(err)), genericErrorMessage)
	}
	return response
}

func (o *Orchestrator) run(ctx context.Context, session Session, message string, categoryID *uuid.UUID) (types.AssistantResponse, error) {
	history, err := resilience.Do(ctx, o.guard, "load_history", func(ctx context.Context) ([]types.ConversationTurn, error) {
		return o.repo.GetLastConversationTurns(ctx, session.ID, historyLimit)
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	filters, err := resilience.Do(ctx, o.guard, "extract_filters", func(ctx context.Context) (types.ExtractedFilters, error) {
		return o.extractor.ExtractFilters(ctx, message, history), nil
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	if previous, ok := previousFilters(history); ok && o.detector.IsContinuation(message) {
		filters = extractor.NormalizeFilters(extractor.MergeFilters(previous, filters))
	}

	queryEmbedding, err := resilience.Do(ctx, o.guard, "embed_query", func(ctx context.Context) ([]float32, error) {
		return o.embed.GenerateEmbedding(ctx, filters.MainQuery)
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	params, err := resilience.Do(ctx, o.guard, "map_filters", func(ctx context.Context) (types.RPCFilterParameters, error) {
		return o.mapper.MapToRPCParameters(ctx, filters), nil
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}
	if categoryID != nil {
		params.CategoryIDs = appendUnique(params.CategoryIDs, *categoryID)
	}

	searched, err := resilience.Do(ctx, o.guard, "search_items", func(ctx context.Context) ([]types.MenuItemCandidate, error) {
		return o.searcher.FindRelevantItemsWithEmbedding(ctx, filters.MainQuery, queryEmbedding, params)
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	userTurn := types.ConversationTurn{
		Role:    types.RoleUser,
		Content: message,
		Metadata: types.TurnMetadata{
			"filters":         filters,
			"query_embedding": queryEmbedding,
			"search": map[string]any{
				"result_count": len(searched),
				"result_ids":   candidateIDs(searched),
			},
		},
	}
	if err := resilience.DoErr(ctx, o.guard, "persist_user_turn", func(ctx context.Context) error {
		return o.repo.AddMessage(ctx, session.ID, userTurn)
	}); err != nil {
		return types.AssistantResponse{}, err
	}

	cart, err := resilience.Do(ctx, o.guard, "load_cart", func(ctx context.Context) ([]types.CartItem, error) {
		return o.repo.GetCartItems(ctx, session.TableAlias)
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	shortlist, err := resilience.Do(ctx, o.guard, "process_candidates", func(ctx context.Context) ([]types.MenuItemCandidate, error) {
		return o.processor.ProcessCandidates(ctx, searched, cart)
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	messages := o.buildMessages(ctx, history, filters, cart, shortlist, message)

	reply, err := resilience.Do(ctx, o.guard, "generate_response", func(ctx context.Context) (*llm.Message, error) {
		return o.generator.GenerateResponse(ctx, messages, len(shortlist))
	})
	if err != nil {
		return types.AssistantResponse{}, err
	}

	var response types.AssistantResponse
	if reply.FunctionCall != nil {
		response, err = resilience.Do(ctx, o.guard, "handle_function_call", func(ctx context.Context) (types.AssistantResponse, error) {
			return o.fnHandler.HandleFunctionCall(ctx, reply.FunctionCall.Name, reply.FunctionCall.Arguments, fncall.CallContext{Filters: filters})
		})
		if err != nil {
			return types.AssistantResponse{}, err
		}
	} else {
		response = types.TextResponse(reply.Content)
	}

	assistantTurn := types.ConversationTurn{
		Role:     types.RoleAssistant,
		Content:  assistantContent(response),
		Metadata: assistantMetadata(response),
	}
	if embedding, embedErr := o.embed.GenerateEmbedding(ctx, assistantTurn.Content); embedErr == nil {
		assistantTurn.Metadata["response_embedding"] = embedding
	}
	if err := resilience.DoErr(ctx, o.guard, "persist_assistant_turn", func(ctx context.Context) error {
		return o.repo.AddMessage(ctx, session.ID, assistantTurn)
	}); err != nil {
		return types.AssistantResponse{}, err
	}

	return response, nil
}

func (o *Orchestrator) buildMessages(ctx context.Context, history []types.ConversationTurn, filters types.ExtractedFilters, cart []types.CartItem, shortlist []types.MenuItemCandidate, message string) []llm.Message {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}

	for _, turn := range history {
		switch turn.Role {
		case types.RoleUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Content})
		case types.RoleAssistant:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: turn.Content})
		}
	}

	cartContext := prompt.BuildCartContext(o.cartLines(ctx, cart))
	candidatesBlock := prompt.BuildCandidatesBlock(shortlist)
	promptContext := prompt.BuildRecommendationContext(filters, cartContext, candidatesBlock)

	messages = append(messages,
		llm.Message{Role: llm.RoleSystem, Content: promptContext},
		llm.Message{Role: llm.RoleUser, Content: message},
	)

	return messages
}

func (o *Orchestrator) cartLines(ctx context.Context, cart []types.CartItem) []prompt.CartLine {
	var lines []prompt.CartLine
	for _, item := range cart {
		details, err := o.repo.GetMenuItemByID(ctx, item.MenuItemID)
		if err != nil {
			o.logger.WithError(err).WithField("menu_item_id", item.MenuItemID).
				Warn("skipping cart line with unresolvable item")
			continue
		}
		lines = append(lines, prompt.CartLine{Name: details.Name, Quantity: item.Quantity})
	}
	return lines
}

// recordFailure appends exactly one system turn describing the failure.
// Best-effort: if persistence itself is down, the log line is all we get.
func (o *Orchestrator) recordFailure(ctx context.Context, session Session, pipelineErr error) {
	turn := types.ConversationTurn{
		Role:    types.RoleSystem,
		Content: "pipeline error",
		Metadata: types.TurnMetadata{
			"error":      pipelineErr.Error(),
			"error_kind": string(types.KindOf(pipelineErr)),
		},
	}
	if err := o.repo.AddMessage(ctx, session.ID, turn); err != nil {
		o.logger.WithError(err).WithField("session_id", session.ID).
			Error("failed to persist error turn")
	}
}

func (o *Orchestrator) Health(ctx context.Context) error {
	return o.repo.HealthCheck(ctx)
}

func previousFilters(history []types.ConversationTurn) (types.ExtractedFilters, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role != types.RoleUser {
			continue
		}
		raw, ok := turn.Metadata["filters"]
		if !ok {
			continue
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return types.ExtractedFilters{}, false
		}
		var filters types.ExtractedFilters
		if err := json.Unmarshal(encoded, &filters); err != nil {
			return types.ExtractedFilters{}, false
		}
		return filters, true
	}
	return types.ExtractedFilters{}, false
}

func assistantContent(response types.AssistantResponse) string {
	switch response.Type {
	case types.ResponseText:
		return response.Text
	case types.ResponseClarification:
		return response.Clarification
	case types.ResponseProductDetails:
		return response.ProductDetails.Explanation
	case types.ResponseRecommendations:
		names := make([]string, 0, len(response.Recommendations))
		for _, rec := range response.Recommendations {
			names = append(names, rec.Name)
		}
		encoded, _ := json.Marshal(names)
		return "recomendaciones: " + string(encoded)
	default:
		return string(response.Type)
	}
}

func assistantMetadata(response types.AssistantResponse) types.TurnMetadata {
	metadata := types.TurnMetadata{"response_type": string(response.Type)}
	if response.Type == types.ResponseRecommendations {
		recs := make([]map[string]any, 0, len(response.Recommendations))
		for _, rec := range response.Recommendations {
			recs = append(recs, map[string]any{"id": rec.ID.String(), "reason": rec.Reason})
		}
		metadata["recommendations"] = recs
	}
	return metadata
}

func candidateIDs(items []types.MenuItemCandidate) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID.String())
	}
	return ids
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
