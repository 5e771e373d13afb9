// Package generator runs the recommendation LLM call: free text or one of the
// two declared function calls, with the function payload shape checked before
// anything flows downstream.
package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/types"
)

const (
	FunctionRecommendDishes   = "recommend_dishes"
	FunctionGetProductDetails = "get_product_details"

	minRecommendations = 3
	maxRecommendations = 4
)

var recommendDishesSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"recommendations": {
			"type": "array",
			"minItems": 3,
			"maxItems": 4,
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string", "format": "uuid", "description": "ID exacto de un plato candidato listado"},
					"reason": {"type": "string", "description": "Por qué este plato encaja con la petición"}
				},
				"required": ["id", "reason"]
			}
		}
	},
	"required": ["recommendations"]
}`)

var getProductDetailsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"product_id": {"type": "string", "format": "uuid"},
		"is_price_query": {"type": "boolean"}
	},
	"required": ["product_id"]
}`)

type Generator struct {
	llmClient llm.Client
	logger    *logrus.Logger
}

func New(llmClient llm.Client, logger *logrus.Logger) *Generator {
	return &Generator{llmClient: llmClient, logger: logger}
}

// GenerateResponse sends the assembled messages with both function schemas in
// auto mode. candidateCount relaxes the minimum recommendation count when the
// shortlist itself was shorter than three.
func (g *Generator) GenerateResponse(ctx context.Context, messages []llm.Message, candidateCount int) (*llm.Message, error) {
	resp, err := g.llmClient.Complete(ctx, llm.CompletionRequest{
		Messages: messages,
		Functions: []llm.FunctionSchema{
			{
				Name:        FunctionRecommendDishes,
				Description: "Recomienda entre 3 y 4 platos de la lista de candidatos",
				Parameters:  recommendDishesSchema,
			},
			{
				Name:        FunctionGetProductDetails,
				Description: "Da detalles o el precio de un único plato",
				Parameters:  getProductDetailsSchema,
			},
		},
		FunctionCall: llm.ModeAuto(),
	})
	if err != nil {
		if types.KindOf(err) == types.KindExternalService {
			return nil, err
		}
		return nil, types.NewRecommendationFailedError("recommendation call failed", err)
	}

	if resp.FunctionCall != nil && resp.FunctionCall.Name == FunctionRecommendDishes {
		if err := validateRecommendPayload(resp.FunctionCall.Arguments, candidateCount); err != nil {
			g.logger.WithError(err).Warn("recommendation function call failed shape validation")
			return nil, types.NewRecommendationFailedError("invalid recommendation payload", err)
		}
	}

	return resp, nil
}

type recommendPayload struct {
	Recommendations []struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	} `json:"recommendations"`
}

func validateRecommendPayload(arguments json.RawMessage, candidateCount int) error {
	var payload recommendPayload
	if err := json.Unmarshal(arguments, &payload); err != nil {
		return fmt.Errorf("malformed arguments: %w", err)
	}

	count := len(payload.Recommendations)
	if count == 0 {
		return fmt.Errorf("recommendations array is empty")
	}

	minRequired := minRecommendations
	if candidateCount < minRecommendations {
		minRequired = 1
	}
	if count < minRequired || count > maxRecommendations {
		return fmt.Errorf("expected %d-%d recommendations, got %d", minRequired, maxRecommendations, count)
	}

	for i, rec := range payload.Recommendations {
		if rec.ID == "" || rec.Reason == "" {
			return fmt.Errorf("recommendation %d is missing id or reason", i)
		}
	}

	return nil
}
