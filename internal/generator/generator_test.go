package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mesa-ai/carta-recs/internal/llm"
	"github.com/mesa-ai/carta-recs/internal/types"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Message, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Message), args.Error(1)
}

func newTestGenerator(mockLLM *MockLLMClient) *Generator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(mockLLM, logger)
}

func recommendArguments(count int) json.RawMessage {
	entries := make([]map[string]string, 0, count)
	for i := 0; i < count; i++ {
		entries = append(entries, map[string]string{
			"id":     uuid.New().String(),
			"reason": fmt.Sprintf("razón %d", i+1),
		})
	}
	raw, _ := json.Marshal(map[string]any{"recommendations": entries})
	return raw
}

func TestGenerator_TextResponsePassesThrough(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role:    llm.RoleAssistant,
		Content: "La paella lleva marisco fresco.",
	}, nil)

	resp, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.NoError(t, err)
	assert.Nil(t, resp.FunctionCall)
	assert.Equal(t, "La paella lleva marisco fresco.", resp.Content)
}

func TestGenerator_ValidRecommendationCall(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionRecommendDishes,
			Arguments: recommendArguments(3),
		},
	}, nil)

	resp, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.NoError(t, err)
	assert.Equal(t, FunctionRecommendDishes, resp.FunctionCall.Name)
}

func TestGenerator_TooManyRecommendationsRejected(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionRecommendDishes,
			Arguments: recommendArguments(5),
		},
	}, nil)

	_, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.Error(t, err)
	assert.Equal(t, types.KindRecommendationFailed, types.KindOf(err))
}

func TestGenerator_TooFewRecommendationsRejected(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionRecommendDishes,
			Arguments: recommendArguments(2),
		},
	}, nil)

	_, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.Error(t, err)
	assert.Equal(t, types.KindRecommendationFailed, types.KindOf(err))
}

func TestGenerator_ShortShortlistRelaxesMinimum(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionRecommendDishes,
			Arguments: recommendArguments(2),
		},
	}, nil)

	resp, err := g.GenerateResponse(context.Background(), nil, 2)

	assert.NoError(t, err)
	assert.NotNil(t, resp.FunctionCall)
}

func TestGenerator_MissingReasonRejected(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	arguments := json.RawMessage(fmt.Sprintf(
		`{"recommendations": [{"id": %q, "reason": ""}, {"id": %q, "reason": "rico"}, {"id": %q, "reason": "fresco"}]}`,
		uuid.New(), uuid.New(), uuid.New()))
	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionRecommendDishes,
			Arguments: arguments,
		},
	}, nil)

	_, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.Error(t, err)
	assert.Equal(t, types.KindRecommendationFailed, types.KindOf(err))
}

func TestGenerator_ProductDetailsCallNotShapeChecked(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role: llm.RoleAssistant,
		FunctionCall: &llm.FunctionCall{
			Name:      FunctionGetProductDetails,
			Arguments: json.RawMessage(fmt.Sprintf(`{"product_id": %q, "is_price_query": true}`, uuid.New())),
		},
	}, nil)

	resp, err := g.GenerateResponse(context.Background(), nil, 0)

	assert.NoError(t, err)
	assert.Equal(t, FunctionGetProductDetails, resp.FunctionCall.Name)
}

func TestGenerator_ExternalServiceErrorKept(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).
		Return(nil, types.NewExternalServiceError("llm", assert.AnError))

	_, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.Error(t, err)
	assert.Equal(t, types.KindExternalService, types.KindOf(err))
}

func TestGenerator_OtherErrorsWrapped(t *testing.T) {
	mockLLM := &MockLLMClient{}
	g := newTestGenerator(mockLLM)

	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := g.GenerateResponse(context.Background(), nil, 4)

	assert.Error(t, err)
	assert.Equal(t, types.KindRecommendationFailed, types.KindOf(err))
}
