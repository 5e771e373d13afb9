package fncall

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

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetMenuItemByID(ctx context.Context, id uuid.UUID) (*types.MenuItemDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MenuItemDetails), args.Error(1)
}

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

func newTestHandler(repo *MockRepository, llmClient *MockLLMClient) *Handler {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(repo, llmClient, logger)
}

func TestHandler_PriceQuerySkipsLLM(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	id := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, id).Return(&types.MenuItemDetails{
		ID: id, Name: "Tarta de queso", Price: 6.5, IsAvailable: true,
	}, nil)

	arguments := json.RawMessage(fmt.Sprintf(`{"product_id": %q, "is_price_query": true}`, id))
	resp, err := h.HandleFunctionCall(context.Background(), "get_product_details", arguments, CallContext{})

	assert.NoError(t, err)
	assert.Equal(t, types.ResponseProductDetails, resp.Type)
	assert.Equal(t, "Tarta de queso cuesta 6.50€.", resp.ProductDetails.Explanation)
	mockLLM.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestHandler_ProductDetailsUsesLLMExplanation(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	id := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, id).Return(&types.MenuItemDetails{
		ID: id, Name: "Paella", Price: 18, IsAvailable: true,
	}, nil)
	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(&llm.Message{
		Role:    llm.RoleAssistant,
		Content: "Arroz con marisco fresco del día.",
	}, nil)

	arguments := json.RawMessage(fmt.Sprintf(`{"product_id": %q}`, id))
	resp, err := h.HandleFunctionCall(context.Background(), "get_product_details", arguments, CallContext{})

	assert.NoError(t, err)
	assert.Equal(t, "Arroz con marisco fresco del día.", resp.ProductDetails.Explanation)
}

func TestHandler_ProductDetailsFallsBackWhenLLMFails(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	id := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, id).Return(&types.MenuItemDetails{
		ID: id, Name: "Paella", Price: 18, Description: "Arroz con marisco", IsAvailable: true,
	}, nil)
	mockLLM.On("Complete", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	arguments := json.RawMessage(fmt.Sprintf(`{"product_id": %q}`, id))
	resp, err := h.HandleFunctionCall(context.Background(), "get_product_details", arguments, CallContext{})

	assert.NoError(t, err)
	assert.Contains(t, resp.ProductDetails.Explanation, "Paella (18.00€)")
	assert.Contains(t, resp.ProductDetails.Explanation, "Arroz con marisco")
}

func TestHandler_ProductDetailsNotFound(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	id := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, id).
		Return(nil, types.NewNotFoundError("menu item"))

	arguments := json.RawMessage(fmt.Sprintf(`{"product_id": %q}`, id))
	_, err := h.HandleFunctionCall(context.Background(), "get_product_details", arguments, CallContext{})

	assert.Error(t, err)
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestHandler_RecommendationsResolveAndDrop(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	goodID := uuid.New()
	badID := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, goodID).Return(&types.MenuItemDetails{
		ID: goodID, Name: "Tarta", Price: 6.5, IsAvailable: true,
	}, nil)
	mockRepo.On("GetMenuItemByID", mock.Anything, badID).
		Return(nil, types.NewNotFoundError("menu item"))

	arguments := json.RawMessage(fmt.Sprintf(`{"recommendations": [
		{"id": %q, "reason": "dulce y cremosa"},
		{"id": %q, "reason": "no existe"}
	]}`, goodID, badID))
	resp, err := h.HandleFunctionCall(context.Background(), "recommend_dishes", arguments, CallContext{})

	assert.NoError(t, err)
	assert.Equal(t, types.ResponseRecommendations, resp.Type)
	assert.Len(t, resp.Recommendations, 1)
	assert.Equal(t, "Tarta", resp.Recommendations[0].Name)
	assert.Equal(t, "dulce y cremosa", resp.Recommendations[0].Reason)
}

func TestHandler_AllRecommendationsDroppedFails(t *testing.T) {
	mockRepo := &MockRepository{}
	mockLLM := &MockLLMClient{}
	h := newTestHandler(mockRepo, mockLLM)

	id := uuid.New()
	mockRepo.On("GetMenuItemByID", mock.Anything, id).
		Return(nil, types.NewNotFoundError("menu item"))

	arguments := json.RawMessage(fmt.Sprintf(`{"recommendations": [{"id": %q, "reason": "x"}]}`, id))
	_, err := h.HandleFunctionCall(context.Background(), "recommend_dishes", arguments, CallContext{})

	assert.Error(t, err)
	assert.Equal(t, types.KindRecommendationFailed, types.KindOf(err))
}

func TestHandler_ClarificationPassesThrough(t *testing.T) {
	h := newTestHandler(&MockRepository{}, &MockLLMClient{})

	arguments := json.RawMessage(`{"message": "¿Prefieres carne o pescado?"}`)
	resp, err := h.HandleFunctionCall(context.Background(), "request_clarification", arguments, CallContext{})

	assert.NoError(t, err)
	assert.Equal(t, types.ResponseClarification, resp.Type)
	assert.Equal(t, "¿Prefieres carne o pescado?", resp.Clarification)
}

func TestHandler_ClarificationMissingMessageRejected(t *testing.T) {
	h := newTestHandler(&MockRepository{}, &MockLLMClient{})

	_, err := h.HandleFunctionCall(context.Background(), "request_clarification",
		json.RawMessage(`{}`), CallContext{})

	assert.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

func TestHandler_ExtractFiltersBecomesClarification(t *testing.T) {
	h := newTestHandler(&MockRepository{}, &MockLLMClient{})

	resp, err := h.HandleFunctionCall(context.Background(), "extract_filters",
		json.RawMessage(`{}`), CallContext{Filters: types.ExtractedFilters{MainQuery: "algo rico"}})

	assert.NoError(t, err)
	assert.Equal(t, types.ResponseClarification, resp.Type)
	assert.Contains(t, resp.Clarification, "algo rico")
}

func TestHandler_UnknownFunctionRejected(t *testing.T) {
	h := newTestHandler(&MockRepository{}, &MockLLMClient{})

	_, err := h.HandleFunctionCall(context.Background(), "order_pizza",
		json.RawMessage(`{}`), CallContext{})

	assert.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}
