package candidates

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/mesa-ai/carta-recs/internal/types"
)

type MockCategoryResolver struct {
	mock.Mock
}

func (m *MockCategoryResolver) GetCategoryNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]string), args.Error(1)
}

func item(name string, margin float64, recommended, available bool) types.MenuItemCandidate {
	return types.MenuItemCandidate{
		ID:            uuid.New(),
		Name:          name,
		ProfitMargin:  margin,
		IsRecommended: recommended,
		IsAvailable:   available,
	}
}

func TestProcessor_DropsUnavailableAndCartItems(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	available := item("Tarta", 0.5, false, true)
	soldOut := item("Brownie", 0.9, false, false)
	inCart := item("Flan", 0.7, false, true)

	mockResolver.On("GetCategoryNames", mock.Anything, mock.Anything).
		Return(map[uuid.UUID]string{}, nil)

	cart := []types.CartItem{{MenuItemID: inCart.ID, Quantity: 1}}
	result, err := p.ProcessCandidates(context.Background(),
		[]types.MenuItemCandidate{available, soldOut, inCart}, cart)

	assert.NoError(t, err)
	assert.Len(t, result, 1)
	assert.Equal(t, "Tarta", result[0].Name)
}

func TestProcessor_RecommendedFirstThenMargin(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	highMargin := item("Chuletón", 0.9, false, true)
	recommended := item("Paella", 0.3, true, true)
	midMargin := item("Ensalada", 0.5, false, true)

	mockResolver.On("GetCategoryNames", mock.Anything, mock.Anything).
		Return(map[uuid.UUID]string{}, nil)

	result, err := p.ProcessCandidates(context.Background(),
		[]types.MenuItemCandidate{highMargin, recommended, midMargin}, nil)

	assert.NoError(t, err)
	assert.Equal(t, "Paella", result[0].Name)
	assert.Equal(t, "Chuletón", result[1].Name)
	assert.Equal(t, "Ensalada", result[2].Name)
}

func TestProcessor_CapsAtFour(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	mockResolver.On("GetCategoryNames", mock.Anything, mock.Anything).
		Return(map[uuid.UUID]string{}, nil)

	var searched []types.MenuItemCandidate
	for i := 0; i < 6; i++ {
		searched = append(searched, item("Plato", float64(i)/10, false, true))
	}

	result, err := p.ProcessCandidates(context.Background(), searched, nil)

	assert.NoError(t, err)
	assert.Len(t, result, 4)
	assert.Equal(t, 0.5, result[0].ProfitMargin)
}

func TestProcessor_EnrichesCategoryNames(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	categoryID := uuid.New()
	hit := item("Tarta", 0.5, false, true)
	hit.CategoryIDs = []uuid.UUID{categoryID}

	mockResolver.On("GetCategoryNames", mock.Anything, []uuid.UUID{categoryID}).
		Return(map[uuid.UUID]string{categoryID: "Postres"}, nil)

	result, err := p.ProcessCandidates(context.Background(), []types.MenuItemCandidate{hit}, nil)

	assert.NoError(t, err)
	assert.Equal(t, []types.CategoryInfo{{ID: categoryID, Name: "Postres"}}, result[0].Categories)
	mockResolver.AssertExpectations(t)
}

func TestProcessor_CategoryLookupErrorPropagates(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	mockResolver.On("GetCategoryNames", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	result, err := p.ProcessCandidates(context.Background(),
		[]types.MenuItemCandidate{item("Tarta", 0.5, false, true)}, nil)

	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to resolve category names")
}

func TestProcessor_EmptyInputShortCircuits(t *testing.T) {
	mockResolver := &MockCategoryResolver{}
	p := New(mockResolver)

	result, err := p.ProcessCandidates(context.Background(), nil, nil)

	assert.NoError(t, err)
	assert.Nil(t, result)
	mockResolver.AssertNotCalled(t, "GetCategoryNames", mock.Anything, mock.Anything)
}
