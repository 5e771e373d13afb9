package types

import (
	"time"

	"github.com/google/uuid"
)

type ItemType string

const (
	ItemTypeFood  ItemType = "Food"
	ItemTypeDrink ItemType = "Drink"
)

// ExtractedFilters is the structured form of a guest message, produced by the
// extraction LLM call. MainQuery is always present; everything else is optional.
type ExtractedFilters struct {
	MainQuery            string    `json:"main_query" validate:"required"`
	ItemType             *ItemType `json:"item_type,omitempty"`
	CategoryNames        []string  `json:"category_names,omitempty"`
	ExcludeAllergenNames []string  `json:"exclude_allergen_names,omitempty"`
	IncludeDietTagNames  []string  `json:"include_diet_tag_names,omitempty"`
	KeywordsInclude      []string  `json:"keywords_include,omitempty"`
	IsVegetarianBase     *bool     `json:"is_vegetarian_base,omitempty"`
	IsVeganBase          *bool     `json:"is_vegan_base,omitempty"`
	IsGlutenFreeBase     *bool     `json:"is_gluten_free_base,omitempty"`
	IsAlcoholic          *bool     `json:"is_alcoholic,omitempty"`
	PriceMin             *float64  `json:"price_min,omitempty" validate:"omitempty,gte=0"`
	PriceMax             *float64  `json:"price_max,omitempty" validate:"omitempty,gte=0"`
	CaloriesMin          *float64  `json:"calories_min,omitempty" validate:"omitempty,gte=0"`
	CaloriesMax          *float64  `json:"calories_max,omitempty" validate:"omitempty,gte=0"`
}

// RPCFilterParameters mirrors ExtractedFilters with every name resolved to a
// canonical ID. Names that could not be resolved are simply absent.
type RPCFilterParameters struct {
	ItemType           *ItemType
	CategoryIDs        []uuid.UUID
	ExcludeAllergenIDs []uuid.UUID
	IncludeDietTagIDs  []uuid.UUID
	IsVegetarianBase   *bool
	IsVeganBase        *bool
	IsGlutenFreeBase   *bool
	IsAlcoholic        *bool
	PriceMin           *float64
	PriceMax           *float64
	CaloriesMin        *float64
	CaloriesMax        *float64
}

type CategoryInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// MenuItemCandidate is a search hit eligible to be offered as a recommendation.
// Produced fresh per search, never persisted.
type MenuItemCandidate struct {
	ID            uuid.UUID      `json:"id"`
	Name          string         `json:"name"`
	Price         float64        `json:"price"`
	Description   string         `json:"description"`
	CategoryIDs   []uuid.UUID    `json:"category_ids"`
	Categories    []CategoryInfo `json:"category_info,omitempty"`
	ProfitMargin  float64        `json:"profit_margin"`
	IsRecommended bool           `json:"is_recommended"`
	IsAvailable   bool           `json:"is_available"`
	Similarity    *float64       `json:"similarity,omitempty"`
}

type CartItem struct {
	MenuItemID uuid.UUID `json:"menu_item_id"`
	Quantity   int       `json:"quantity"`
}

// MenuItemDetails is the full persisted record of a menu item, fetched when a
// selected recommendation or a product-details request needs enrichment.
type MenuItemDetails struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Price       float64        `json:"price"`
	Description string         `json:"description"`
	ImageURL    string         `json:"image_url,omitempty"`
	Categories  []CategoryInfo `json:"category_info,omitempty"`
	Allergens   []string       `json:"allergens,omitempty"`
	DietTags    []string       `json:"diet_tags,omitempty"`
	ChefNotes   string         `json:"chef_notes,omitempty"`
	Pairing     string         `json:"pairing,omitempty"`
	IsAvailable bool           `json:"is_available"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type TurnMetadata map[string]any

// ConversationTurn is one append-only entry of a session's conversation,
// ordered by Sequence.
type ConversationTurn struct {
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Sequence  int          `json:"sequence"`
	CreatedAt time.Time    `json:"created_at"`
	Metadata  TurnMetadata `json:"metadata,omitempty"`
}

type ResponseType string

const (
	ResponseText            ResponseType = "text"
	ResponseRecommendations ResponseType = "recommendations"
	ResponseProductDetails  ResponseType = "product_details"
	ResponseClarification   ResponseType = "clarification"
	ResponseError           ResponseType = "error"
)

type RecommendedItem struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Price      float64        `json:"price"`
	Reason     string         `json:"reason"`
	ImageURL   string         `json:"image_url,omitempty"`
	Categories []CategoryInfo `json:"category_info,omitempty"`
}

type ProductDetails struct {
	Item        MenuItemDetails `json:"item"`
	Explanation string          `json:"explanation"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AssistantResponse is a closed tagged union: exactly one payload field is set,
// and Type names which one.
type AssistantResponse struct {
	Type            ResponseType      `json:"type"`
	Text            string            `json:"text,omitempty"`
	Recommendations []RecommendedItem `json:"recommendations,omitempty"`
	ProductDetails  *ProductDetails   `json:"product_details,omitempty"`
	Clarification   string            `json:"clarification,omitempty"`
	Error           *ErrorInfo        `json:"error,omitempty"`
}

func TextResponse(text string) AssistantResponse {
	return AssistantResponse{Type: ResponseText, Text: text}
}

func RecommendationsResponse(items []RecommendedItem) AssistantResponse {
	return AssistantResponse{Type: ResponseRecommendations, Recommendations: items}
}

func ProductDetailsResponse(item MenuItemDetails, explanation string) AssistantResponse {
	return AssistantResponse{Type: ResponseProductDetails, ProductDetails: &ProductDetails{Item: item, Explanation: explanation}}
}

func ClarificationResponse(message string) AssistantResponse {
	return AssistantResponse{Type: ResponseClarification, Clarification: message}
}

func ErrorResponse(code, message string) AssistantResponse {
	return AssistantResponse{Type: ResponseError, Error: &ErrorInfo{Code: code, Message: message}}
}
