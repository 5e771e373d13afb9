package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mesa-ai/carta-recs/internal/orchestrator"
	"github.com/mesa-ai/carta-recs/internal/types"
)

const requestTimeout = 30 * time.Second

type ChatRequest struct {
	SessionID  string `json:"session_id" validate:"required"`
	TableAlias string `json:"table_alias" validate:"required"`
	Message    string `json:"message" validate:"required,max=2000"`
	CategoryID string `json:"category_id,omitempty" validate:"omitempty,uuid"`
}

type ChatHandler struct {
	pipeline *orchestrator.Orchestrator
	validate *validator.Validate
}

func NewChatHandler(pipeline *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{
		pipeline: pipeline,
		validate: validator.New(),
	}
}

func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.validate.Struct(request); err != nil {
		http.Error(w, fmt.Sprintf("Validation error: %v", err), http.StatusBadRequest)
		return
	}

	var categoryID *uuid.UUID
	if request.CategoryID != "" {
		id, err := uuid.Parse(request.CategoryID)
		if err != nil {
			http.Error(w, "Invalid category_id", http.StatusBadRequest)
			return
		}
		categoryID = &id
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	session := orchestrator.Session{ID: request.SessionID, TableAlias: request.TableAlias}
	response := h.pipeline.ProcessUserMessage(ctx, session, request.Message, categoryID)

	status := http.StatusOK
	if response.Type == types.ResponseError {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

func (h *ChatHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.pipeline.Health(ctx); err != nil {
		http.Error(w, "Unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}
