// Package prompt builds the text blocks consumed by the LLM calls. Everything
// here is pure formatting: no I/O, no state.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mesa-ai/carta-recs/internal/types"
)

const descriptionLimit = 160

// CartLine is a cart entry resolved to a displayable name.
type CartLine struct {
	Name     string
	Quantity int
}

func BuildCartContext(lines []CartLine) string {
	if len(lines) == 0 {
		return "El carrito está vacío."
	}

	var b strings.Builder
	b.WriteString("Carrito actual:\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "- %dx %s\n", line.Quantity, line.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildCandidatesBlock renders the shortlist shown to the recommendation LLM.
// The leading instruction matters: the model must pick from the listed IDs and
// never invent or substitute them.
func BuildCandidatesBlock(items []types.MenuItemCandidate) string {
	if len(items) == 0 {
		return "No hay platos candidatos para esta búsqueda."
	}

	var b strings.Builder
	b.WriteString("=== PLATOS CANDIDATOS ===\n")
	b.WriteString("IMPORTANTE: usa ÚNICAMENTE los IDs listados abajo. ")
	b.WriteString("No inventes ni sustituyas ningún ID.\n\n")

	for i, item := range items {
		fmt.Fprintf(&b, "%d. ID: %s\n", i+1, item.ID)
		fmt.Fprintf(&b, "   Nombre: %s\n", item.Name)
		fmt.Fprintf(&b, "   Precio: %.2f€\n", item.Price)
		if desc := truncate(item.Description, descriptionLimit); desc != "" {
			fmt.Fprintf(&b, "   Descripción: %s\n", desc)
		}
		if len(item.Categories) > 0 {
			names := make([]string, 0, len(item.Categories))
			for _, c := range item.Categories {
				names = append(names, c.Name)
			}
			fmt.Fprintf(&b, "   Categorías: %s\n", strings.Join(names, ", "))
		}
		fmt.Fprintf(&b, "   Características: %s\n", characteristics(item))
	}

	b.WriteString("=== FIN DE CANDIDATOS ===")
	return b.String()
}

// BuildExtractionContext formats the most recent history turns for the filter
// extraction prompt.
func BuildExtractionContext(history []types.ConversationTurn, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	if len(history) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Conversación reciente:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildRecommendationContext assembles the user-visible state (filters, cart,
// candidates) into the single fragment the recommendation call consumes.
func BuildRecommendationContext(filters types.ExtractedFilters, cartContext, candidatesBlock string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Búsqueda del cliente: %s\n", filters.MainQuery)
	if summary := summarizeFilters(filters); summary != "" {
		fmt.Fprintf(&b, "Filtros activos: %s\n", summary)
	}
	b.WriteString("\n")
	b.WriteString(cartContext)
	b.WriteString("\n\n")
	b.WriteString(candidatesBlock)

	return b.String()
}

func summarizeFilters(filters types.ExtractedFilters) string {
	var parts []string
	if filters.ItemType != nil {
		parts = append(parts, fmt.Sprintf("tipo=%s", *filters.ItemType))
	}
	if len(filters.CategoryNames) > 0 {
		parts = append(parts, "categorías="+strings.Join(filters.CategoryNames, "/"))
	}
	if len(filters.ExcludeAllergenNames) > 0 {
		parts = append(parts, "sin alérgenos="+strings.Join(filters.ExcludeAllergenNames, "/"))
	}
	if len(filters.IncludeDietTagNames) > 0 {
		parts = append(parts, "dieta="+strings.Join(filters.IncludeDietTagNames, "/"))
	}
	if filters.IsVegetarianBase != nil && *filters.IsVegetarianBase {
		parts = append(parts, "vegetariano")
	}
	if filters.IsVeganBase != nil && *filters.IsVeganBase {
		parts = append(parts, "vegano")
	}
	if filters.IsGlutenFreeBase != nil && *filters.IsGlutenFreeBase {
		parts = append(parts, "sin gluten")
	}
	if filters.PriceMin != nil {
		parts = append(parts, fmt.Sprintf("precio mínimo %.2f€", *filters.PriceMin))
	}
	if filters.PriceMax != nil {
		parts = append(parts, fmt.Sprintf("precio máximo %.2f€", *filters.PriceMax))
	}
	return strings.Join(parts, ", ")
}

func characteristics(item types.MenuItemCandidate) string {
	var parts []string
	if item.IsRecommended {
		parts = append(parts, "recomendado de la casa")
	}
	if item.Similarity != nil {
		parts = append(parts, fmt.Sprintf("afinidad %.2f", *item.Similarity))
	}
	if len(parts) == 0 {
		return "ninguna destacada"
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
