package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/mesa-ai/carta-recs/internal/types"
)

// Lookup tables exposed to name→ID resolution. Anything else is rejected
// before the query is built.
const (
	TableCategories = "categories"
	TableAllergens  = "allergens"
	TableDietTags   = "diet_tags"
)

var lookupTables = map[string]bool{
	TableCategories: true,
	TableAllergens:  true,
	TableDietTags:   true,
}

type Repository interface {
	GetLastConversationTurns(ctx context.Context, sessionID string, n int) ([]types.ConversationTurn, error)
	AddMessage(ctx context.Context, sessionID string, turn types.ConversationTurn) error
	GetCartItems(ctx context.Context, tableAlias string) ([]types.CartItem, error)
	GetMenuItemByID(ctx context.Context, id uuid.UUID) (*types.MenuItemDetails, error)
	GetCategoryNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	ResolveNamesToIDs(ctx context.Context, names []string, table string) (map[string]uuid.UUID, error)
	FilterExistingIDs(ctx context.Context, table string, ids []uuid.UUID) ([]uuid.UUID, error)
	MatchMenuItems(ctx context.Context, embedding []float32, threshold float64, count int, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error)
	FullTextSearch(ctx context.Context, tsQuery string, limit int) ([]types.MenuItemCandidate, error)
	ListNames(ctx context.Context, table string) ([]string, error)
	ListSlotNames(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(dsn string) (Repository, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &postgresRepository{db: pool}, nil
}

func (r *postgresRepository) GetLastConversationTurns(ctx context.Context, sessionID string, n int) ([]types.ConversationTurn, error) {
	query := `
		SELECT role, content, sequence, metadata, created_at
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY sequence DESC
		LIMIT $2;
	`

	rows, err := r.db.Query(ctx, query, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation turns: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var turn types.ConversationTurn
		var metadata []byte
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Sequence, &metadata, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &turn.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode turn metadata: %w", err)
			}
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	// Query returns newest-first; callers expect chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

func (r *postgresRepository) AddMessage(ctx context.Context, sessionID string, turn types.ConversationTurn) error {
	metadata, err := json.Marshal(turn.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode turn metadata: %w", err)
	}

	query := `
		INSERT INTO conversation_messages (session_id, role, content, sequence, metadata)
		VALUES (
			$1, $2, $3,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM conversation_messages WHERE session_id = $1),
			$4
		);
	`

	if _, err := r.db.Exec(ctx, query, sessionID, turn.Role, turn.Content, metadata); err != nil {
		return fmt.Errorf("failed to insert conversation turn: %w", err)
	}

	return nil
}

func (r *postgresRepository) GetCartItems(ctx context.Context, tableAlias string) ([]types.CartItem, error) {
	query := `
		SELECT menu_item_id, quantity
		FROM cart_items
		WHERE table_alias = $1;
	`

	rows, err := r.db.Query(ctx, query, tableAlias)
	if err != nil {
		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	var items []types.CartItem
	for rows.Next() {
		var item types.CartItem
		if err := rows.Scan(&item.MenuItemID, &item.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return items, nil
}

func (r *postgresRepository) GetMenuItemByID(ctx context.Context, id uuid.UUID) (*types.MenuItemDetails, error) {
	query := `
		SELECT
			mi.id,
			mi.name,
			mi.price,
			COALESCE(mi.description, ''),
			COALESCE(mi.image_url, ''),
			COALESCE(mi.chef_notes, ''),
			COALESCE(mi.pairing, ''),
			mi.is_available,
			COALESCE(
				(SELECT array_agg(a.name ORDER BY a.name)
				 FROM menu_item_allergens mia
				 JOIN allergens a ON a.id = mia.allergen_id
				 WHERE mia.menu_item_id = mi.id),
				'{}'
			),
			COALESCE(
				(SELECT array_agg(dt.name ORDER BY dt.name)
				 FROM menu_item_diet_tags midt
				 JOIN diet_tags dt ON dt.id = midt.diet_tag_id
				 WHERE midt.menu_item_id = mi.id),
				'{}'
			)
		FROM menu_items mi
		WHERE mi.id = $1;
	`

	var item types.MenuItemDetails
	err := r.db.QueryRow(ctx, query, id).Scan(
		&item.ID,
		&item.Name,
		&item.Price,
		&item.Description,
		&item.ImageURL,
		&item.ChefNotes,
		&item.Pairing,
		&item.IsAvailable,
		&item.Allergens,
		&item.DietTags,
	)
	if err != nil {
		return nil, types.NewNotFoundError(fmt.Sprintf("menu item %s", id))
	}

	categoryQuery := `
		SELECT c.id, c.name
		FROM menu_item_categories mic
		JOIN categories c ON c.id = mic.category_id
		WHERE mic.menu_item_id = $1
		ORDER BY c.name;
	`

	rows, err := r.db.Query(ctx, categoryQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query item categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info types.CategoryInfo
		if err := rows.Scan(&info.ID, &info.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		item.Categories = append(item.Categories, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &item, nil
}

func (r *postgresRepository) GetCategoryNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string)
	if len(ids) == 0 {
		return names, nil
	}

	query := `SELECT id, name FROM categories WHERE id = ANY($1);`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query category names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan category name: %w", err)
		}
		names[id] = name
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return names, nil
}

func (r *postgresRepository) ResolveNamesToIDs(ctx context.Context, names []string, table string) (map[string]uuid.UUID, error) {
	resolved := make(map[string]uuid.UUID)
	if len(names) == 0 {
		return resolved, nil
	}
	if !lookupTables[table] {
		return nil, fmt.Errorf("unknown lookup table %q", table)
	}

	query := fmt.Sprintf(`SELECT id, lower(name) FROM %s WHERE lower(name) = ANY($1);`, table)

	rows, err := r.db.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve names in %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan resolved name: %w", err)
		}
		resolved[name] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return resolved, nil
}

func (r *postgresRepository) FilterExistingIDs(ctx context.Context, table string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if !lookupTables[table] {
		return nil, fmt.Errorf("unknown lookup table %q", table)
	}

	query := fmt.Sprintf(`SELECT id FROM %s WHERE id = ANY($1);`, table)

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to validate ids in %s: %w", table, err)
	}
	defer rows.Close()

	var existing []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		existing = append(existing, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return existing, nil
}

func (r *postgresRepository) MatchMenuItems(ctx context.Context, embedding []float32, threshold float64, count int, params types.RPCFilterParameters) ([]types.MenuItemCandidate, error) {
	queryVec := pgvector.NewVector(embedding)

	query := `
		SELECT
			mi.id,
			mi.name,
			mi.price,
			COALESCE(mi.description, ''),
			COALESCE(
				(SELECT array_agg(mic.category_id)
				 FROM menu_item_categories mic
				 WHERE mic.menu_item_id = mi.id),
				'{}'
			),
			mi.profit_margin,
			mi.is_recommended,
			mi.is_available,
			1 - (mi.embedding <=> $1) AS similarity
		FROM menu_items mi
		WHERE
			1 - (mi.embedding <=> $1) >= $2
			AND ($4::text IS NULL OR mi.item_type = $4)
			AND ($5::uuid[] IS NULL OR EXISTS (
				SELECT 1 FROM menu_item_categories mic
				WHERE mic.menu_item_id = mi.id AND mic.category_id = ANY($5)
			))
			AND ($6::uuid[] IS NULL OR NOT EXISTS (
				SELECT 1 FROM menu_item_allergens mia
				WHERE mia.menu_item_id = mi.id AND mia.allergen_id = ANY($6)
			))
			AND ($7::uuid[] IS NULL OR (
				SELECT COUNT(*) FROM menu_item_diet_tags midt
				WHERE midt.menu_item_id = mi.id AND midt.diet_tag_id = ANY($7)
			) = cardinality($7))
			AND ($8::boolean IS NULL OR mi.is_vegetarian_base = $8)
			AND ($9::boolean IS NULL OR mi.is_vegan_base = $9)
			AND ($10::boolean IS NULL OR mi.is_gluten_free_base = $10)
			AND ($11::boolean IS NULL OR mi.is_alcoholic = $11)
			AND ($12::numeric IS NULL OR mi.price >= $12)
			AND ($13::numeric IS NULL OR mi.price <= $13)
			AND ($14::numeric IS NULL OR mi.calories >= $14)
			AND ($15::numeric IS NULL OR mi.calories <= $15)
		ORDER BY mi.embedding <=> $1
		LIMIT $3;
	`

	var itemType *string
	if params.ItemType != nil {
		value := string(*params.ItemType)
		itemType = &value
	}

	rows, err := r.db.Query(ctx, query,
		queryVec,
		threshold,
		count,
		itemType,
		emptyToNil(params.CategoryIDs),
		emptyToNil(params.ExcludeAllergenIDs),
		emptyToNil(params.IncludeDietTagIDs),
		params.IsVegetarianBase,
		params.IsVeganBase,
		params.IsGlutenFreeBase,
		params.IsAlcoholic,
		params.PriceMin,
		params.PriceMax,
		params.CaloriesMin,
		params.CaloriesMax,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, true)
}

func (r *postgresRepository) FullTextSearch(ctx context.Context, tsQuery string, limit int) ([]types.MenuItemCandidate, error) {
	query := `
		SELECT
			mi.id,
			mi.name,
			mi.price,
			COALESCE(mi.description, ''),
			COALESCE(
				(SELECT array_agg(mic.category_id)
				 FROM menu_item_categories mic
				 WHERE mic.menu_item_id = mi.id),
				'{}'
			),
			mi.profit_margin,
			mi.is_recommended,
			mi.is_available
		FROM menu_items mi
		WHERE mi.search_text @@ to_tsquery('spanish', $1)
		ORDER BY ts_rank(mi.search_text, to_tsquery('spanish', $1)) DESC
		LIMIT $2;
	`

	rows, err := r.db.Query(ctx, query, tsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute full-text search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, false)
}

func (r *postgresRepository) ListNames(ctx context.Context, table string) ([]string, error) {
	if !lookupTables[table] {
		return nil, fmt.Errorf("unknown lookup table %q", table)
	}

	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name;`, table)
	return r.listNames(ctx, query)
}

func (r *postgresRepository) ListSlotNames(ctx context.Context) ([]string, error) {
	return r.listNames(ctx, `SELECT name FROM slots ORDER BY name;`)
}

func (r *postgresRepository) listNames(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return names, nil
}

func (r *postgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *postgresRepository) Close() error {
	r.db.Close()
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandidates(rows rowScanner, withSimilarity bool) ([]types.MenuItemCandidate, error) {
	var items []types.MenuItemCandidate
	for rows.Next() {
		var item types.MenuItemCandidate
		dest := []any{
			&item.ID,
			&item.Name,
			&item.Price,
			&item.Description,
			&item.CategoryIDs,
			&item.ProfitMargin,
			&item.IsRecommended,
			&item.IsAvailable,
		}
		var similarity float64
		if withSimilarity {
			dest = append(dest, &similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if withSimilarity {
			item.Similarity = &similarity
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return items, nil
}

func emptyToNil(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
