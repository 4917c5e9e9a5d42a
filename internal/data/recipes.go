package data

// recipes.go contains SQLiteStore methods for recipes and the meal plan.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Recipe returns a recipe by id. Returns nil, nil if it does not exist.
func (s *SQLiteStore) Recipe(ctx context.Context, id string) (*Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, title, servings, prep_minutes, steps
		FROM recipes
		WHERE id = ?
	`

	var (
		r        Recipe
		stepsRaw string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Title, &r.Servings, &r.PrepMinutes, &stepsRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}

	if err := json.Unmarshal([]byte(stepsRaw), &r.Steps); err != nil {
		return nil, fmt.Errorf("parse recipe steps: %w", err)
	}

	const ingQuery = `
		SELECT name, qty, unit
		FROM recipe_ingredients
		WHERE recipe_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, ingQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query recipe ingredients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ing RecipeIngredient
		if err := rows.Scan(&ing.Name, &ing.Qty, &ing.Unit); err != nil {
			return nil, fmt.Errorf("scan recipe ingredient: %w", err)
		}
		r.Ingredients = append(r.Ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipe ingredients: %w", err)
	}

	return &r, nil
}

// SaveRecipe persists a recipe and its ingredients, replacing any existing
// recipe with the same id. Used by the host application side, not by
// companion devices.
func (s *SQLiteStore) SaveRecipe(ctx context.Context, r *Recipe) error {
	if r == nil {
		return errors.New("recipe cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recipe tx: %w", err)
	}
	defer tx.Rollback()

	steps := r.Steps
	if steps == nil {
		steps = []string{}
	}
	stepsRaw, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode recipe steps: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO recipes (id, title, servings, prep_minutes, steps)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Servings, r.PrepMinutes, string(stepsRaw),
	)
	if err != nil {
		return fmt.Errorf("save recipe: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM recipe_ingredients WHERE recipe_id = ?", r.ID); err != nil {
		return fmt.Errorf("clear recipe ingredients: %w", err)
	}
	for i, ing := range r.Ingredients {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, position, name, qty, unit)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, i, ing.Name, ing.Qty, ing.Unit,
		)
		if err != nil {
			return fmt.Errorf("save recipe ingredient: %w", err)
		}
	}

	return tx.Commit()
}

// MealPlan returns the meal assignments for a calendar date (YYYY-MM-DD),
// joined with recipe titles. An unplanned date is an empty slice, not an
// error.
func (s *SQLiteStore) MealPlan(ctx context.Context, date string) ([]MealPlanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT mp.date, mp.meal, mp.recipe_id, COALESCE(r.title, ''), mp.servings
		FROM meal_plan mp
		LEFT JOIN recipes r ON r.id = mp.recipe_id
		WHERE mp.date = ?
		ORDER BY mp.meal
	`

	rows, err := s.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query meal plan: %w", err)
	}
	defer rows.Close()

	entries := []MealPlanEntry{}
	for rows.Next() {
		var e MealPlanEntry
		if err := rows.Scan(&e.Date, &e.Meal, &e.RecipeID, &e.Title, &e.Servings); err != nil {
			return nil, fmt.Errorf("scan meal plan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meal plan: %w", err)
	}

	return entries, nil
}

// SetMealPlanEntry assigns a recipe to a date and meal slot, replacing any
// existing assignment. Used by the host application side.
func (s *SQLiteStore) SetMealPlanEntry(ctx context.Context, e MealPlanEntry) error {
	if _, err := time.Parse("2006-01-02", e.Date); err != nil {
		return fmt.Errorf("invalid meal plan date %q: %w", e.Date, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT OR REPLACE INTO meal_plan (date, meal, recipe_id, servings)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, e.Date, e.Meal, e.RecipeID, e.Servings)
	if err != nil {
		return fmt.Errorf("save meal plan entry: %w", err)
	}
	return nil
}
