// Package data defines the Data Service boundary the sync layer calls into.
//
// The sync layer has no opinion on how meal-planning data is computed or
// stored: recipe querying, shopping-list aggregation, and pantry depletion
// heuristics all live behind the Service interface. The package also ships
// a SQLite-backed reference implementation (SQLiteStore) used by the
// standalone daemon and by tests; a host application embedding the sync
// layer supplies its own implementation instead.
package data

import "context"

// ShoppingItem is one entry on the shared shopping list.
type ShoppingItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Quantity        string `json:"quantity"`
	Category        string `json:"category"`
	IsPurchased     bool   `json:"isPurchased"`
	IsManuallyAdded bool   `json:"isManuallyAdded"`
}

// ShoppingListSnapshot is the full current list plus a version counter.
// The version increases on every mutation so clients can discard stale
// snapshots that arrive out of order.
type ShoppingListSnapshot struct {
	Items   []ShoppingItem `json:"items"`
	Version int64          `json:"version"`
}

// ShoppingChange is one entry of a device's sync_changes set. Pointer
// fields distinguish "not included" from an explicit false.
type ShoppingChange struct {
	ID              string `json:"id"`
	IsPurchased     *bool  `json:"isPurchased,omitempty"`
	IsManuallyAdded *bool  `json:"isManuallyAdded,omitempty"`
	IsDeleted       *bool  `json:"isDeleted,omitempty"`
	Name            string `json:"name,omitempty"`
	Quantity        string `json:"quantity,omitempty"`
	Category        string `json:"category,omitempty"`
}

// ChangeSummary reports how a change set was applied.
type ChangeSummary struct {
	Updated int `json:"updated"`
	Added   int `json:"added"`
	Deleted int `json:"deleted"`
}

// PurchaseEvent describes an item_purchased / item_unpurchased message.
// Ingredient, Qty and Unit drive the pantry adjustment; ItemID links the
// event back to a shopping list entry when the device knows it.
type PurchaseEvent struct {
	Ingredient string  `json:"ingredient"`
	Qty        float64 `json:"qty"`
	Unit       string  `json:"unit"`
	ItemID     string  `json:"itemId"`
}

// PantryItemInput carries a device-submitted pantry addition.
type PantryItemInput struct {
	Name     string  `json:"name"`
	QtyText  string  `json:"qtyText"`
	QtyNum   float64 `json:"qtyNum"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	Store    string  `json:"store"`
	Barcode  string  `json:"barcode"`
	Notes    string  `json:"notes"`
}

// MealPlanEntry is one meal assignment on a calendar date.
type MealPlanEntry struct {
	Date     string `json:"date"`
	Meal     string `json:"meal"`
	RecipeID string `json:"recipeId"`
	Title    string `json:"title"`
	Servings int    `json:"servings"`
}

// RecipeIngredient is one ingredient line of a recipe.
type RecipeIngredient struct {
	Name string  `json:"name"`
	Qty  float64 `json:"qty"`
	Unit string  `json:"unit"`
}

// Recipe is a full recipe as served to companion devices.
type Recipe struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Servings    int                `json:"servings"`
	PrepMinutes int                `json:"prepMinutes"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	Steps       []string           `json:"steps"`
}

// Service is the external Data Service the sync layer calls into.
// Implementations must be safe for concurrent use: handlers for different
// devices may call in concurrently, and any transactional discipline
// against lost updates lives here, not in the sync layer.
type Service interface {
	// ShoppingList returns the current list (deleted items excluded) and
	// its version.
	ShoppingList(ctx context.Context) (*ShoppingListSnapshot, error)

	// ApplyShoppingChanges applies a device's change set: known ids are
	// updated or soft-deleted, unknown ids with a name are added.
	ApplyShoppingChanges(ctx context.Context, changes []ShoppingChange) (ChangeSummary, error)

	// SetItemPurchased marks a shopping item purchased or unpurchased and
	// adjusts the pantry accordingly (restock on purchase, undo on
	// unpurchase).
	SetItemPurchased(ctx context.Context, ev PurchaseEvent, purchased bool) error

	// AddPantryItem inserts a device-submitted pantry item.
	AddPantryItem(ctx context.Context, item PantryItemInput) error

	// MealPlan returns the meal assignments for a calendar date
	// (YYYY-MM-DD).
	MealPlan(ctx context.Context, date string) ([]MealPlanEntry, error)

	// Recipe returns a recipe by id, or nil, nil if it does not exist.
	Recipe(ctx context.Context, id string) (*Recipe, error)
}
