package data

// shopping.go contains SQLiteStore methods for the shared shopping list:
// snapshot reads, device change sets, and purchase state changes.

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// ShoppingList returns the current list and its version.
// Soft-deleted items are excluded; purchased items stay on the list so
// devices can render them struck through.
func (s *SQLiteStore) ShoppingList(ctx context.Context) (*ShoppingListSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, quantity, category, is_purchased, is_manually_added
		FROM shopping_items
		WHERE is_deleted = 0
		ORDER BY category, name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query shopping items: %w", err)
	}
	defer rows.Close()

	snapshot := &ShoppingListSnapshot{Items: []ShoppingItem{}}
	for rows.Next() {
		var item ShoppingItem
		err := rows.Scan(
			&item.ID,
			&item.Name,
			&item.Quantity,
			&item.Category,
			&item.IsPurchased,
			&item.IsManuallyAdded,
		)
		if err != nil {
			return nil, fmt.Errorf("scan shopping item: %w", err)
		}
		snapshot.Items = append(snapshot.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shopping items: %w", err)
	}

	err = s.db.QueryRowContext(ctx, "SELECT version FROM shopping_meta WHERE id = 1").Scan(&snapshot.Version)
	if err != nil {
		return nil, fmt.Errorf("read list version: %w", err)
	}

	return snapshot, nil
}

// ApplyShoppingChanges applies a device's change set in one transaction.
// Known ids are updated or soft-deleted; unknown ids carrying a name are
// inserted as manually-added items. Unknown ids without a name are skipped
// rather than failing the whole set - a device may replay a change for an
// item another device already removed.
func (s *SQLiteStore) ApplyShoppingChanges(ctx context.Context, changes []ShoppingChange) (ChangeSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary ChangeSummary

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return summary, fmt.Errorf("begin changes tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, ch := range changes {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM shopping_items WHERE id = ?)", ch.ID,
		).Scan(&exists)
		if err != nil {
			return ChangeSummary{}, fmt.Errorf("check item %s: %w", ch.ID, err)
		}

		switch {
		case ch.IsDeleted != nil && *ch.IsDeleted:
			if !exists {
				continue
			}
			_, err := tx.ExecContext(ctx,
				"UPDATE shopping_items SET is_deleted = 1, updated_at = ? WHERE id = ?",
				now, ch.ID,
			)
			if err != nil {
				return ChangeSummary{}, fmt.Errorf("delete item %s: %w", ch.ID, err)
			}
			summary.Deleted++

		case exists:
			if err := applyItemUpdate(ctx, tx, ch, now); err != nil {
				return ChangeSummary{}, err
			}
			summary.Updated++

		default:
			if ch.Name == "" {
				// Nothing to create from; likely a replayed change for an
				// item that is already gone.
				log.Printf("data: skipping change for unknown item %s with no name", ch.ID)
				continue
			}
			id := ch.ID
			if id == "" {
				id = uuid.New().String()
			}
			manual := true
			if ch.IsManuallyAdded != nil {
				manual = *ch.IsManuallyAdded
			}
			purchased := ch.IsPurchased != nil && *ch.IsPurchased
			_, err := tx.ExecContext(ctx, `
				INSERT INTO shopping_items
					(id, name, quantity, category, is_purchased, is_manually_added, is_deleted, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
				id, ch.Name, ch.Quantity, ch.Category, purchased, manual, now,
			)
			if err != nil {
				return ChangeSummary{}, fmt.Errorf("insert item %s: %w", id, err)
			}
			summary.Added++
		}
	}

	if summary.Updated+summary.Added+summary.Deleted > 0 {
		if _, err := bumpListVersion(tx); err != nil {
			return ChangeSummary{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return ChangeSummary{}, fmt.Errorf("commit changes: %w", err)
	}

	log.Printf("data: applied change set (updated=%d added=%d deleted=%d)",
		summary.Updated, summary.Added, summary.Deleted)
	return summary, nil
}

// applyItemUpdate updates the fields a change actually carries.
func applyItemUpdate(ctx context.Context, tx *sql.Tx, ch ShoppingChange, now string) error {
	if ch.IsPurchased != nil {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET is_purchased = ?, updated_at = ? WHERE id = ?",
			*ch.IsPurchased, now, ch.ID,
		)
		if err != nil {
			return fmt.Errorf("update purchased %s: %w", ch.ID, err)
		}
	}
	if ch.IsManuallyAdded != nil {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET is_manually_added = ?, updated_at = ? WHERE id = ?",
			*ch.IsManuallyAdded, now, ch.ID,
		)
		if err != nil {
			return fmt.Errorf("update manual flag %s: %w", ch.ID, err)
		}
	}
	if ch.Name != "" {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET name = ?, updated_at = ? WHERE id = ?",
			ch.Name, now, ch.ID,
		)
		if err != nil {
			return fmt.Errorf("update name %s: %w", ch.ID, err)
		}
	}
	if ch.Quantity != "" {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET quantity = ?, updated_at = ? WHERE id = ?",
			ch.Quantity, now, ch.ID,
		)
		if err != nil {
			return fmt.Errorf("update quantity %s: %w", ch.ID, err)
		}
	}
	if ch.Category != "" {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET category = ?, updated_at = ? WHERE id = ?",
			ch.Category, now, ch.ID,
		)
		if err != nil {
			return fmt.Errorf("update category %s: %w", ch.ID, err)
		}
	}
	return nil
}

// SetItemPurchased marks a shopping item purchased or unpurchased and
// adjusts the pantry: a purchase restocks the named ingredient, an
// unpurchase undoes that restock. The item id is optional - a purchase
// reported for an ingredient no longer on the list still adjusts the
// pantry.
func (s *SQLiteStore) SetItemPurchased(ctx context.Context, ev PurchaseEvent, purchased bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purchase tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	if ev.ItemID != "" {
		_, err := tx.ExecContext(ctx,
			"UPDATE shopping_items SET is_purchased = ?, updated_at = ? WHERE id = ?",
			purchased, now, ev.ItemID,
		)
		if err != nil {
			return fmt.Errorf("update item %s: %w", ev.ItemID, err)
		}
	}

	if ev.Ingredient != "" && ev.Qty > 0 {
		delta := ev.Qty
		if !purchased {
			delta = -delta
		}
		if err := adjustPantry(ctx, tx, ev.Ingredient, delta, ev.Unit, now); err != nil {
			return err
		}
	}

	if _, err := bumpListVersion(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase: %w", err)
	}

	log.Printf("data: item %q purchased=%v (qty %.2f %s)", ev.Ingredient, purchased, ev.Qty, ev.Unit)
	return nil
}
