package data

// pantry.go contains SQLiteStore methods for pantry items: device-submitted
// additions and the quantity adjustments driven by purchase events.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// AddPantryItem inserts a device-submitted pantry item.
func (s *SQLiteStore) AddPantryItem(ctx context.Context, item PantryItemInput) error {
	if item.Name == "" {
		return errors.New("pantry item needs a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO pantry_items
			(id, name, qty_text, qty_num, unit, category, store, barcode, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		item.Name,
		item.QtyText,
		item.QtyNum,
		item.Unit,
		item.Category,
		item.Store,
		item.Barcode,
		item.Notes,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert pantry item: %w", err)
	}

	log.Printf("data: added pantry item %q", item.Name)
	return nil
}

// PantryItem is a stored pantry record, as listed by the host CLI.
type PantryItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	QtyText  string  `json:"qtyText"`
	QtyNum   float64 `json:"qtyNum"`
	Unit     string  `json:"unit"`
	Category string  `json:"category"`
	Store    string  `json:"store"`
	Barcode  string  `json:"barcode"`
	Notes    string  `json:"notes"`
}

// ListPantry returns all pantry items ordered by name.
func (s *SQLiteStore) ListPantry(ctx context.Context) ([]PantryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, qty_text, qty_num, unit, category, store, barcode, notes
		FROM pantry_items
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query pantry items: %w", err)
	}
	defer rows.Close()

	var items []PantryItem
	for rows.Next() {
		var it PantryItem
		err := rows.Scan(&it.ID, &it.Name, &it.QtyText, &it.QtyNum, &it.Unit,
			&it.Category, &it.Store, &it.Barcode, &it.Notes)
		if err != nil {
			return nil, fmt.Errorf("scan pantry item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pantry items: %w", err)
	}

	return items, nil
}

// adjustPantry adds delta to the named ingredient's quantity inside the
// given transaction, creating the row on first restock. Quantities never
// go below zero - an unpurchase for more than is stocked just empties the
// entry.
func adjustPantry(ctx context.Context, tx *sql.Tx, name string, delta float64, unit, now string) error {
	var (
		id  string
		qty float64
	)
	err := tx.QueryRowContext(ctx,
		"SELECT id, qty_num FROM pantry_items WHERE name = ? LIMIT 1", name,
	).Scan(&id, &qty)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if delta <= 0 {
			// Nothing stocked to remove; an unpurchase for an unknown
			// ingredient is a no-op.
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pantry_items (id, name, qty_num, unit, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), name, delta, unit, now,
		)
		if err != nil {
			return fmt.Errorf("insert pantry row for %q: %w", name, err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("look up pantry row for %q: %w", name, err)
	}

	qty += delta
	if qty < 0 {
		qty = 0
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE pantry_items SET qty_num = ?, updated_at = ? WHERE id = ?",
		qty, now, id,
	)
	if err != nil {
		return fmt.Errorf("update pantry row for %q: %w", name, err)
	}
	return nil
}
