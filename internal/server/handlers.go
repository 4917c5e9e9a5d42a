package server

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/data"
	apperrors "github.com/jkbarger3969/foodie-meal-planner-sub000/internal/errors"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
)

// dataCallTimeout bounds a single Data Service call made on behalf of a
// device request.
const dataCallTimeout = 10 * time.Second

// sendCodedError maps an error to its stable wire code and queues it.
func (c *Client) sendCodedError(err error) {
	code, message := apperrors.ToCodeAndMessage(err)
	c.sendError(code, message)
}

func (c *Client) dataContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dataCallTimeout)
}

// handlePair verifies a submitted pairing code. On success the session
// becomes authenticated and the device gets a durable registry record;
// the code stays valid for other devices until the host rotates it.
func (c *Client) handlePair(raw []byte) {
	if !c.pairLimiter.Allow() {
		log.Printf("server: pairing attempts throttled for %s", c.remoteAddr)
		c.sendError(apperrors.CodeAuthThrottled, "too many pairing attempts, slow down")
		return
	}

	var p pairPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed pair message")
		return
	}

	if !c.server.challenge.Verify(p.Code) {
		log.Printf("server: wrong pairing code from %s (%s)", c.deviceID, c.remoteAddr)
		c.sendFrame(marshalFrame(pairingFailedFrame{
			baseFrame: c.server.newBase(MessageTypePairingFailed),
			Success:   false,
			Message:   "incorrect pairing code",
		}))
		return
	}

	c.cancelPairTimer()
	c.setAuthenticated(true)

	if p.DeviceName != "" {
		c.deviceName = p.DeviceName
	}

	now := c.server.timeNow()
	record := &registry.Device{
		ID:       c.deviceID,
		Name:     c.deviceName,
		Type:     c.deviceType,
		PairedAt: now,
		LastSeen: now,
	}
	// Re-pairing an already known device keeps its original PairedAt.
	if existing, err := c.server.registry.Get(c.deviceID); err == nil && existing != nil {
		record.PairedAt = existing.PairedAt
	}
	if err := c.server.registry.Upsert(record); err != nil {
		log.Printf("server: failed to persist device %s: %v", c.deviceID, err)
	}

	log.Printf("server: device paired: %s (%s)", c.deviceName, c.deviceID)

	c.sendFrame(marshalFrame(pairedFrame{
		baseFrame: c.server.newBase(MessageTypePaired),
		Success:   true,
		DeviceID:  c.deviceID,
	}))
}

func (c *Client) handlePing(raw []byte) {
	c.sendFrame(marshalFrame(pongFrame{
		baseFrame: c.server.newBase(MessageTypePong),
	}))
}

func (c *Client) handleRequestShoppingList(raw []byte) {
	ctx, cancel := c.dataContext()
	defer cancel()

	snap, err := c.server.dataService.ShoppingList(ctx)
	if err != nil {
		log.Printf("server: shopping list fetch for %s failed: %v", c.deviceID, err)
		c.sendCodedError(apperrors.DataUnavailable("shopping list", err))
		return
	}

	c.sendFrame(marshalFrame(shoppingListFrame{
		baseFrame:    c.server.newBase(MessageTypeShoppingList),
		Data:         snap.Items,
		Version:      snap.Version,
		ForceReplace: true,
	}))
}

func (c *Client) handleRequestMealPlan(raw []byte) {
	var p mealPlanRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed meal plan request")
		return
	}
	date := p.Date
	if date == "" {
		date = c.server.timeNow().Format("2006-01-02")
	}

	ctx, cancel := c.dataContext()
	defer cancel()

	entries, err := c.server.dataService.MealPlan(ctx, date)
	if err != nil {
		log.Printf("server: meal plan fetch for %s failed: %v", c.deviceID, err)
		c.sendCodedError(apperrors.DataUnavailable("meal plan", err))
		return
	}

	c.sendFrame(marshalFrame(mealPlanFrame{
		baseFrame: c.server.newBase(MessageTypeMealPlan),
		Date:      date,
		Data:      entries,
	}))
}

func (c *Client) handleRequestRecipe(raw []byte) {
	var p recipeRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.RecipeID == "" {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed recipe request")
		return
	}

	ctx, cancel := c.dataContext()
	defer cancel()

	recipe, err := c.server.dataService.Recipe(ctx, p.RecipeID)
	if err != nil {
		log.Printf("server: recipe fetch %s for %s failed: %v", p.RecipeID, c.deviceID, err)
		c.sendCodedError(apperrors.DataUnavailable("recipe", err))
		return
	}
	if recipe == nil {
		c.sendCodedError(apperrors.NotFound("recipe"))
		return
	}

	c.sendFrame(marshalFrame(recipeFrame{
		baseFrame: c.server.newBase(MessageTypeRecipe),
		Data:      recipe,
	}))
}

// handleSyncChanges applies a device's local shopping-list edits and
// confirms with per-category counts. Other connected devices are not
// notified; they pick the changes up on their next request or push.
func (c *Client) handleSyncChanges(raw []byte) {
	var p syncChangesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed sync message")
		return
	}

	ctx, cancel := c.dataContext()
	defer cancel()

	summary, err := c.server.dataService.ApplyShoppingChanges(ctx, p.Changes)
	if err != nil {
		log.Printf("server: sync from %s failed: %v", c.deviceID, err)
		c.sendCodedError(apperrors.Wrap(apperrors.CodeSyncRejected, "changes could not be applied", err))
		return
	}

	log.Printf("server: synced %d updates, %d adds, %d deletes from %s",
		summary.Updated, summary.Added, summary.Deleted, c.deviceID)

	c.sendFrame(marshalFrame(syncConfirmedFrame{
		baseFrame: c.server.newBase(MessageTypeSyncConfirmed),
		Data:      summary,
	}))
}

func (c *Client) handleItemPurchased(raw []byte) {
	c.applyPurchase(raw, true)
}

func (c *Client) handleItemUnpurchased(raw []byte) {
	c.applyPurchase(raw, false)
}

// applyPurchase toggles an item's purchased state and, through the Data
// Service, adjusts pantry stock. Success is silent; the device already
// applied the change locally and only needs to hear about failures.
func (c *Client) applyPurchase(raw []byte, purchased bool) {
	var ev data.PurchaseEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed purchase message")
		return
	}

	ctx, cancel := c.dataContext()
	defer cancel()

	if err := c.server.dataService.SetItemPurchased(ctx, ev, purchased); err != nil {
		log.Printf("server: purchase update from %s failed: %v", c.deviceID, err)
		c.sendCodedError(apperrors.DataUnavailable("purchase update", err))
	}
}

// handleAddPantryItem records a pantry item scanned or typed on the
// device. Silent on success, like purchases.
func (c *Client) handleAddPantryItem(raw []byte) {
	var p pantryAddPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		c.sendError(apperrors.CodeServerInvalidMessage, "malformed pantry message")
		return
	}

	ctx, cancel := c.dataContext()
	defer cancel()

	if err := c.server.dataService.AddPantryItem(ctx, p.Data); err != nil {
		log.Printf("server: pantry add from %s failed: %v", c.deviceID, err)
		c.sendCodedError(apperrors.DataUnavailable("pantry add", err))
	}
}
