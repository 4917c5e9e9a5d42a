// Package server provides the WebSocket server for companion devices.
// It owns live connection state, runs the pairing handshake, dispatches
// inbound protocol messages, and pushes meal-planning state out to
// connected phones and tablets.
package server

import (
	"encoding/json"
	"log"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/data"
)

// MessageType identifies the kind of message on the wire.
// The wire protocol is one JSON object per frame; every frame has a "type"
// string and server->device frames additionally carry an RFC 3339
// "timestamp".
//
// The set of inbound kinds is closed: dispatch goes through a handler map
// built in New that covers every kind, so adding or removing a kind is a
// compile-time-checked change, not a stringly-typed switch.
type MessageType string

// Inbound message types (device -> server).
const (
	// MessageTypePair submits a pairing code.
	// Payload: pairPayload. Bypasses authentication and rate limiting.
	MessageTypePair MessageType = "pair"

	// MessageTypePing is a liveness probe, answered with pong.
	// Payload: none. Bypasses authentication and rate limiting.
	MessageTypePing MessageType = "ping"

	// MessageTypeRequestShoppingList asks for the current shopping list.
	// Payload: none.
	MessageTypeRequestShoppingList MessageType = "request_shopping_list"

	// MessageTypeRequestMealPlan asks for one date's meal assignments.
	// Payload: mealPlanRequestPayload.
	MessageTypeRequestMealPlan MessageType = "request_meal_plan"

	// MessageTypeRequestRecipe asks for a full recipe by id.
	// Payload: recipeRequestPayload.
	MessageTypeRequestRecipe MessageType = "request_recipe"

	// MessageTypeSyncChanges pushes a device's shopping list edits back.
	// Payload: syncChangesPayload.
	MessageTypeSyncChanges MessageType = "sync_changes"

	// MessageTypeItemPurchased reports an item bought in the store.
	// Payload: data.PurchaseEvent.
	MessageTypeItemPurchased MessageType = "item_purchased"

	// MessageTypeItemUnpurchased reverses an item_purchased report.
	// Payload: data.PurchaseEvent.
	MessageTypeItemUnpurchased MessageType = "item_unpurchased"

	// MessageTypeAddPantryItem submits a new pantry item.
	// Payload: pantryAddPayload.
	MessageTypeAddPantryItem MessageType = "add_pantry_item"
)

// Outbound message types (server -> device).
const (
	// MessageTypeConnected acknowledges a trusted device's session.
	MessageTypeConnected MessageType = "connected"

	// MessageTypePong answers a ping.
	MessageTypePong MessageType = "pong"

	// MessageTypePairingRequired tells an untrusted device to pair.
	MessageTypePairingRequired MessageType = "pairing_required"

	// MessageTypePaired confirms a successful pairing.
	MessageTypePaired MessageType = "paired"

	// MessageTypePairingFailed rejects a wrong pairing code.
	// The session stays pending and the device may retry.
	MessageTypePairingFailed MessageType = "pairing_failed"

	// MessageTypePairingTimeout is sent just before closing a session
	// that never produced a valid code.
	MessageTypePairingTimeout MessageType = "pairing_timeout"

	// MessageTypeUnpaired notifies a connected device that the host
	// revoked its trust. The transport is closed right after.
	MessageTypeUnpaired MessageType = "unpaired"

	// MessageTypeShoppingList carries the list in reply to a request.
	MessageTypeShoppingList MessageType = "shopping_list"

	// MessageTypeShoppingListUpdate carries a host-initiated list push.
	MessageTypeShoppingListUpdate MessageType = "shopping_list_update"

	// MessageTypeMealPlan carries one date's meal assignments.
	MessageTypeMealPlan MessageType = "meal_plan"

	// MessageTypeRecipe carries a full recipe.
	MessageTypeRecipe MessageType = "recipe"

	// MessageTypeBatch wraps several coalesced outbound frames.
	MessageTypeBatch MessageType = "batch"

	// MessageTypeSyncConfirmed acknowledges an applied sync_changes set.
	MessageTypeSyncConfirmed MessageType = "sync_confirmed"

	// MessageTypeError carries a stable error code plus a human message.
	MessageTypeError MessageType = "error"
)

// Inbound payloads.

// pairPayload is the body of a pair frame.
type pairPayload struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

// mealPlanRequestPayload is the body of a request_meal_plan frame.
type mealPlanRequestPayload struct {
	Date string `json:"date"`
}

// recipeRequestPayload is the body of a request_recipe frame.
type recipeRequestPayload struct {
	RecipeID string `json:"recipeId"`
}

// syncChangesPayload is the body of a sync_changes frame.
type syncChangesPayload struct {
	Changes []data.ShoppingChange `json:"changes"`
}

// pantryAddPayload is the body of an add_pantry_item frame.
type pantryAddPayload struct {
	Data data.PantryItemInput `json:"data"`
}

// Outbound frames. Each frame struct embeds baseFrame so type and
// timestamp appear alongside the payload fields, matching the flat frame
// shape the companion apps expect.

type baseFrame struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

type connectedFrame struct {
	baseFrame
	DeviceID string `json:"deviceId"`
}

type pongFrame struct {
	baseFrame
}

type pairingRequiredFrame struct {
	baseFrame
	Message     string `json:"message"`
	TimeoutSecs int    `json:"timeoutSecs"`
}

type pairedFrame struct {
	baseFrame
	Success  bool   `json:"success"`
	DeviceID string `json:"deviceId"`
}

type pairingFailedFrame struct {
	baseFrame
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type pairingTimeoutFrame struct {
	baseFrame
	Message string `json:"message"`
}

type unpairedFrame struct {
	baseFrame
	Message string `json:"message"`
}

type shoppingListFrame struct {
	baseFrame
	Data         []data.ShoppingItem `json:"data"`
	Version      int64               `json:"version"`
	ForceReplace bool                `json:"forceReplace"`
}

type mealPlanFrame struct {
	baseFrame
	Date string               `json:"date"`
	Data []data.MealPlanEntry `json:"data"`
}

type recipeFrame struct {
	baseFrame
	Data *data.Recipe `json:"data"`
}

type batchFrame struct {
	baseFrame
	Messages []json.RawMessage `json:"messages"`
}

type syncConfirmedFrame struct {
	baseFrame
	Data data.ChangeSummary `json:"data"`
}

type errorFrame struct {
	baseFrame
	Error   string `json:"error"`
	Message string `json:"message"`
}

// marshalFrame serializes an outbound frame. The frame structs contain
// nothing unmarshalable, so a failure here is a programming error; it is
// logged and the frame dropped rather than crashing the dispatcher.
func marshalFrame(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("server: failed to marshal outbound frame: %v", err)
		return nil
	}
	return b
}
