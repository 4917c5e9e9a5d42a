package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/syncstate"
)

// TargetAll addresses a push at every connected device regardless of type.
const TargetAll registry.DeviceType = "all"

// ParseTarget maps a target string onto the push addressing set.
// Empty and "all" address everything; anything else narrows by device type.
func ParseTarget(s string) registry.DeviceType {
	if s == "" || s == string(TargetAll) {
		return TargetAll
	}
	return registry.ParseDeviceType(s)
}

// PushShoppingList pushes the current shopping list to the targeted
// authenticated devices. Devices whose last-sent copy already matches are
// skipped; the rest get the frame through the outbound batcher.
// Returns the number of devices the push was queued for.
func (s *Server) PushShoppingList(ctx context.Context, target registry.DeviceType) (int, error) {
	snap, err := s.dataService.ShoppingList(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch shopping list: %w", err)
	}

	// The hash covers only the payload, never the timestamp, so an
	// unchanged list hashes identically across pushes.
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode shopping list: %w", err)
	}

	queued := 0
	for _, c := range s.authenticatedClients(target) {
		if !s.tracker.ShouldSend(c.deviceID, syncstate.KindShoppingList, payload) {
			log.Printf("server: shopping list unchanged for device %s, skipping", c.deviceID)
			continue
		}
		s.batcher.Enqueue(c.deviceID, marshalFrame(shoppingListFrame{
			baseFrame:    s.newBase(MessageTypeShoppingListUpdate),
			Data:         snap.Items,
			Version:      snap.Version,
			ForceReplace: true,
		}))
		queued++
	}

	log.Printf("server: shopping list push queued for %d device(s)", queued)
	return queued, nil
}

// PushMealPlan pushes one day's meal plan to the targeted authenticated
// devices, with the same differential suppression as shopping-list pushes.
func (s *Server) PushMealPlan(ctx context.Context, date string, target registry.DeviceType) (int, error) {
	entries, err := s.dataService.MealPlan(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("fetch meal plan: %w", err)
	}

	payload, err := json.Marshal(struct {
		Date    string      `json:"date"`
		Entries interface{} `json:"entries"`
	}{date, entries})
	if err != nil {
		return 0, fmt.Errorf("encode meal plan: %w", err)
	}

	queued := 0
	for _, c := range s.authenticatedClients(target) {
		if !s.tracker.ShouldSend(c.deviceID, syncstate.KindMealPlan, payload) {
			log.Printf("server: meal plan %s unchanged for device %s, skipping", date, c.deviceID)
			continue
		}
		s.batcher.Enqueue(c.deviceID, marshalFrame(mealPlanFrame{
			baseFrame: s.newBase(MessageTypeMealPlan),
			Date:      date,
			Data:      entries,
		}))
		queued++
	}

	log.Printf("server: meal plan push for %s queued for %d device(s)", date, queued)
	return queued, nil
}
