package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/data"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/pairing"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/ratelimit"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/registry"
	"github.com/jkbarger3969/foodie-meal-planner-sub000/internal/syncstate"
)

// memRegistry is an in-memory registry.Store for tests.
type memRegistry struct {
	mu      sync.Mutex
	devices map[string]*registry.Device
}

func newMemRegistry() *memRegistry {
	return &memRegistry{devices: make(map[string]*registry.Device)}
}

func (m *memRegistry) Get(id string) (*registry.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (m *memRegistry) Upsert(d *registry.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.devices[d.ID] = &cp
	return nil
}

func (m *memRegistry) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, id)
	return nil
}

func (m *memRegistry) List() ([]*registry.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*registry.Device, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PairedAt.Before(out[j].PairedAt) })
	return out, nil
}

func (m *memRegistry) Touch(id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return registry.ErrDeviceNotFound
	}
	d.LastSeen = t
	return nil
}

// fakeData is a scriptable data.Service.
type fakeData struct {
	mu        sync.Mutex
	items     []data.ShoppingItem
	version   int64
	plans     map[string][]data.MealPlanEntry
	recipes   map[string]*data.Recipe
	purchases []data.PurchaseEvent
	pantry    []data.PantryItemInput
	summary   data.ChangeSummary
}

func newFakeData() *fakeData {
	return &fakeData{
		plans:   make(map[string][]data.MealPlanEntry),
		recipes: make(map[string]*data.Recipe),
	}
}

func (f *fakeData) ShoppingList(ctx context.Context) (*data.ShoppingListSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]data.ShoppingItem, len(f.items))
	copy(items, f.items)
	return &data.ShoppingListSnapshot{Items: items, Version: f.version}, nil
}

func (f *fakeData) ApplyShoppingChanges(ctx context.Context, changes []data.ShoppingChange) (data.ChangeSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, nil
}

func (f *fakeData) SetItemPurchased(ctx context.Context, ev data.PurchaseEvent, purchased bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchases = append(f.purchases, ev)
	return nil
}

func (f *fakeData) AddPantryItem(ctx context.Context, item data.PantryItemInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pantry = append(f.pantry, item)
	return nil
}

func (f *fakeData) MealPlan(ctx context.Context, date string) ([]data.MealPlanEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plans[date], nil
}

func (f *fakeData) Recipe(ctx context.Context, id string) (*data.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recipes[id], nil
}

type testEnv struct {
	server   *Server
	httpSrv  *httptest.Server
	registry *memRegistry
	dataSvc  *fakeData
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	reg := newMemRegistry()
	svc := newFakeData()

	cfg := Config{
		Registry:       reg,
		Challenge:      pairing.New(),
		Limiter:        ratelimit.New(100, time.Minute),
		Tracker:        syncstate.New(),
		DataService:    svc,
		PairingTimeout: 2 * time.Second,
		BatchDelay:     40 * time.Millisecond,
		PingInterval:   time.Minute,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hs := httptest.NewServer(s.createMux())
	t.Cleanup(func() {
		s.Stop()
		hs.Close()
	})

	return &testEnv{server: s, httpSrv: hs, registry: reg, dataSvc: svc}
}

func (e *testEnv) dial(t *testing.T, deviceID, deviceType, deviceName string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.httpSrv.URL, "http") + "/ws"
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	if deviceType != "" {
		q.Set("device_type", deviceType)
	}
	if deviceName != "" {
		q.Set("device_name", deviceName)
	}
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	return m
}

func expectType(t *testing.T, frame map[string]any, want string) {
	t.Helper()
	if got, _ := frame["type"].(string); got != want {
		t.Fatalf("frame type = %q, want %q (frame: %v)", frame["type"], want, frame)
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, within time.Duration) {
	t.Helper()
	// Wait on the raw network connection: a read timeout through the
	// websocket reader poisons it for all later reads.
	raw := conn.NetConn()
	raw.SetReadDeadline(time.Now().Add(within))
	var b [1]byte
	if n, err := raw.Read(b[:]); err == nil && n > 0 {
		t.Fatal("expected silence, got data on the wire")
	}
	raw.SetReadDeadline(time.Time{})
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("send: %v", err)
	}
}

// pairDevice runs the full pairing handshake for a fresh connection and
// returns the authenticated conn.
func pairDevice(t *testing.T, e *testEnv, deviceID, deviceType, name string) *websocket.Conn {
	t.Helper()
	conn := e.dial(t, deviceID, deviceType, name)
	expectType(t, readFrame(t, conn), "pairing_required")

	code, err := e.server.challenge.Code()
	if err != nil {
		t.Fatalf("challenge code: %v", err)
	}
	sendJSON(t, conn, map[string]string{"type": "pair", "code": code, "deviceName": name})
	frame := readFrame(t, conn)
	expectType(t, frame, "paired")
	if frame["success"] != true {
		t.Fatalf("paired frame not successful: %v", frame)
	}
	return conn
}

func TestPairingFlow(t *testing.T) {
	e := newTestEnv(t, nil)

	conn := e.dial(t, "phone-1", "phone", "Kitchen Phone")
	frame := readFrame(t, conn)
	expectType(t, frame, "pairing_required")
	if _, ok := frame["timestamp"].(string); !ok {
		t.Fatalf("frame missing timestamp: %v", frame)
	}

	// Wrong code leaves the device untrusted and unrecorded.
	sendJSON(t, conn, map[string]string{"type": "pair", "code": "000000"})
	expectType(t, readFrame(t, conn), "pairing_failed")
	if d, _ := e.registry.Get("phone-1"); d != nil {
		t.Fatal("failed pairing must not create a registry record")
	}

	// Correct code pairs and persists.
	code, _ := e.server.challenge.Code()
	sendJSON(t, conn, map[string]string{"type": "pair", "code": code, "deviceName": "Kitchen Phone"})
	frame = readFrame(t, conn)
	expectType(t, frame, "paired")
	if frame["deviceId"] != "phone-1" {
		t.Fatalf("paired deviceId = %v", frame["deviceId"])
	}

	d, err := e.registry.Get("phone-1")
	if err != nil || d == nil {
		t.Fatalf("registry record missing after pairing: %v", err)
	}
	if d.Name != "Kitchen Phone" || d.Type != registry.DeviceTypePhone {
		t.Fatalf("unexpected record: %+v", d)
	}
	if d.PairedAt.IsZero() || d.LastSeen.IsZero() {
		t.Fatalf("timestamps not set: %+v", d)
	}
}

func TestTrustedDeviceSkipsPairing(t *testing.T) {
	e := newTestEnv(t, nil)
	e.registry.Upsert(&registry.Device{
		ID: "tab-1", Name: "Tablet", Type: registry.DeviceTypeTablet,
		PairedAt: time.Now().Add(-time.Hour), LastSeen: time.Now().Add(-time.Hour),
	})

	conn := e.dial(t, "tab-1", "tablet", "Tablet")
	frame := readFrame(t, conn)
	expectType(t, frame, "connected")
	if frame["deviceId"] != "tab-1" {
		t.Fatalf("connected deviceId = %v", frame["deviceId"])
	}

	// Requests work immediately, no code prompt.
	sendJSON(t, conn, map[string]string{"type": "request_shopping_list"})
	expectType(t, readFrame(t, conn), "shopping_list")

	d, _ := e.registry.Get("tab-1")
	if time.Since(d.LastSeen) > time.Minute {
		t.Fatalf("LastSeen not refreshed on reconnect: %v", d.LastSeen)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	e := newTestEnv(t, nil)

	conn := e.dial(t, "stranger", "phone", "")
	expectType(t, readFrame(t, conn), "pairing_required")

	sendJSON(t, conn, map[string]string{"type": "request_shopping_list"})
	frame := readFrame(t, conn)
	expectType(t, frame, "error")
	if frame["error"] != "auth.required" {
		t.Fatalf("error code = %v, want auth.required", frame["error"])
	}

	// Ping bypasses the gate even while untrusted.
	sendJSON(t, conn, map[string]string{"type": "ping"})
	expectType(t, readFrame(t, conn), "pong")
}

func TestPairingTimeoutClosesSession(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.PairingTimeout = 150 * time.Millisecond })

	conn := e.dial(t, "slow-1", "phone", "")
	expectType(t, readFrame(t, conn), "pairing_required")
	expectType(t, readFrame(t, conn), "pairing_timeout")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if d, _ := e.registry.Get("slow-1"); d != nil {
		t.Fatal("timed-out device must not be recorded")
	}
}

func TestMalformedFrameIgnored(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := pairDevice(t, e, "p1", "phone", "P1")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Logged and dropped, no error frame, session stays up.
	expectNoFrame(t, conn, 250*time.Millisecond)

	sendJSON(t, conn, map[string]string{"type": "ping"})
	expectType(t, readFrame(t, conn), "pong")
}

func TestUnknownTypeIgnored(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := pairDevice(t, e, "p1", "phone", "P1")

	sendJSON(t, conn, map[string]string{"type": "definitely_not_a_thing"})
	expectNoFrame(t, conn, 200*time.Millisecond)
}

func TestRateLimitSilentDrop(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.Limiter = ratelimit.New(2, time.Minute) })
	conn := pairDevice(t, e, "flood-1", "phone", "Flood")

	for i := 0; i < 5; i++ {
		sendJSON(t, conn, map[string]string{"type": "request_shopping_list"})
	}
	expectType(t, readFrame(t, conn), "shopping_list")
	expectType(t, readFrame(t, conn), "shopping_list")
	// The rest vanish: no responses, no error frames.
	expectNoFrame(t, conn, 250*time.Millisecond)

	// Ping still answers while the window is exhausted.
	sendJSON(t, conn, map[string]string{"type": "ping"})
	expectType(t, readFrame(t, conn), "pong")
}

func TestShoppingListRequest(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{
		{ID: "i1", Name: "milk", Quantity: "2L", Category: "dairy"},
		{ID: "i2", Name: "bread", Quantity: "1", Category: "bakery", IsPurchased: true},
	}
	e.dataSvc.version = 7

	conn := pairDevice(t, e, "p1", "phone", "P1")
	sendJSON(t, conn, map[string]string{"type": "request_shopping_list"})

	frame := readFrame(t, conn)
	expectType(t, frame, "shopping_list")
	if frame["version"] != float64(7) {
		t.Fatalf("version = %v", frame["version"])
	}
	if frame["forceReplace"] != true {
		t.Fatalf("forceReplace = %v", frame["forceReplace"])
	}
	items, _ := frame["data"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %v", frame["data"])
	}
}

func TestMealPlanAndRecipeRequests(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.plans["2026-08-31"] = []data.MealPlanEntry{
		{Date: "2026-08-31", Meal: "dinner", RecipeID: "r1", Title: "Chili", Servings: 4},
	}
	e.dataSvc.recipes["r1"] = &data.Recipe{ID: "r1", Title: "Chili", Servings: 4}

	conn := pairDevice(t, e, "p1", "phone", "P1")

	sendJSON(t, conn, map[string]string{"type": "request_meal_plan", "date": "2026-08-31"})
	frame := readFrame(t, conn)
	expectType(t, frame, "meal_plan")
	if frame["date"] != "2026-08-31" {
		t.Fatalf("date = %v", frame["date"])
	}

	sendJSON(t, conn, map[string]string{"type": "request_recipe", "recipeId": "r1"})
	frame = readFrame(t, conn)
	expectType(t, frame, "recipe")

	sendJSON(t, conn, map[string]string{"type": "request_recipe", "recipeId": "nope"})
	frame = readFrame(t, conn)
	expectType(t, frame, "error")
	if frame["error"] != "data.not_found" {
		t.Fatalf("error code = %v", frame["error"])
	}
}

func TestSyncChangesConfirmed(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.summary = data.ChangeSummary{Updated: 2, Added: 1, Deleted: 1}

	conn := pairDevice(t, e, "p1", "phone", "P1")
	purchased := true
	sendJSON(t, conn, map[string]any{
		"type": "sync_changes",
		"changes": []data.ShoppingChange{
			{ID: "i1", IsPurchased: &purchased},
		},
	})

	frame := readFrame(t, conn)
	expectType(t, frame, "sync_confirmed")
	summary, _ := frame["data"].(map[string]any)
	if summary["updated"] != float64(2) || summary["added"] != float64(1) || summary["deleted"] != float64(1) {
		t.Fatalf("summary = %v", summary)
	}
}

func TestPurchaseAndPantrySilentOnSuccess(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := pairDevice(t, e, "p1", "phone", "P1")

	sendJSON(t, conn, map[string]any{
		"type": "item_purchased", "ingredient": "milk", "qty": 2.0, "unit": "L", "itemId": "i1",
	})
	sendJSON(t, conn, map[string]any{
		"type": "add_pantry_item", "data": map[string]any{"name": "rice", "qtyNum": 1.0, "unit": "kg"},
	})
	expectNoFrame(t, conn, 250*time.Millisecond)

	e.dataSvc.mu.Lock()
	defer e.dataSvc.mu.Unlock()
	if len(e.dataSvc.purchases) != 1 || e.dataSvc.purchases[0].Ingredient != "milk" {
		t.Fatalf("purchases = %+v", e.dataSvc.purchases)
	}
	if len(e.dataSvc.pantry) != 1 || e.dataSvc.pantry[0].Name != "rice" {
		t.Fatalf("pantry = %+v", e.dataSvc.pantry)
	}
}

func TestPushSingleFrameUnwrapped(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	conn := pairDevice(t, e, "p1", "phone", "P1")

	queued, err := e.server.PushShoppingList(context.Background(), TargetAll)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d", queued)
	}

	frame := readFrame(t, conn)
	expectType(t, frame, "shopping_list_update")
}

func TestPushCoalescesIntoBatch(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.BatchDelay = 200 * time.Millisecond })
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	e.dataSvc.plans["2026-09-01"] = []data.MealPlanEntry{{Date: "2026-09-01", Meal: "lunch", Title: "Soup"}}
	conn := pairDevice(t, e, "p1", "phone", "P1")

	ctx := context.Background()
	if _, err := e.server.PushShoppingList(ctx, TargetAll); err != nil {
		t.Fatalf("push list: %v", err)
	}
	if _, err := e.server.PushMealPlan(ctx, "2026-09-01", TargetAll); err != nil {
		t.Fatalf("push plan: %v", err)
	}

	frame := readFrame(t, conn)
	expectType(t, frame, "batch")
	msgs, _ := frame["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("batch size = %d, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	second, _ := msgs[1].(map[string]any)
	if first["type"] != "shopping_list_update" || second["type"] != "meal_plan" {
		t.Fatalf("batch order = %v, %v", first["type"], second["type"])
	}
}

func TestPushSuppressedWhenUnchanged(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	conn := pairDevice(t, e, "p1", "phone", "P1")

	ctx := context.Background()
	if queued, _ := e.server.PushShoppingList(ctx, TargetAll); queued != 1 {
		t.Fatal("first push should queue")
	}
	expectType(t, readFrame(t, conn), "shopping_list_update")

	// Identical list: nothing goes out.
	queued, err := e.server.PushShoppingList(ctx, TargetAll)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if queued != 0 {
		t.Fatalf("unchanged push queued %d", queued)
	}
	expectNoFrame(t, conn, 250*time.Millisecond)

	// A changed list goes out again.
	e.dataSvc.mu.Lock()
	e.dataSvc.items = append(e.dataSvc.items, data.ShoppingItem{ID: "i2", Name: "eggs"})
	e.dataSvc.version = 2
	e.dataSvc.mu.Unlock()
	if queued, _ := e.server.PushShoppingList(ctx, TargetAll); queued != 1 {
		t.Fatal("changed push should queue")
	}
	expectType(t, readFrame(t, conn), "shopping_list_update")
}

func TestPushTargetsDeviceType(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	phone := pairDevice(t, e, "p1", "phone", "Phone")
	tablet := pairDevice(t, e, "t1", "tablet", "Tablet")

	queued, err := e.server.PushShoppingList(context.Background(), registry.DeviceTypeTablet)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if queued != 1 {
		t.Fatalf("queued = %d, want 1", queued)
	}
	expectType(t, readFrame(t, tablet), "shopping_list_update")
	expectNoFrame(t, phone, 250*time.Millisecond)
}

func TestDisconnectDiscardsPendingBatch(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.BatchDelay = 300 * time.Millisecond })
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	conn := pairDevice(t, e, "p1", "phone", "P1")

	if _, err := e.server.PushShoppingList(context.Background(), TargetAll); err != nil {
		t.Fatalf("push: %v", err)
	}
	conn.Close()

	// Give teardown and the (stopped) flush timer time to race.
	time.Sleep(500 * time.Millisecond)
	if n := e.server.batcher.PendingCount("p1"); n != 0 {
		t.Fatalf("pending after disconnect = %d", n)
	}
}

func TestUntrustNotifiesAndDeletes(t *testing.T) {
	e := newTestEnv(t, nil)
	conn := pairDevice(t, e, "p1", "phone", "P1")

	if err := e.server.Untrust("p1"); err != nil {
		t.Fatalf("untrust: %v", err)
	}

	expectType(t, readFrame(t, conn), "unpaired")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	if d, _ := e.registry.Get("p1"); d != nil {
		t.Fatal("registry record survived untrust")
	}

	// The same device can pair again from scratch.
	conn2 := e.dial(t, "p1", "phone", "P1")
	expectType(t, readFrame(t, conn2), "pairing_required")
}

func TestReconnectReplacesStaleSession(t *testing.T) {
	e := newTestEnv(t, nil)
	e.registry.Upsert(&registry.Device{
		ID: "p1", Name: "Phone", Type: registry.DeviceTypePhone,
		PairedAt: time.Now(), LastSeen: time.Now(),
	})

	first := e.dial(t, "p1", "phone", "Phone")
	expectType(t, readFrame(t, first), "connected")

	second := e.dial(t, "p1", "phone", "Phone")
	expectType(t, readFrame(t, second), "connected")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.server.ClientCount() == 1 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := e.server.ClientCount(); n != 1 {
		t.Fatalf("client count after reconnect = %d", n)
	}

	sendJSON(t, second, map[string]string{"type": "ping"})
	expectType(t, readFrame(t, second), "pong")
}

// A push whose only copy dies in a replaced session's discarded batch
// must not stay recorded as delivered: the identical push after the
// replacement has to reach the new session.
func TestReconnectClearsSyncStateWithDiscardedBatch(t *testing.T) {
	e := newTestEnv(t, func(c *Config) { c.BatchDelay = 400 * time.Millisecond })
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	e.registry.Upsert(&registry.Device{
		ID: "p1", Name: "Phone", Type: registry.DeviceTypePhone,
		PairedAt: time.Now(), LastSeen: time.Now(),
	})

	first := e.dial(t, "p1", "phone", "Phone")
	expectType(t, readFrame(t, first), "connected")

	// Queue a push but replace the session before the flush timer fires.
	if queued, err := e.server.PushShoppingList(context.Background(), TargetAll); err != nil || queued != 1 {
		t.Fatalf("first push queued=%d err=%v", queued, err)
	}

	second := e.dial(t, "p1", "phone", "Phone")
	expectType(t, readFrame(t, second), "connected")

	if n := e.server.batcher.PendingCount("p1"); n != 0 {
		t.Fatalf("pending after replacement = %d", n)
	}

	// The list is unchanged, but the old session never delivered it, so
	// the push must go out again.
	queued, err := e.server.PushShoppingList(context.Background(), TargetAll)
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if queued != 1 {
		t.Fatalf("second push queued = %d, want 1", queued)
	}
	expectType(t, readFrame(t, second), "shopping_list_update")
}

func TestReconnectRefreshesNameAndType(t *testing.T) {
	e := newTestEnv(t, nil)
	pairedAt := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	e.registry.Upsert(&registry.Device{
		ID: "p1", Name: "phone", Type: registry.DeviceTypeUnknown,
		PairedAt: pairedAt, LastSeen: pairedAt,
	})

	conn := e.dial(t, "p1", "phone", "Kitchen Phone")
	expectType(t, readFrame(t, conn), "connected")

	d, err := e.registry.Get("p1")
	if err != nil || d == nil {
		t.Fatalf("get: %v", err)
	}
	if d.Name != "Kitchen Phone" {
		t.Fatalf("name not refreshed: %q", d.Name)
	}
	if d.Type != registry.DeviceTypePhone {
		t.Fatalf("type not refreshed: %q", d.Type)
	}
	if !d.PairedAt.Equal(pairedAt) {
		t.Fatalf("PairedAt changed: %v", d.PairedAt)
	}
	if !d.LastSeen.After(pairedAt) {
		t.Fatalf("LastSeen not refreshed: %v", d.LastSeen)
	}
}

func TestReconnectKeepsStoredNameWhenUnreported(t *testing.T) {
	e := newTestEnv(t, nil)
	e.registry.Upsert(&registry.Device{
		ID: "p1", Name: "Kitchen Phone", Type: registry.DeviceTypePhone,
		PairedAt: time.Now(), LastSeen: time.Now(),
	})

	// No device_name, no recognizable type: stored data must survive.
	conn := e.dial(t, "p1", "", "")
	expectType(t, readFrame(t, conn), "connected")

	d, _ := e.registry.Get("p1")
	if d.Name != "Kitchen Phone" || d.Type != registry.DeviceTypePhone {
		t.Fatalf("stored record clobbered: %+v", d)
	}
}

func TestHTTPGenerateCodeRotates(t *testing.T) {
	e := newTestEnv(t, nil)

	before, _ := e.server.challenge.Code()
	resp, err := http.Post(e.httpSrv.URL+"/pair/generate", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["code"]) != pairing.CodeLength {
		t.Fatalf("code = %q", body["code"])
	}
	if body["code"] == before {
		t.Fatal("rotation returned the old code")
	}
	if !e.server.challenge.Verify(body["code"]) {
		t.Fatal("rotated code does not verify")
	}
}

func TestHTTPDevicesAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)
	pairDevice(t, e, "p1", "phone", "Phone")

	resp, err := http.Get(e.httpSrv.URL + "/api/devices")
	if err != nil {
		t.Fatalf("get devices: %v", err)
	}
	defer resp.Body.Close()
	var devices []deviceSummary
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "p1" || !devices[0].Connected {
		t.Fatalf("devices = %+v", devices)
	}

	resp2, err := http.Get(e.httpSrv.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp2.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status["connectedClients"] != float64(1) || status["trustedDevices"] != float64(1) {
		t.Fatalf("status = %v", status)
	}
}

func TestHTTPUntrustEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	pairDevice(t, e, "p1", "phone", "Phone")

	resp, err := http.Post(e.httpSrv.URL+"/api/devices/p1/untrust", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if d, _ := e.registry.Get("p1"); d != nil {
		t.Fatal("record survived untrust endpoint")
	}
}

func TestHTTPPushEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{{ID: "i1", Name: "milk"}}
	conn := pairDevice(t, e, "p1", "phone", "Phone")

	resp, err := http.Post(e.httpSrv.URL+"/api/push/shopping-list", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	expectType(t, readFrame(t, conn), "shopping_list_update")

	resp2, err := http.Post(e.httpSrv.URL+"/api/push/meal-plan?date=not-a-date", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", resp2.StatusCode)
	}
}

// TestEndToEndCompanionFlow walks one device through the whole protocol:
// pair, fetch, edit, purchase, push, untrust.
func TestEndToEndCompanionFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	e.dataSvc.items = []data.ShoppingItem{{ID: "abc123", Name: "olive oil", Quantity: "500ml", Category: "pantry"}}
	e.dataSvc.version = 1
	e.dataSvc.summary = data.ChangeSummary{Updated: 1}

	conn := pairDevice(t, e, "e2e-phone", "phone", "E2E Phone")

	sendJSON(t, conn, map[string]string{"type": "request_shopping_list"})
	frame := readFrame(t, conn)
	expectType(t, frame, "shopping_list")

	purchased := true
	sendJSON(t, conn, map[string]any{
		"type":    "sync_changes",
		"changes": []data.ShoppingChange{{ID: "abc123", IsPurchased: &purchased}},
	})
	expectType(t, readFrame(t, conn), "sync_confirmed")

	sendJSON(t, conn, map[string]any{
		"type": "item_purchased", "ingredient": "olive oil", "qty": 1.0, "unit": "bottle", "itemId": "abc123",
	})
	expectNoFrame(t, conn, 200*time.Millisecond)

	if queued, err := e.server.PushShoppingList(context.Background(), TargetAll); err != nil || queued != 1 {
		t.Fatalf("push queued=%d err=%v", queued, err)
	}
	expectType(t, readFrame(t, conn), "shopping_list_update")

	if err := e.server.Untrust("e2e-phone"); err != nil {
		t.Fatalf("untrust: %v", err)
	}
	expectType(t, readFrame(t, conn), "unpaired")
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New with no deps must fail")
	}
	if !strings.Contains(err.Error(), "Registry") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in   string
		want registry.DeviceType
	}{
		{"", TargetAll},
		{"all", TargetAll},
		{"phone", registry.DeviceTypePhone},
		{"tablet", registry.DeviceTypeTablet},
		{"toaster", registry.DeviceTypeUnknown},
	}
	for _, tc := range cases {
		if got := ParseTarget(tc.in); got != tc.want {
			t.Errorf("ParseTarget(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
