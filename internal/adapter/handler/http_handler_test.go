package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/events"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type testServer struct {
	store  *storage.MemoryAdapter
	orders *service.OrderService
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := storage.NewMemoryAdapter()
	cache := storage.NewMemoryCache()
	logger := zap.NewNop()

	ledger := service.NewLedgerService(store, cache, events.NoopPublisher{}, logger)
	adjust := service.NewAdjustmentService(ledger, store, logger)
	orders := service.NewOrderService(store, 100, logger)

	h := NewHTTPHandler(adjust, ledger, orders, store, store, cache, logger)
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		orders.Close()
	})
	return &testServer{store: store, orders: orders, srv: srv}
}

func (ts *testServer) seedVariant(t *testing.T, id string, onHand int, tracked bool) {
	t.Helper()
	now := time.Now()
	require.NoError(t, ts.store.CreateVariant(t.Context(), domain.Variant{
		ID: id, SKU: "sku-" + id, OnHand: onHand, TrackInventory: tracked,
		CreatedAt: now, UpdatedAt: now,
	}))
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestUpdateStock_SingleItem(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 0, true)

	resp := ts.postJSON(t, "/api/stock/update", map[string]any{
		"items": []map[string]any{{"itemId": "v-1", "stockOnHand": 8}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[stockUpdateResponse](t, resp)
	require.Len(t, body.Results, 1)
	assert.True(t, body.Results[0].Success)
	assert.Equal(t, 8, body.Results[0].OnHand)
	assert.Equal(t, 8, body.Results[0].Delta)
}

func TestUpdateStock_ZeroOnHandSerialized(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 5, true)

	resp := ts.postJSON(t, "/api/stock/update", map[string]any{
		"items": []map[string]any{{"itemId": "v-1", "stockOnHand": 0}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Draining a variant to zero is a legitimate count; the field must
	// survive serialization rather than vanish as an empty value.
	body := decodeJSON[map[string]any](t, resp)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	item, ok := results[0].(map[string]any)
	require.True(t, ok)
	onHand, present := item["onHand"]
	require.True(t, present, "onHand must be serialized even when zero")
	assert.Equal(t, float64(0), onHand)
	delta, present := item["delta"]
	require.True(t, present, "delta must be serialized even when zero")
	assert.Equal(t, float64(-5), delta)
}

func TestUpdateStock_NegativeValueIs400(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 5, true)

	resp := ts.postJSON(t, "/api/stock/update", map[string]any{
		"items": []map[string]any{{"itemId": "v-1", "stockOnHand": -3}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeJSON[stockUpdateResponse](t, resp)
	require.Len(t, body.Results, 1)
	assert.False(t, body.Results[0].Success)
	assert.Equal(t, "stockOnHand cannot be a negative value", body.Results[0].Message)
}

func TestUpdateStock_BatchPartialFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 0, true)
	ts.seedVariant(t, "v-2", 0, true)

	resp := ts.postJSON(t, "/api/stock/update", map[string]any{
		"items": []map[string]any{
			{"itemId": "v-1", "stockOnHand": 5},
			{"itemId": "missing", "stockOnHand": 2},
			{"itemId": "v-2", "stockOnHand": 3},
		},
	})
	// Batch answers 200 with per-item outcomes.
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[stockUpdateResponse](t, resp)
	require.Len(t, body.Results, 3)
	assert.True(t, body.Results[0].Success)
	assert.False(t, body.Results[1].Success)
	assert.True(t, body.Results[2].Success, "a sibling failure must not block later items")
}

func TestListMovements_EmptyHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "fresh", 0, true)

	resp, err := http.Get(ts.srv.URL + "/api/variants/fresh/movements")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[movementListResponse](t, resp)
	assert.Empty(t, body.Items)
	assert.Equal(t, 0, body.TotalItems)
}

func TestListMovements_Pagination(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 0, true)

	for _, qty := range []int{2, 5, 9} {
		resp := ts.postJSON(t, "/api/stock/update", map[string]any{
			"items": []map[string]any{{"itemId": "v-1", "stockOnHand": qty}},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.srv.URL + "/api/variants/v-1/movements?skip=1&take=1")
	require.NoError(t, err)
	body := decodeJSON[movementListResponse](t, resp)
	assert.Equal(t, 3, body.TotalItems)
	require.Len(t, body.Items, 1)
	assert.Equal(t, 3, body.Items[0].Quantity, "2 -> 5 is a +3 adjustment")
	assert.Equal(t, "ADJUSTMENT", body.Items[0].Kind)
}

func TestGetVariant(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 4, true)

	resp, err := http.Get(ts.srv.URL + "/api/variants/v-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON[variantResponse](t, resp)
	assert.Equal(t, "v-1", body.ItemID)
	assert.Equal(t, 4, body.OnHand)
	assert.True(t, body.TrackInventory)

	resp, err = http.Get(ts.srv.URL + "/api/variants/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.seedVariant(t, "v-1", 10, true)

	resp := ts.postJSON(t, "/api/orders", map[string]any{
		"lines": []map[string]any{{"itemId": "v-1", "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[orderResponse](t, resp)
	assert.Equal(t, "AddingItems", created.State)

	transition := func(state string) *http.Response {
		return ts.postJSON(t, fmt.Sprintf("/api/orders/%s/transition", created.OrderID), map[string]string{"state": state})
	}

	resp = transition("ArrangingPayment")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = transition("PaymentSettled")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[transitionResponse](t, resp)
	assert.Equal(t, "ArrangingPayment", body.From)
	assert.Equal(t, "PaymentSettled", body.To)

	// Settlement is a one-way gate.
	resp = transition("AddingItems")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
	resp = transition("PaymentSettled")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateVariant_SeedStockIsAudited(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/variants", map[string]any{
		"sku": "NEW-SKU", "stockOnHand": 6, "trackInventory": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeJSON[variantResponse](t, resp)
	assert.Equal(t, 6, created.OnHand)

	resp, err := http.Get(ts.srv.URL + "/api/variants/" + created.ItemID + "/movements")
	require.NoError(t, err)
	history := decodeJSON[movementListResponse](t, resp)
	require.Equal(t, 1, history.TotalItems, "seed stock goes through the ledger")
	assert.Equal(t, 6, history.Items[0].Quantity)
}
