package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

type HTTPHandler struct {
	adjustments *service.AdjustmentService
	ledger      *service.LedgerService
	orders      *service.OrderService
	variants    port.VariantRepository
	orderRepo   port.OrderRepository
	cache       port.CacheRepository
	logger      *zap.Logger
}

func NewHTTPHandler(
	adjustments *service.AdjustmentService,
	ledger *service.LedgerService,
	orders *service.OrderService,
	variants port.VariantRepository,
	orderRepo port.OrderRepository,
	cache port.CacheRepository,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		adjustments: adjustments,
		ledger:      ledger,
		orders:      orders,
		variants:    variants,
		orderRepo:   orderRepo,
		cache:       cache,
		logger:      logger.Named("http"),
	}
}

// Register wires every route onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/stock/update", h.UpdateStock)
	mux.HandleFunc("GET /api/variants/{id}", h.GetVariant)
	mux.HandleFunc("GET /api/variants/{id}/movements", h.ListMovements)
	mux.HandleFunc("POST /api/variants", h.CreateVariant)
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("POST /api/orders/{id}/transition", h.TransitionOrder)
	mux.HandleFunc("GET /health", h.HealthCheck)
}

type stockUpdateItem struct {
	ItemID         string `json:"itemId"`
	StockOnHand    int    `json:"stockOnHand"`
	TrackInventory *bool  `json:"trackInventory,omitempty"`
}

type stockUpdateRequest struct {
	Items []stockUpdateItem `json:"items"`
}

type stockUpdateResult struct {
	ItemID  string `json:"itemId"`
	Success bool   `json:"success"`
	OnHand  int    `json:"onHand"`
	Delta   int    `json:"delta"`
	Message string `json:"message,omitempty"`
}

type stockUpdateResponse struct {
	Results []stockUpdateResult `json:"results"`
}

// UpdateStock maps to updateStockOnHand: one entry per item, each item its
// own unit of work. A single-item request surfaces its error as the HTTP
// status; a batch always answers 200 with per-item outcomes.
func (h *HTTPHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req stockUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}

	reqs := make([]service.AdjustmentRequest, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ItemID == "" {
			writeError(w, http.StatusBadRequest, "itemId is required")
			return
		}
		reqs = append(reqs, service.AdjustmentRequest{
			VariantID:      item.ItemID,
			StockOnHand:    item.StockOnHand,
			TrackInventory: item.TrackInventory,
		})
	}

	results := h.adjustments.SetStockOnHandBatch(r.Context(), reqs)

	resp := stockUpdateResponse{Results: make([]stockUpdateResult, 0, len(results))}
	for _, res := range results {
		out := stockUpdateResult{ItemID: res.VariantID, Success: res.Err == nil, OnHand: res.OnHand, Delta: res.Delta}
		if res.Err != nil {
			out.Message = res.Err.Error()
		}
		resp.Results = append(resp.Results, out)
	}

	if len(results) == 1 && results[0].Err != nil {
		writeJSON(w, adjustmentStatus(results[0].Err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func adjustmentStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrNegativeStock):
		return http.StatusBadRequest
	case errors.Is(err, port.ErrVariantNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrInsufficientStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type variantResponse struct {
	ItemID         string `json:"itemId"`
	SKU            string `json:"sku"`
	OnHand         int    `json:"onHand"`
	TrackInventory bool   `json:"trackInventory"`
}

func (h *HTTPHandler) GetVariant(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	v, err := h.variants.GetVariant(r.Context(), id)
	if errors.Is(err, port.ErrVariantNotFound) {
		writeError(w, http.StatusNotFound, "variant not found")
		return
	}
	if err != nil {
		h.logger.Error("get variant failed", zap.String("variant_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	onHand := v.OnHand
	if cached, ok, cerr := h.cache.GetOnHand(r.Context(), id); cerr == nil && ok {
		onHand = cached
	}
	writeJSON(w, http.StatusOK, variantResponse{
		ItemID:         v.ID,
		SKU:            v.SKU,
		OnHand:         onHand,
		TrackInventory: v.TrackInventory,
	})
}

type movementItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Quantity    int       `json:"quantity"`
	OrderLineID *string   `json:"orderLineId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type movementListResponse struct {
	Items      []movementItem `json:"items"`
	TotalItems int            `json:"totalItems"`
}

func (h *HTTPHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	skip := queryInt(r, "skip", 0)
	take := queryInt(r, "take", 0)

	page, err := h.ledger.ListForVariant(r.Context(), id, skip, take)
	if errors.Is(err, port.ErrVariantNotFound) {
		writeError(w, http.StatusNotFound, "variant not found")
		return
	}
	if err != nil {
		h.logger.Error("list movements failed", zap.String("variant_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := movementListResponse{
		Items:      make([]movementItem, 0, len(page.Items)),
		TotalItems: page.TotalItems,
	}
	for _, m := range page.Items {
		resp.Items = append(resp.Items, movementItem{
			ID:          m.ID,
			Kind:        string(m.Kind),
			Quantity:    m.Quantity,
			OrderLineID: m.OrderLineID,
			CreatedAt:   m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type createVariantRequest struct {
	SKU            string `json:"sku"`
	StockOnHand    int    `json:"stockOnHand"`
	TrackInventory bool   `json:"trackInventory"`
}

// CreateVariant is the catalog collaborator's boundary: it registers a
// sellable item so the ledger has something to write against. The initial
// quantity goes through the adjustment path so even seed stock is audited.
func (h *HTTPHandler) CreateVariant(w http.ResponseWriter, r *http.Request) {
	var req createVariantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SKU == "" {
		writeError(w, http.StatusBadRequest, "sku is required")
		return
	}
	if req.StockOnHand < 0 {
		writeError(w, http.StatusBadRequest, service.ErrNegativeStock.Error())
		return
	}

	now := time.Now()
	v := domain.Variant{
		ID:             uuid.New().String(),
		SKU:            req.SKU,
		TrackInventory: req.TrackInventory,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := h.variants.CreateVariant(r.Context(), v); err != nil {
		h.logger.Error("create variant failed", zap.String("sku", req.SKU), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if req.StockOnHand > 0 {
		if _, err := h.adjustments.SetStockOnHand(r.Context(), service.AdjustmentRequest{
			VariantID:   v.ID,
			StockOnHand: req.StockOnHand,
		}); err != nil {
			h.logger.Error("seed stock failed", zap.String("variant_id", v.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusCreated, variantResponse{
		ItemID:         v.ID,
		SKU:            v.SKU,
		OnHand:         req.StockOnHand,
		TrackInventory: v.TrackInventory,
	})
}

type createOrderLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	Lines []createOrderLine `json:"lines"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	State   string `json:"state"`
}

// CreateOrder is the order-placement collaborator's boundary: a new order
// starts in AddingItems with one line per requested variant.
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines must not be empty")
		return
	}
	for _, line := range req.Lines {
		if line.ItemID == "" || line.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "each line needs an itemId and a positive quantity")
			return
		}
	}

	now := time.Now()
	o := domain.Order{
		ID:        uuid.New().String(),
		State:     domain.OrderAddingItems,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, line := range req.Lines {
		o.Lines = append(o.Lines, domain.OrderLine{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			VariantID: line.ItemID,
			Quantity:  line.Quantity,
		})
	}

	if err := h.orderRepo.CreateOrder(r.Context(), o); err != nil {
		h.logger.Error("create order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{OrderID: o.ID, State: string(o.State)})
}

type transitionRequest struct {
	State string `json:"state"`
}

type transitionResponse struct {
	OrderID string `json:"orderId"`
	From    string `json:"from"`
	To      string `json:"to"`
}

func (h *HTTPHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.State == "" {
		writeError(w, http.StatusBadRequest, "state is required")
		return
	}

	ev, err := h.orders.Transition(r.Context(), id, domain.OrderState(req.State))
	if err != nil {
		switch {
		case errors.Is(err, port.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, port.ErrStaleOrderState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("transition failed", zap.String("order_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		OrderID: ev.OrderID,
		From:    string(ev.From),
		To:      string(ev.To),
	})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
