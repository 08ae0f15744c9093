package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/order-payment-saga/internal/model"
	"github.com/jnst/order-payment-saga/internal/service"
)

// OrderHandler serves the order ledger endpoints.
type OrderHandler struct {
	orders service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// RegisterRoutes implements Routes.
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{orderId}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/{orderId}/status", h.GetOrderStatus)
	mux.HandleFunc("GET /api/users/{userId}/orders", h.GetOrdersByUser)
}

// CreateOrder handles POST /api/orders.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var params model.CreateOrderParams
	if err := decodeBody(r, &params); err != nil {
		writeError(w, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), &params)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", "/api/orders/"+order.ID.String())
	writeJSON(w, http.StatusCreated, order)
}

// GetOrder handles GET /api/orders/{orderId}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.lookup(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type orderStatusResponse struct {
	OrderID      uuid.UUID         `json:"orderId"`
	Status       model.OrderStatus `json:"status"`
	StatusReason *string           `json:"statusReason,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// GetOrderStatus handles GET /api/orders/{orderId}/status.
func (h *OrderHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	order, ok := h.lookup(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, orderStatusResponse{
		OrderID:      order.ID,
		Status:       order.Status,
		StatusReason: order.StatusReason,
		UpdatedAt:    order.UpdatedAt,
	})
}

// GetOrdersByUser handles GET /api/users/{userId}/orders.
func (h *OrderHandler) GetOrdersByUser(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.GetOrdersByUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}

	if orders == nil {
		orders = []*model.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) lookup(w http.ResponseWriter, r *http.Request) (*model.Order, bool) {
	id, err := uuid.Parse(r.PathValue("orderId"))
	if err != nil {
		writeError(w, errInvalidID)
		return nil, false
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}

	return order, true
}
