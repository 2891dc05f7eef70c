package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopfront/apiserver/internal/services"
	"github.com/shopfront/apiserver/types"
)

// OrderHandler provides HTTP handlers for orders.
type OrderHandler struct {
	orderService *services.OrderService
}

func NewOrderHandler(orderService *services.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// OrderRouter registers order routes on the given router. Every route needs
// an authenticated caller.
func OrderRouter(
	r chi.Router,
	orderService *services.OrderService,
	authMiddleware func(http.Handler) http.Handler,
	adminMiddleware func(http.Handler) http.Handler,
) {
	handler := NewOrderHandler(orderService)

	r.Use(authMiddleware)
	r.Get("/", handler.ListOrders)
	r.Post("/", handler.PlaceOrder)
	r.Route("/{orderID}", func(r chi.Router) {
		r.Get("/", handler.GetOrder)
		r.With(adminMiddleware).Put("/status", handler.UpdateOrderStatus)
	})
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	status := types.OrderStatus(strings.TrimSpace(r.URL.Query().Get("status")))

	orders, err := h.orderService.List(r.Context(), identity, status)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch orders")
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	var req services.PlaceOrderInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orderService.Place(r.Context(), identity, req)
	if err != nil {
		writeServiceError(w, r, err, "failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "orderID", "order")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orderService.Get(r.Context(), identity, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatusRequest is the payload of an order status change.
type UpdateStatusRequest struct {
	Status types.OrderStatus `json:"status"`
}

func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())

	id, err := parseUUIDParam(r, "orderID", "order")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orderService.UpdateStatus(r.Context(), identity, id, req.Status)
	if err != nil {
		writeServiceError(w, r, err, "failed to update order")
		return
	}
	writeJSON(w, http.StatusOK, order)
}
