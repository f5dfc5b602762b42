package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/auth"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

type OrderItemRequest struct {
	ProductID    string  `json:"product_id" validate:"required,uuid4"`
	Quantity     int     `json:"quantity" validate:"required,gt=0"`
	PricePerUnit float64 `json:"price_per_unit" validate:"gte=0"`
	BrandSegment string  `json:"brand_segment,omitempty"`
}

type CreateOrderRequest struct {
	Email          string             `json:"email" validate:"required,email"`
	Items          []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	PointsUsed     int                `json:"points_used" validate:"gte=0"`
	TotalAmount    float64            `json:"total_amount" validate:"gte=0"`
	ShippingFee    float64            `json:"shipping_fee" validate:"gte=0"`
	ShippingMethod string             `json:"shipping_method" validate:"required"`
	Carrier        string             `json:"carrier,omitempty"`
	Address        string             `json:"address,omitempty"`
	PaymentMethod  string             `json:"payment_method,omitempty"`
}

type PickupItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

type CreatePickupRequest struct {
	Email   string              `json:"email" validate:"required,email"`
	Items   []PickupItemRequest `json:"items" validate:"required,min=1,dive"`
	Window  string              `json:"pickup_window,omitempty"`
	Contact string              `json:"contact,omitempty"`
	Notes   string              `json:"notes,omitempty"`
}

type UpdateStatusRequest struct {
	Status       string `json:"status" validate:"required"`
	TrackingCode string `json:"tracking_code,omitempty"`
}

type MarkPaidRequest struct {
	ProofURL string `json:"proof_url,omitempty" validate:"omitempty,url"`
}

type CreateOrderResponse struct {
	Order      *order.Order `json:"order"`
	Discount   float64      `json:"discount"`
	PointsUsed int          `json:"points_used"`
}

type CreatePickupResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	ExpiresAt   time.Time `json:"reservation_expires_at"`
}

type CancelOrderResponse struct {
	OrderID        uuid.UUID `json:"order_id"`
	Status         string    `json:"status"`
	ItemsRestocked int       `json:"items_restocked"`
	ItemsFailed    int       `json:"items_failed"`
}

type ReconcileResponse struct {
	OrdersCanceled int `json:"orders_canceled"`
	ItemsRestocked int `json:"items_restocked"`
}

type OrderHandler struct {
	svc      order.Service
	validate *validator.Validate
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.handleCreateOrder)
	r.Post("/orders/pickup", h.handleCreatePickup)
	r.Get("/orders", h.handleListOwnOrders)
	r.Get("/orders/{id}", h.handleGetOrder)
	r.Put("/orders/{id}/cancel", h.handleCancelOrder)

	r.Group(func(admin chi.Router) {
		admin.Use(auth.RequireAdmin)
		admin.Put("/admin/orders/{id}", h.handleUpdateStatus)
		admin.Patch("/admin/orders/{id}/mark-paid", h.handleMarkPaid)
		admin.Patch("/admin/orders/{id}/mark-picked-up", h.handleMarkPickedUp)
		admin.Post("/admin/orders/cancel-expired-pickups", h.handleCancelExpiredPickups)
		admin.Delete("/admin/orders/{id}", h.handleDeleteOrder)
	})
}

func (h *OrderHandler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid request payload: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "validation failed",
				"details": formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Msg("handler: unexpected validation error type")
			respondWithError(w, http.StatusInternalServerError, "internal validation error")
		}
		return false
	}
	return true
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
	return details
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusForbidden, "authentication required")
		return auth.Identity{}, false
	}
	return id, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.FromString(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	items := make([]order.CreateOrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.FromString(it.ProductID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid product id %q", it.ProductID))
			return
		}
		items = append(items, order.CreateOrderItemInput{
			ProductID:    productID,
			Quantity:     it.Quantity,
			PricePerUnit: it.PricePerUnit,
			BrandSegment: it.BrandSegment,
		})
	}

	input := order.CreateOrderInput{
		UserID:      caller.UserID,
		Email:       req.Email,
		Items:       items,
		PointsUsed:  req.PointsUsed,
		TotalAmount: req.TotalAmount,
		ShippingFee: req.ShippingFee,
		ShippingInfo: order.ShippingInfo{
			Method:  req.ShippingMethod,
			Carrier: req.Carrier,
			Address: req.Address,
			Payment: &order.PaymentInfo{
				Method: req.PaymentMethod,
				Status: order.PaymentStatusPaid,
			},
		},
	}

	result, err := h.svc.CreateOrder(r.Context(), input)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, CreateOrderResponse{
		Order:      result.Order,
		Discount:   result.Discount,
		PointsUsed: result.PointsUsed,
	})
}

func (h *OrderHandler) handleCreatePickup(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req CreatePickupRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	items := make([]order.CreateOrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		productID, err := uuid.FromString(it.ProductID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid product id %q", it.ProductID))
			return
		}
		items = append(items, order.CreateOrderItemInput{
			ProductID: productID,
			Quantity:  it.Quantity,
		})
	}

	result, err := h.svc.CreatePickupOrder(r.Context(), order.CreatePickupInput{
		UserID:  caller.UserID,
		Email:   req.Email,
		Items:   items,
		Window:  req.Window,
		Contact: req.Contact,
		Notes:   req.Notes,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, CreatePickupResponse{
		OrderID:     result.Order.ID,
		Status:      result.Order.Status.String(),
		TotalAmount: result.Order.TotalAmount,
		ExpiresAt:   result.ExpiresAt,
	})
}

func (h *OrderHandler) handleListOwnOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	filter := order.ListFilter{}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := order.OrderStatus(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	orders, err := h.svc.GetOrdersByUserID(r.Context(), caller.UserID, filter)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrderByID(r.Context(), caller, orderID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	result, err := h.svc.CancelOrder(r.Context(), caller, orderID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, CancelOrderResponse{
		OrderID:        result.Order.ID,
		Status:         result.Order.Status.String(),
		ItemsRestocked: result.ItemsRestocked,
		ItemsFailed:    result.ItemsFailed,
	})
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.svc.SetOrderStatus(r.Context(), orderID, order.OrderStatus(req.Status), req.TrackingCode)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"order_id": orderID.String(), "status": req.Status})
}

func (h *OrderHandler) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req MarkPaidRequest
	if r.ContentLength > 0 {
		if !h.decodeAndValidate(w, r, &req) {
			return
		}
	}

	if err := h.svc.MarkPaid(r.Context(), orderID, req.ProofURL); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"order_id": orderID.String(), "payment_status": order.PaymentStatusPaid})
}

func (h *OrderHandler) handleMarkPickedUp(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.MarkPickedUp(r.Context(), orderID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"order_id": orderID.String(), "status": order.StatusPickedUp.String()})
}

func (h *OrderHandler) handleCancelExpiredPickups(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.CancelExpiredPickups(r.Context())
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ReconcileResponse{
		OrdersCanceled: result.OrdersCanceled,
		ItemsRestocked: result.ItemsRestocked,
	})
}

func (h *OrderHandler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteOrder(r.Context(), orderID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
