package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/shopsy-backend/internal/order"
)

type PlaceOrderRequest struct {
	ShippingAddress string          `json:"shipping_address" validate:"required"`
	BillingAddress  string          `json:"billing_address,omitempty"`
	PaymentMethod   string          `json:"payment_method" validate:"required,oneof=card cash_on_delivery bank_transfer"`
	DiscountAmount  decimal.Decimal `json:"discount_amount,omitempty"`
}

type UpdateStatusRequest struct {
	Status         string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type PlaceOrderResponse struct {
	OrderID               uuid.UUID       `json:"order_id"`
	OrderNumber           string          `json:"order_number"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	EstimatedDeliveryDate string          `json:"estimated_delivery_date"`
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

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handlePlaceOrder)
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrder)
	router.Post("/orders/{id}/cancel", h.handleCancelOrder)
	router.Put("/orders/{id}/status", h.handleUpdateStatus)
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := buyerIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	var req PlaceOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return
		}
		log.Error().Err(err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "internal validation error")
		return
	}

	result, err := h.svc.PlaceOrder(r.Context(), order.PlaceOrderInput{
		BuyerID:         buyerID,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		DiscountAmount:  req.DiscountAmount,
	})
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, PlaceOrderResponse{
		OrderID:               result.OrderID,
		OrderNumber:           result.OrderNumber,
		TotalAmount:           result.TotalAmount,
		EstimatedDeliveryDate: result.EstimatedDeliveryDate.Format(time.DateOnly),
	})
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := buyerIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	filter := order.ListFilter{
		Page:  queryInt(r, "page", 1),
		Limit: queryInt(r, "limit", 10),
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := order.Status(raw)
		filter.Status = &st
	}

	summaries, err := h.svc.ListOrders(r.Context(), buyerID, filter)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{"orders": summaries})
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := buyerIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.svc.GetOrder(r.Context(), orderID, buyerID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := buyerIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing user identity")
		return
	}

	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if err := h.svc.CancelOrder(r.Context(), orderID, buyerID); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "order cancelled"})
}

func (h *OrderHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req UpdateStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal validation error")
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), orderID, order.Status(req.Status), req.TrackingNumber); err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "order status updated"})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
