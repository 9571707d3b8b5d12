package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/shopsy-backend/internal/cart"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
	"github.com/vasiliy-maslov/shopsy-backend/internal/order"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError sends a JSON error body.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fmt.Sprintf("failed on the '%s' rule", fe.Tag())
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	var insufficientStock *catalog.InsufficientStockError
	switch {
	case errors.Is(err, order.ErrCartEmpty),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, cart.ErrProductUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, cart.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrOrderNotCancellable),
		errors.Is(err, order.ErrInvalidStatusTransition),
		errors.As(err, &insufficientStock):
		return http.StatusConflict
	case db.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage picks the message safe to show the caller. Insufficient
// stock keeps its detail (product, available, requested) so the buyer can
// adjust the cart; internal errors collapse to a generic message.
func clientMessage(err error) string {
	var insufficientStock *catalog.InsufficientStockError
	switch {
	case errors.As(err, &insufficientStock):
		return insufficientStock.Error()
	case errors.Is(err, order.ErrCartEmpty):
		return "cart is empty"
	case errors.Is(err, order.ErrValidation):
		return err.Error()
	case errors.Is(err, order.ErrOrderNotFound):
		return "order not found"
	case errors.Is(err, catalog.ErrProductNotFound):
		return "product not found"
	case errors.Is(err, cart.ErrItemNotFound):
		return "cart item not found"
	case errors.Is(err, cart.ErrProductUnavailable):
		return "product is not available"
	case errors.Is(err, order.ErrOrderNotCancellable):
		return "order can no longer be cancelled"
	case errors.Is(err, order.ErrInvalidStatusTransition):
		return "invalid status transition"
	case db.IsTransient(err):
		return "store temporarily unavailable, retry the request"
	default:
		return "internal server error"
	}
}

func respondWithServiceError(w http.ResponseWriter, err error) {
	respondWithError(w, mapErrorToStatusCode(err), clientMessage(err))
}
