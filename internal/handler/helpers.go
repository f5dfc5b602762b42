package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
	"github.com/vasiliy-maslov/storefront-orders/internal/product"
	"github.com/vasiliy-maslov/storefront-orders/internal/user"
)

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	var conflict *order.StockConflictError
	switch {
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrInsufficientPoints),
		errors.Is(err, order.ErrOrderNotCancelable),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrInvalidStatusTransition):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrProductNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, user.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, order.ErrTooManyOpenHolds):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError maps a service error to its status code. Stock
// conflicts get a structured body naming the offending product and the
// quantity still available.
func respondWithServiceError(w http.ResponseWriter, err error) {
	code := mapErrorToStatusCode(err)

	var conflict *order.StockConflictError
	if errors.As(err, &conflict) {
		respondWithJSON(w, code, map[string]interface{}{
			"error":      conflict.Error(),
			"product_id": conflict.ProductID,
			"title":      conflict.Title,
			"requested":  conflict.Requested,
			"available":  conflict.Available,
		})
		return
	}

	if code == http.StatusInternalServerError {
		log.Error().Err(err).Msg("handler: internal error")
		respondWithError(w, code, "internal server error")
		return
	}

	respondWithError(w, code, err.Error())
}
