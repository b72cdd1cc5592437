package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/carrier"
	"storefront/internal/checkout"
	"storefront/internal/lock"
	"storefront/internal/logging"
	"storefront/internal/order"
	"storefront/internal/payment"
	"storefront/internal/reconcile"
	"storefront/internal/shipping"
)

type errorResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	TraceID string          `json:"traceId"`
	Details json.RawMessage `json:"details,omitempty"`
}

// writeJSON serializes v as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// statusFor classifies err for the HTTP edge. Upstream rejections carry
// the provider's body as details.
func statusFor(err error) (int, json.RawMessage) {
	var (
		payErr     *payment.APIError
		carrierErr *carrier.APIError
		provErr    *reconcile.ProviderError
	)
	switch {
	case errors.As(err, &carrierErr):
		return http.StatusBadRequest, carrierErr.Body
	case errors.As(err, &provErr):
		if errors.As(err, &payErr) {
			return http.StatusBadRequest, payErr.Body
		}
		return http.StatusBadRequest, nil
	case errors.As(err, &payErr):
		return http.StatusBadRequest, payErr.Body

	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrPaymentNotFound),
		errors.Is(err, order.ErrShipmentNotFound):
		return http.StatusNotFound, nil

	case errors.Is(err, reconcile.ErrMissingPaymentID),
		errors.Is(err, shipping.ErrMissingOrderID),
		errors.Is(err, shipping.ErrMissingCarrier),
		errors.Is(err, shipping.ErrMissingTracking),
		errors.Is(err, shipping.ErrOrderNotPaid),
		errors.Is(err, carrier.ErrUnsupportedCarrier),
		errors.Is(err, carrier.ErrPickupPointRequired),
		errors.Is(err, carrier.ErrIncompleteRecipient),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidEmail),
		errors.Is(err, checkout.ErrInvalidItem),
		errors.Is(err, checkout.ErrMissingRecipient):
		return http.StatusBadRequest, nil

	case errors.Is(err, checkout.ErrOutOfStock),
		errors.Is(err, order.ErrTransitionNotAllowed),
		errors.Is(err, lock.ErrNotAcquired):
		return http.StatusConflict, nil
	}
	return http.StatusInternalServerError, nil
}

// fail logs err with the request's trace id and writes the error body.
// Internal errors are logged at error level, caller errors at warn.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status, details := statusFor(err)
	logger := logging.FromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err, "path", r.URL.Path)
	} else {
		logger.Warn(msg, "error", err, "status", status, "path", r.URL.Path)
	}
	writeJSON(w, status, errorResponse{
		Error:   err.Error(),
		TraceID: logging.TraceID(r.Context()),
		Details: details,
	})
}

func (h *Handlers) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	logging.FromContext(r.Context(), h.logger).Warn("bad request", "reason", msg, "path", r.URL.Path)
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, TraceID: logging.TraceID(r.Context())})
}
