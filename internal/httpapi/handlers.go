package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"storefront/internal/checkout"
	"storefront/internal/logging"
	"storefront/internal/reconcile"
	"storefront/internal/shipping"
)

const maxBodyBytes = 1 << 20

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

// BarionWebhook handles POST /webhooks/barion. Barion posts the payment id
// as a form field; JSON bodies with PaymentId are accepted as well.
func (h *Handlers) BarionWebhook(w http.ResponseWriter, r *http.Request) {
	n, err := parseNotification(w, r)
	if err != nil {
		h.badRequest(w, r, err.Error())
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), n)
	if err != nil {
		h.fail(w, r, "webhook processing failed", err)
		return
	}
	if res.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "already processed",
			"eventId": res.EventID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"paymentStatus": res.PaymentStatus,
		"orderStatus":   res.OrderStatus,
	})
}

func parseNotification(w http.ResponseWriter, r *http.Request) (reconcile.Notification, error) {
	body, err := readBody(w, r)
	if err != nil {
		return reconcile.Notification{}, errors.New("cannot read body")
	}
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return reconcile.Notification{}, errors.New("invalid form body")
		}
		id := values.Get("paymentId")
		if id == "" {
			id = values.Get("PaymentId")
		}
		payload, _ := json.Marshal(map[string]string{"PaymentId": id})
		return reconcile.Notification{PaymentID: id, Payload: payload}, nil
	}

	var msg struct {
		PaymentID string `json:"PaymentId"`
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &msg); err != nil {
			return reconcile.Notification{}, errors.New("invalid JSON body")
		}
	}
	n := reconcile.Notification{PaymentID: msg.PaymentID}
	if json.Valid(body) {
		n.Payload = body
	}
	return n, nil
}

// CreateShipment handles POST /shipping/create-shipment.
func (h *Handlers) CreateShipment(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.badRequest(w, r, "cannot read body")
		return
	}
	if err := validateJSONSchema(createShipmentSchema, body); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	var req shipping.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	res, err := h.shipping.CreateShipment(r.Context(), req)
	if err != nil {
		h.fail(w, r, "shipment creation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"shipment":       res.Shipment,
		"trackingNumber": res.TrackingNumber,
		"labelUrl":       res.LabelURL,
		"trackingUrl":    res.TrackingURL,
	})
}

// PickupPoints handles GET /shipping/pickup-points?country=HU&carrier=packeta.
func (h *Handlers) PickupPoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := h.shipping.PickupPoints(r.Context(), q.Get("carrier"), q.Get("country"))
	if err != nil {
		h.fail(w, r, "pickup point lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"pickupPoints": points,
	})
}

// Track handles GET /shipping/track?tracking=<number>.
func (h *Handlers) Track(w http.ResponseWriter, r *http.Request) {
	t, err := h.shipping.Track(r.Context(), r.URL.Query().Get("tracking"))
	if err != nil {
		h.fail(w, r, "tracking lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"shipment":    t.Shipment,
		"trackingUrl": t.TrackingURL,
	})
}

// Checkout handles POST /checkout.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.badRequest(w, r, "cannot read body")
		return
	}
	if err := validateJSONSchema(checkoutSchema, body); err != nil {
		h.badRequest(w, r, err.Error())
		return
	}
	var req checkout.Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.badRequest(w, r, "invalid request body")
		return
	}

	res, err := h.checkout.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, "checkout failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"order":   res,
	})
}

// GetOrder handles GET /orders/{orderID}.
func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, "get order failed", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// GetOrderHistory handles GET /orders/{orderID}/history, newest first.
func (h *Handlers) GetOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if _, err := h.orders.GetOrder(r.Context(), orderID); err != nil {
		h.fail(w, r, "get order failed", err)
		return
	}
	changes, err := h.history.List(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, "get history failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": orderID,
		"history": changes,
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			logging.FromContext(r.Context(), h.logger).Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
