package handlers

import (
	"net/http"
	"strings"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

type createOrderRequest struct {
	AddressID     string            `json:"addressId"`
	PaymentMethod string            `json:"paymentMethod"`
	Metadata      map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	Order        orderPayload `json:"order"`
	ClientSecret string       `json:"clientSecret,omitempty"`
}

// createOrder places an order from the caller's cart. Card payments return the intent
// client secret for confirmation on the client.
func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		serviceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeBody(r, maxCheckoutRequestBody, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:        identity.UID,
		Email:         identity.ContactEmail(ctx),
		AddressID:     strings.TrimSpace(req.AddressID),
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	setNoStore(w)
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+result.Order.ID)
	httpx.WriteSuccess(w, http.StatusCreated, checkoutResponse{
		Order:        buildOrderPayload(result.Order),
		ClientSecret: result.ClientSecret,
	})
}
