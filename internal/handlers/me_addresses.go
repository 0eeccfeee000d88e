package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxAddressBodySize = 8 * 1024

// AddressHandlers exposes the caller's address book under /me.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs address book handlers guarded by Firebase authentication.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{authn: authn, addresses: addresses}
}

// Routes registers the /me endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Route("/addresses", func(rt chi.Router) {
		rt.Get("/", h.listAddresses)
		rt.Post("/", h.createAddress)
		rt.Put("/{addressID}", h.updateAddress)
		rt.Delete("/{addressID}", h.deleteAddress)
	})
}

type addressRequest struct {
	Label         string `json:"label"`
	FullName      string `json:"fullName"`
	PhoneNumber   string `json:"phoneNumber"`
	Country       string `json:"country"`
	State         string `json:"state"`
	City          string `json:"city"`
	Area          string `json:"area"`
	StreetAddress string `json:"streetAddress"`
	Apartment     string `json:"apartment"`
	PostalCode    string `json:"postalCode"`
	IsDefault     bool   `json:"isDefault"`
}

func (req addressRequest) toDomain() domain.Address {
	return domain.Address{
		Label:         req.Label,
		FullName:      req.FullName,
		PhoneNumber:   req.PhoneNumber,
		Country:       req.Country,
		State:         req.State,
		City:          req.City,
		Area:          req.Area,
		StreetAddress: req.StreetAddress,
		Apartment:     req.Apartment,
		PostalCode:    req.PostalCode,
		IsDefault:     req.IsDefault,
	}
}

type addressPayload struct {
	ID            string `json:"id"`
	Label         string `json:"label,omitempty"`
	FullName      string `json:"fullName"`
	PhoneNumber   string `json:"phoneNumber"`
	Country       string `json:"country"`
	State         string `json:"state,omitempty"`
	City          string `json:"city"`
	Area          string `json:"area,omitempty"`
	StreetAddress string `json:"streetAddress"`
	Apartment     string `json:"apartment,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	IsDefault     bool   `json:"isDefault"`
	CreatedAt     string `json:"createdAt,omitempty"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		ID:            a.ID,
		Label:         a.Label,
		FullName:      a.FullName,
		PhoneNumber:   a.PhoneNumber,
		Country:       a.Country,
		State:         a.State,
		City:          a.City,
		Area:          a.Area,
		StreetAddress: a.StreetAddress,
		Apartment:     a.Apartment,
		PostalCode:    a.PostalCode,
		IsDefault:     a.IsDefault,
		CreatedAt:     formatTime(a.CreatedAt),
		UpdatedAt:     formatTime(a.UpdatedAt),
	}
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	items, err := h.addresses.List(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]addressPayload, 0, len(items))
	for _, a := range items {
		payload = append(payload, buildAddressPayload(a))
	}
	setNoStore(w)
	httpx.WriteSuccess(w, http.StatusOK, payload)
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	h.saveAddress(w, r, "")
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}
	h.saveAddress(w, r, addressID)
}

func (h *AddressHandlers) saveAddress(w http.ResponseWriter, r *http.Request, addressID string) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if err := decodeBody(r, maxAddressBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	saved, err := h.addresses.Save(ctx, services.SaveAddressCommand{
		UserID:    identity.UID,
		AddressID: addressID,
		Address:   req.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if addressID == "" {
		status = http.StatusCreated
		w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+saved.ID)
	}
	httpx.WriteSuccess(w, status, buildAddressPayload(saved))
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if err := h.addresses.Delete(ctx, identity.UID, strings.TrimSpace(chi.URLParam(r, "addressID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
