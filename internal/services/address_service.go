package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const maxAddressFieldLength = 200

var addressCountryPattern = regexp.MustCompile(`^[A-Za-z]{2}$`)

// AddressService manages the per-user address book read by checkout.
type AddressService interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Save(ctx context.Context, cmd SaveAddressCommand) (domain.Address, error)
	Delete(ctx context.Context, userID, addressID string) error
}

// SaveAddressCommand creates an address when AddressID is empty and replaces it otherwise.
type SaveAddressCommand struct {
	UserID    string
	AddressID string
	Address   domain.Address
}

// AddressServiceDeps wires the address service.
type AddressServiceDeps struct {
	Addresses repositories.AddressRepository
	Clock     func() time.Time
	IDGen     func() string
}

type addressService struct {
	addresses repositories.AddressRepository
	now       func() time.Time
	newID     func() string
}

// NewAddressService constructs an AddressService.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	idGen := deps.IDGen
	if idGen == nil {
		idGen = func() string { return strings.ToLower(ulid.Make().String()) }
	}
	return &addressService{
		addresses: deps.Addresses,
		now:       clockOrNow(deps.Clock),
		newID:     idGen,
	}, nil
}

func (s *addressService) List(ctx context.Context, userID string) ([]domain.Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("user id is required")
	}
	items, err := s.addresses.List(ctx, userID)
	if err != nil {
		return nil, translateRepoError(err, "address")
	}
	return items, nil
}

// Save validates and stores the address. The first address of a user becomes the default.
func (s *addressService) Save(ctx context.Context, cmd SaveAddressCommand) (domain.Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Address{}, validationError("user id is required")
	}
	address, err := sanitizeAddress(cmd.Address)
	if err != nil {
		return domain.Address{}, err
	}

	now := s.now()
	existing, err := s.addresses.List(ctx, userID)
	if err != nil {
		return domain.Address{}, translateRepoError(err, "address")
	}

	addressID := strings.TrimSpace(cmd.AddressID)
	if addressID == "" {
		address.ID = s.newID()
		address.CreatedAt = now
		if len(existing) == 0 {
			address.IsDefault = true
		}
	} else {
		current, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			return domain.Address{}, translateRepoError(err, "address")
		}
		address.ID = current.ID
		address.CreatedAt = current.CreatedAt
		// the only default cannot be unset directly; promote another address instead
		if current.IsDefault && !address.IsDefault {
			address.IsDefault = len(existing) == 1
		}
	}
	address.UserID = userID
	address.UpdatedAt = now

	if err := s.addresses.Save(ctx, address); err != nil {
		return domain.Address{}, translateRepoError(err, "address")
	}
	if addressID != "" && !address.IsDefault {
		if err := s.ensureDefault(ctx, userID, address.ID); err != nil {
			return domain.Address{}, err
		}
	}
	return address, nil
}

// Delete removes the address and promotes the most recently updated remaining address when
// the default was deleted.
func (s *addressService) Delete(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return validationError("user id and address id are required")
	}
	target, err := s.addresses.Get(ctx, userID, addressID)
	if err != nil {
		return translateRepoError(err, "address")
	}
	if err := s.addresses.Delete(ctx, userID, addressID); err != nil {
		return translateRepoError(err, "address")
	}
	if !target.IsDefault {
		return nil
	}
	return s.ensureDefault(ctx, userID, "")
}

func (s *addressService) ensureDefault(ctx context.Context, userID, skipID string) error {
	items, err := s.addresses.List(ctx, userID)
	if err != nil {
		return translateRepoError(err, "address")
	}
	var candidate *domain.Address
	for i := range items {
		if items[i].IsDefault {
			return nil
		}
		if candidate == nil && items[i].ID != skipID {
			candidate = &items[i]
		}
	}
	if candidate == nil {
		return nil
	}
	candidate.IsDefault = true
	candidate.UpdatedAt = s.now()
	if err := s.addresses.Save(ctx, *candidate); err != nil {
		return translateRepoError(err, "address")
	}
	return nil
}

func sanitizeAddress(addr domain.Address) (domain.Address, error) {
	out := domain.Address{
		Label:         strings.TrimSpace(addr.Label),
		FullName:      strings.TrimSpace(addr.FullName),
		PhoneNumber:   strings.TrimSpace(addr.PhoneNumber),
		Country:       strings.ToUpper(strings.TrimSpace(addr.Country)),
		State:         strings.TrimSpace(addr.State),
		City:          strings.TrimSpace(addr.City),
		Area:          strings.TrimSpace(addr.Area),
		StreetAddress: strings.TrimSpace(addr.StreetAddress),
		Apartment:     strings.TrimSpace(addr.Apartment),
		PostalCode:    strings.TrimSpace(addr.PostalCode),
		IsDefault:     addr.IsDefault,
	}
	switch {
	case out.FullName == "":
		return domain.Address{}, validationError("fullName is required")
	case out.PhoneNumber == "":
		return domain.Address{}, validationError("phoneNumber is required")
	case out.StreetAddress == "":
		return domain.Address{}, validationError("streetAddress is required")
	case out.City == "":
		return domain.Address{}, validationError("city is required")
	case !addressCountryPattern.MatchString(out.Country):
		return domain.Address{}, validationError("country must be an ISO 3166-1 alpha-2 code")
	}
	for name, value := range map[string]string{
		"label":         out.Label,
		"fullName":      out.FullName,
		"phoneNumber":   out.PhoneNumber,
		"state":         out.State,
		"city":          out.City,
		"area":          out.Area,
		"streetAddress": out.StreetAddress,
		"apartment":     out.Apartment,
		"postalCode":    out.PostalCode,
	} {
		if utf8.RuneCountInString(value) > maxAddressFieldLength {
			return domain.Address{}, validationError("%s exceeds %d characters", name, maxAddressFieldLength)
		}
	}
	return out, nil
}
