package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

type addressDocument struct {
	Label         string    `firestore:"label,omitempty"`
	FullName      string    `firestore:"fullName"`
	PhoneNumber   string    `firestore:"phoneNumber"`
	Country       string    `firestore:"country"`
	State         string    `firestore:"state,omitempty"`
	City          string    `firestore:"city"`
	Area          string    `firestore:"area,omitempty"`
	StreetAddress string    `firestore:"streetAddress"`
	Apartment     string    `firestore:"apartment,omitempty"`
	PostalCode    string    `firestore:"postalCode,omitempty"`
	IsDefault     bool      `firestore:"isDefault"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// AddressRepository persists user addresses under users/{uid}/addresses.
type AddressRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

// Get loads a single address owned by userID.
func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	ref, err := r.document(ctx, userID, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	doc, err := pfirestore.GetDocument(ctx, ref, pfirestore.StructDecoder[addressDocument](), "addresses.get")
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(doc.ID, userID), nil
}

// List returns the user's addresses ordered by most recent update.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	docs, err := pfirestore.QueryDocuments(ctx, coll.OrderBy("updatedAt", firestore.Desc), pfirestore.StructDecoder[addressDocument](), "addresses.list")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID, userID))
	}
	return out, nil
}

// Save upserts the address. When it is marked default, the flag is cleared on every other
// address in the same transaction.
func (r *AddressRepository) Save(ctx context.Context, address domain.Address) error {
	userID := strings.TrimSpace(address.UserID)
	if strings.TrimSpace(address.ID) == "" {
		return errors.New("address repository: address id is required")
	}
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if address.UpdatedAt.IsZero() {
		address.UpdatedAt = now
	}
	if address.CreatedAt.IsZero() {
		address.CreatedAt = address.UpdatedAt
	}

	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		var others []pfirestore.Document[addressDocument]
		if address.IsDefault {
			others, err = pfirestore.QueryDocuments(ctx, coll.Where("isDefault", "==", true), pfirestore.StructDecoder[addressDocument](), "addresses.defaults")
			if err != nil {
				return err
			}
		}
		for _, other := range others {
			if other.ID == address.ID {
				continue
			}
			if err := pfirestore.SetDocument(ctx, coll.Doc(other.ID), map[string]any{
				"isDefault": false,
				"updatedAt": address.UpdatedAt.UTC(),
			}, "addresses.clear_default", firestore.MergeAll); err != nil {
				return err
			}
		}
		return pfirestore.SetDocument(ctx, coll.Doc(address.ID), newAddressDocument(address), "addresses.save")
	})
}

// Delete removes the address.
func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	ref, err := r.document(ctx, userID, addressID)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		return pfirestore.WrapError("addresses.delete", tx.Delete(ref, firestore.Exists))
	}
	_, err = ref.Delete(ctx, firestore.Exists)
	return pfirestore.WrapError("addresses.delete", err)
}

func (r *AddressRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("address repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(addressCollectionPattern, userID)), nil
}

func (r *AddressRepository) document(ctx context.Context, userID, addressID string) (*firestore.DocumentRef, error) {
	addressID = strings.TrimSpace(addressID)
	if addressID == "" {
		return nil, errors.New("address repository: address id is required")
	}
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(addressID), nil
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument{
		Label:         strings.TrimSpace(a.Label),
		FullName:      strings.TrimSpace(a.FullName),
		PhoneNumber:   strings.TrimSpace(a.PhoneNumber),
		Country:       strings.TrimSpace(a.Country),
		State:         strings.TrimSpace(a.State),
		City:          strings.TrimSpace(a.City),
		Area:          strings.TrimSpace(a.Area),
		StreetAddress: strings.TrimSpace(a.StreetAddress),
		Apartment:     strings.TrimSpace(a.Apartment),
		PostalCode:    strings.TrimSpace(a.PostalCode),
		IsDefault:     a.IsDefault,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func (d addressDocument) toDomain(id, userID string) domain.Address {
	return domain.Address{
		ID:            id,
		UserID:        strings.TrimSpace(userID),
		Label:         d.Label,
		FullName:      d.FullName,
		PhoneNumber:   d.PhoneNumber,
		Country:       d.Country,
		State:         d.State,
		City:          d.City,
		Area:          d.Area,
		StreetAddress: d.StreetAddress,
		Apartment:     d.Apartment,
		PostalCode:    d.PostalCode,
		IsDefault:     d.IsDefault,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}
