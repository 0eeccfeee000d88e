package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry bundles the Firestore repositories sharing one provider.
type Registry struct {
	provider  *pfirestore.Provider
	products  *ProductRepository
	coupons   *CouponRepository
	carts     *CartRepository
	orders    *OrderRepository
	addresses *AddressRepository
	counters  *CounterRepository
	mail      *MailOutbox
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository against provider.
func NewRegistry(provider *pfirestore.Provider, mail config.MailConfig) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("coupons: %w", err)
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, fmt.Errorf("carts: %w", err)
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, fmt.Errorf("addresses: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("counters: %w", err)
	}
	if reg.mail, err = NewMailOutbox(provider, mail.Collection, mail.From); err != nil {
		return nil, fmt.Errorf("mail: %w", err)
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Coupons() repositories.CouponRepository { return r.coupons }
func (r *Registry) Carts() repositories.CartRepository { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Addresses() repositories.AddressRepository { return r.addresses }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Mail() repositories.MailOutbox { return r.mail }

// RunInTx runs fn in a Firestore transaction. Repositories called with the ctx handed to fn
// join it; fn may be retried on contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
