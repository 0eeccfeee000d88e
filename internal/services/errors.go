package services

import (
	"errors"
	"fmt"

	"github.com/hanko-field/commerce/internal/repositories"
)

var (
	// ErrValidation indicates the caller supplied invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates a referenced entity does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the caller may not act on the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates the entity's state does not allow the transition.
	ErrInvalidState = errors.New("invalid state")
	// ErrConflict indicates a concurrent write won.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable indicates a dependency is currently unavailable.
	ErrUnavailable = errors.New("unavailable")

	// ErrEmptyCart indicates checkout was attempted without cart items.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrPaymentProcessor indicates the payment processor rejected or failed the request.
	ErrPaymentProcessor = errors.New("checkout: payment processor error")

	// ErrOutOfStock indicates the product cannot currently be sold.
	ErrOutOfStock = errors.New("inventory: out of stock")
	// ErrInsufficientStock indicates fewer units remain than requested.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")

	// ErrInvalidCoupon indicates the coupon is inactive or not yet started.
	ErrInvalidCoupon = errors.New("coupon: invalid")
	// ErrCouponExpired indicates the coupon expiry date has passed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponUsageExceeded indicates the global or per-user limit is reached.
	ErrCouponUsageExceeded = errors.New("coupon: usage exceeded")
	// ErrBelowMinimumCartValue indicates the subtotal is below the coupon minimum.
	ErrBelowMinimumCartValue = errors.New("coupon: below minimum cart value")
)

// StockError reports a stock shortfall for one product.
type StockError struct {
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d, available %d", e.Err, e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return e.Err }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translateRepoError maps repository failures onto service sentinels, keeping the
// original error in the chain.
func translateRepoError(err error, entity string) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s: %v", ErrNotFound, entity, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s: %v", ErrConflict, entity, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, entity, err)
		}
	}
	return fmt.Errorf("%s: %w", entity, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
