package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil),
	}, nil
}

// Next atomically increments the counter and returns the new value. A missing counter
// starts at 1.
func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, &repositories.CounterError{Code: repositories.CounterErrorInvalidInput, Err: errors.New("counter id is required")}
	}
	if strings.Contains(id, "/") {
		return 0, &repositories.CounterError{Code: repositories.CounterErrorInvalidInput, CounterID: id, Err: errors.New("counter id must not contain '/'")}
	}

	var next int64
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		now := time.Now().UTC()
		doc, err := r.counters.Get(ctx, id)
		switch {
		case err == nil:
		case isNotFound(err):
			next = 1
			return r.counters.Create(ctx, id, counterDocument{CurrentValue: next, UpdatedAt: now})
		default:
			return err
		}

		value := doc.Data.CurrentValue + 1
		if doc.Data.MaxValue != nil && value > *doc.Data.MaxValue {
			return &repositories.CounterError{
				Code:      repositories.CounterErrorExhausted,
				CounterID: id,
				Err:       fmt.Errorf("exceeded max value %d", *doc.Data.MaxValue),
			}
		}
		next = value
		return r.counters.Update(ctx, id, []firestore.Update{
			{Path: "currentValue", Value: value},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
