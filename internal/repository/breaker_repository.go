package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
)

// breakerRepository guards a CartRepository with a circuit breaker and folds
// every infrastructure failure into ErrStoreUnavailable. Context
// cancellation and deadlines belong to the caller and pass through as is.
type breakerRepository struct {
	next CartRepository
	cb   *gobreaker.CircuitBreaker[*domain.Cart]
}

func NewBreakerRepository(next CartRepository, opts circuitbreaker.Options) CartRepository {
	opts.IsSuccessful = isHealthyResult
	return &breakerRepository{
		next: next,
		cb:   circuitbreaker.New[*domain.Cart](opts),
	}
}

func (b *breakerRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := b.cb.Execute(func() (*domain.Cart, error) {
		return b.next.GetCart(ctx, userID)
	})
	return cart, translateStoreError(err)
}

func (b *breakerRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := b.cb.Execute(func() (*domain.Cart, error) {
		return b.next.GetOrCreate(ctx, userID)
	})
	return cart, translateStoreError(err)
}

func (b *breakerRepository) SaveCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	saved, err := b.cb.Execute(func() (*domain.Cart, error) {
		return b.next.SaveCart(ctx, cart)
	})
	return saved, translateStoreError(err)
}

func isHealthyResult(err error) bool {
	return err == nil ||
		errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrConflict) ||
		isContextError(err)
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func translateStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrStoreUnavailable):
		return err
	case isContextError(err):
		return err
	case circuitbreaker.IsOpen(err):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
