package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	defaultConflictRetries = 3
	sharedLoadTimeout      = 5 * time.Second
)

// CartService runs the load-mutate-save cycle for a single user's cart.
// Saves are conditional on the version that was loaded, so two requests
// racing on the same cart cannot overwrite each other: the loser reloads
// and reapplies its mutation, and after too many attempts gets
// repository.ErrConflict.
type CartService struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	sfg     singleflight.Group // Prevents cache stampede
	retries int
	log     *slog.Logger
}

type Option func(*CartService)

// WithConflictRetries sets how many extra load-mutate-save attempts are made
// after a version conflict before the conflict is returned to the caller.
func WithConflictRetries(n int) Option {
	return func(s *CartService) {
		if n >= 0 {
			s.retries = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *CartService) { s.log = l }
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, opts ...Option) *CartService {
	s := &CartService{
		repo:    repo,
		cache:   cache,
		retries: defaultConflictRetries,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutation computes the next cart state. It must be pure: it may run more
// than once per request when a conflict forces a retry. A mutation that
// leaves the items as they were is not saved.
type mutation func(domain.Cart) (domain.Cart, error)

// GetCart returns the user's cart, creating an empty one on first access.
// Concurrent callers for the same user share one load; a caller that gives up
// does not cancel the load for the others.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		cart, err := s.cache.Get(loadCtx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(loadCtx, "cache get error", slog.String("user_id", userID), slog.Any("err", err))
		}

		cart, err = s.repo.GetOrCreate(loadCtx, userID)
		if err != nil {
			return nil, err
		}

		snapshot := cart.Clone()
		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(setCtx, userID, &snapshot); errSet != nil {
				s.log.Warn("cache set error", slog.String("user_id", userID), slog.Any("err", errSet))
			}
		}()

		return cart, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	cart := res.Val.(*domain.Cart).Clone()
	return &cart, nil
}

// AddItem merges quantity into the (productID, size) line, creating the
// cart if the user has none yet.
func (s *CartService) AddItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, true, func(c domain.Cart) (domain.Cart, error) {
		return domain.AddItem(c, productID, size, quantity)
	})
}

// UpdateItem sets the line's quantity; zero removes it. The cart and the
// line must already exist.
func (s *CartService) UpdateItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, false, func(c domain.Cart) (domain.Cart, error) {
		return domain.UpdateItem(c, productID, size, quantity)
	})
}

// RemoveItem drops the line if present. The cart must exist.
func (s *CartService) RemoveItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size) (*domain.Cart, error) {
	return s.mutate(ctx, userID, false, func(c domain.Cart) (domain.Cart, error) {
		return domain.RemoveItem(c, productID, size)
	})
}

// ClearCart empties the user's items. A user without a cart is left alone.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	_, err := s.mutate(ctx, userID, false, func(c domain.Cart) (domain.Cart, error) {
		return domain.ClearItems(c), nil
	})
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	return err
}

func (s *CartService) mutate(ctx context.Context, userID string, create bool, fn mutation) (*domain.Cart, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.load(ctx, userID, create)
		if err != nil {
			return nil, err
		}

		next, err := fn(*current)
		if err != nil {
			return nil, err
		}
		if err := next.Validate(); err != nil {
			return nil, err
		}
		if domain.SameItems(*current, next) {
			return current, nil
		}

		saved, err := s.repo.SaveCart(ctx, &next)
		if errors.Is(err, repository.ErrConflict) && attempt < s.retries {
			s.log.WarnContext(ctx, "cart version conflict, retrying",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt+1),
				slog.Int64("version", current.Version))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save cart: %w", err)
		}

		s.refreshCache(userID, saved)
		return saved, nil
	}
}

func (s *CartService) load(ctx context.Context, userID string, create bool) (*domain.Cart, error) {
	if create {
		return s.repo.GetOrCreate(ctx, userID)
	}
	return s.repo.GetCart(ctx, userID)
}

// refreshCache writes the saved cart through to the cache. The cache keeps
// the highest version it has seen, so a concurrent GetCart filling it with an
// older snapshot cannot win. If the write fails the entry is dropped instead.
func (s *CartService) refreshCache(userID string, saved *domain.Cart) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	snapshot := saved.Clone()
	err := s.cache.Set(ctx, userID, &snapshot)
	if err == nil {
		return
	}
	s.log.Warn("cache refresh error", slog.String("user_id", userID), slog.Any("err", err))

	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", slog.String("user_id", userID), slog.Any("err", err))
	}
}
