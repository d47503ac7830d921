package repository

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrConflict         = errors.New("cart was modified concurrently")
	ErrStoreUnavailable = errors.New("cart store unavailable")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
)

// CartRepository defines the interface for cart data operations
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	// GetCart returns ErrCartNotFound when the user has no cart.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// GetOrCreate returns the user's cart, creating an empty one if needed.
	// Concurrent first calls for the same user never produce two carts.
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	// SaveCart replaces the owner's item list if the stored version still
	// equals cart.Version, and returns the cart with its new version.
	// A stale version yields ErrConflict.
	SaveCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}
