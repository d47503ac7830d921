package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MaxQuantity is the largest quantity a single line may hold. Both stores
// keep quantities as 32-bit integers.
const MaxQuantity = math.MaxInt32

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrItemNotFound    = errors.New("item not found in cart")
)

// Cart is the aggregate persisted once per owner. Version is bumped by the
// store on every successful save and is used to detect concurrent writers.
type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    string     `bson:"user_id" json:"ownerId"`
	Items     []CartItem `bson:"items" json:"items"`
	Version   int64      `bson:"version" json:"version"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updatedAt"`
}

type CartItem struct {
	ProductID ProductID `bson:"product_id" json:"productId"`
	Size      Size      `bson:"size" json:"size"`
	Quantity  int       `bson:"quantity" json:"quantity"`
}

// Key returns the composite identity of the line.
func (i CartItem) Key() ItemKey {
	return ItemKey{ProductID: i.ProductID, Size: i.Size}
}

// NewCart returns an empty cart for the owner.
func NewCart(userID string, now time.Time) Cart {
	return Cart{
		UserID:    userID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a copy of the cart that shares no item storage with c.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartItem, len(c.Items))
	copy(out.Items, c.Items)
	return out
}

// Validate checks the aggregate invariants: quantities within
// (0, MaxQuantity], known sizes and no duplicate (productId, size) pairs.
func (c Cart) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: cart has no owner", ErrInvalidArgument)
	}
	seen := make(map[ItemKey]struct{}, len(c.Items))
	for _, item := range c.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidArgument, item.Key())
		}
		if item.Quantity > MaxQuantity {
			return fmt.Errorf("%w: quantity for %s exceeds %d", ErrInvalidArgument, item.Key(), MaxQuantity)
		}
		if !item.Size.Valid() {
			return fmt.Errorf("%w: unknown size %q", ErrInvalidArgument, item.Size)
		}
		if _, dup := seen[item.Key()]; dup {
			return fmt.Errorf("%w: duplicate line %s", ErrInvalidArgument, item.Key())
		}
		seen[item.Key()] = struct{}{}
	}
	return nil
}

func (c Cart) indexOf(key ItemKey) int {
	for i, item := range c.Items {
		if item.Key() == key {
			return i
		}
	}
	return -1
}
