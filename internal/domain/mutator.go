package domain

import (
	"fmt"
	"slices"
)

// The functions below never touch storage. Each takes the cart by value and
// returns a new value; the caller's cart is left untouched.

// AddItem merges quantity into the (productID, size) line, appending a new
// line when none exists. Repeated adds accumulate.
func AddItem(c Cart, productID ProductID, size Size, quantity int) (Cart, error) {
	key, err := NewItemKey(productID, size)
	if err != nil {
		return c, err
	}
	if quantity <= 0 {
		return c, fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidArgument)
	}
	if quantity > MaxQuantity {
		return c, fmt.Errorf("%w: quantity must not exceed %d", ErrInvalidArgument, MaxQuantity)
	}

	out := c.Clone()
	if idx := out.indexOf(key); idx >= 0 {
		if out.Items[idx].Quantity > MaxQuantity-quantity {
			return c, fmt.Errorf("%w: quantity for %s would exceed %d", ErrInvalidArgument, key, MaxQuantity)
		}
		out.Items[idx].Quantity += quantity
		return out, nil
	}

	out.Items = append(out.Items, CartItem{
		ProductID: key.ProductID,
		Size:      key.Size,
		Quantity:  quantity,
	})
	return out, nil
}

// UpdateItem sets the line's quantity to exactly quantity. A quantity of
// zero removes the line. The line must already exist.
func UpdateItem(c Cart, productID ProductID, size Size, quantity int) (Cart, error) {
	key, err := NewItemKey(productID, size)
	if err != nil {
		return c, err
	}
	if quantity < 0 {
		return c, fmt.Errorf("%w: quantity must not be negative", ErrInvalidArgument)
	}
	if quantity > MaxQuantity {
		return c, fmt.Errorf("%w: quantity must not exceed %d", ErrInvalidArgument, MaxQuantity)
	}

	idx := c.indexOf(key)
	if idx < 0 {
		return c, fmt.Errorf("%w: %s", ErrItemNotFound, key)
	}

	out := c.Clone()
	if quantity == 0 {
		out.Items = append(out.Items[:idx], out.Items[idx+1:]...)
		return out, nil
	}
	out.Items[idx].Quantity = quantity
	return out, nil
}

// RemoveItem drops the (productID, size) line. Removing an absent line is
// not an error and returns the cart unchanged.
func RemoveItem(c Cart, productID ProductID, size Size) (Cart, error) {
	key, err := NewItemKey(productID, size)
	if err != nil {
		return c, err
	}

	out := c.Clone()
	if idx := out.indexOf(key); idx >= 0 {
		out.Items = append(out.Items[:idx], out.Items[idx+1:]...)
	}
	return out, nil
}

// SameItems reports whether a and b hold the same lines in the same order.
func SameItems(a, b Cart) bool {
	return slices.Equal(a.Items, b.Items)
}

// ClearItems empties the cart while keeping the record.
func ClearItems(c Cart) Cart {
	out := c.Clone()
	out.Items = []CartItem{}
	return out
}
