package domain

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProductID is an opaque product reference. Values produced by
// ParseProductID are canonical and safe to compare with ==.
type ProductID string

// ParseProductID trims the raw identifier and lower-cases ObjectID hex
// strings so the same product always yields the same ProductID.
func ParseProductID(raw string) (ProductID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: productId is required", ErrInvalidArgument)
	}
	if len(id) == 24 {
		if oid, err := primitive.ObjectIDFromHex(strings.ToLower(id)); err == nil {
			return ProductID(oid.Hex()), nil
		}
	}
	return ProductID(id), nil
}

func (p ProductID) String() string { return string(p) }

type Size string

const (
	SizeS   Size = "S"
	SizeM   Size = "M"
	SizeL   Size = "L"
	SizeXL  Size = "XL"
	SizeXXL Size = "XXL"
)

// Sizes lists the accepted sizes in display order.
var Sizes = []Size{SizeS, SizeM, SizeL, SizeXL, SizeXXL}

func (s Size) Valid() bool {
	switch s {
	case SizeS, SizeM, SizeL, SizeXL, SizeXXL:
		return true
	}
	return false
}

func ParseSize(raw string) (Size, error) {
	s := Size(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: size must be one of S, M, L, XL, XXL, got %q", ErrInvalidArgument, raw)
	}
	return s, nil
}

// ItemKey identifies a cart line. Two lines with equal keys are the same line.
type ItemKey struct {
	ProductID ProductID
	Size      Size
}

// NewItemKey canonicalises productID and validates size.
func NewItemKey(productID ProductID, size Size) (ItemKey, error) {
	id, err := ParseProductID(string(productID))
	if err != nil {
		return ItemKey{}, err
	}
	s, err := ParseSize(string(size))
	if err != nil {
		return ItemKey{}, err
	}
	return ItemKey{ProductID: id, Size: s}, nil
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s", k.ProductID, k.Size)
}
