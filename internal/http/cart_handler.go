package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID string, productID domain.ProductID, size domain.Size) (*domain.Cart, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

// ProductRef accepts either a bare identifier or an embedded product object
// carrying "_id" or "id".
type ProductRef string

func (p *ProductRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = ProductRef(s)
		return nil
	}

	var obj struct {
		MongoID string `json:"_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.New("productId must be a string or an object with an _id")
	}
	if obj.MongoID != "" {
		*p = ProductRef(obj.MongoID)
	} else {
		*p = ProductRef(obj.ID)
	}
	return nil
}

type AddItemRequestDTO struct {
	ProductID ProductRef `json:"productId" validate:"required"`
	Size      string     `json:"size" validate:"required,oneof=S M L XL XXL"`
	Quantity  *int       `json:"quantity" validate:"required,gte=1,lte=2147483647"`
}

type UpdateItemRequestDTO struct {
	ProductID ProductRef `json:"productId" validate:"required"`
	Size      string     `json:"size" validate:"required,oneof=S M L XL XXL"`
	Quantity  *int       `json:"quantity" validate:"required,gte=0,lte=2147483647"`
}

type RemoveItemRequestDTO struct {
	ProductID ProductRef `json:"productId" validate:"required"`
	Size      string     `json:"size" validate:"required,oneof=S M L XL XXL"`
}

type CartItemResponse struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

type CartResponse struct {
	OwnerID string             `json:"ownerId"`
	Items   []CartItemResponse `json:"items"`
}

func toCartResponse(c *domain.Cart) CartResponse {
	items := make([]CartItemResponse, len(c.Items))
	for i, it := range c.Items {
		items[i] = CartItemResponse{
			ProductID: it.ProductID.String(),
			Size:      string(it.Size),
			Quantity:  it.Quantity,
		}
	}
	return CartResponse{OwnerID: c.UserID, Items: items}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, userIDFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	productID, size, err := parseLine(req.ProductID, req.Size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	cart, err := h.carts.AddItem(ctx, userIDFromContext(r.Context()), productID, size, *req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	productID, size, err := parseLine(req.ProductID, req.Size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	cart, err := h.carts.UpdateItem(ctx, userIDFromContext(r.Context()), productID, size, *req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RemoveItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, r, err)
		return
	}
	productID, size, err := parseLine(req.ProductID, req.Size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	cart, err := h.carts.RemoveItem(ctx, userIDFromContext(r.Context()), productID, size)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

func parseLine(ref ProductRef, rawSize string) (domain.ProductID, domain.Size, error) {
	productID, err := domain.ParseProductID(string(ref))
	if err != nil {
		return "", "", err
	}
	size, err := domain.ParseSize(rawSize)
	if err != nil {
		return "", "", err
	}
	return productID, size, nil
}
