package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

func (m MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m MongoRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	now := m.now()

	// user_id comes from the filter on insert; the unique index on it keeps
	// one document per user.
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"items":      bson.A{},
			"version":    int64(0),
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var cart domain.Cart
	err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart)
	if err != nil {
		// Two upserts raced and the other one inserted first.
		if mongo.IsDuplicateKeyError(err) {
			return m.GetCart(ctx, userID)
		}
		return nil, fmt.Errorf("failed to get or create cart: %w", err)
	}

	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func (m MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	now := m.now()
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}

	if result.MatchedCount == 0 {
		count, errCount := m.collection.CountDocuments(ctx, bson.M{"user_id": cart.UserID})
		if errCount != nil {
			return nil, fmt.Errorf("failed to check cart after stale save: %w", errCount)
		}
		if count == 0 {
			return nil, ErrCartNotFound
		}
		return nil, ErrConflict
	}

	saved := cart.Clone()
	saved.Items = items
	saved.Version = cart.Version + 1
	saved.UpdatedAt = now
	return &saved, nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}
