package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PostgresRepository stores the cart header in carts and its lines in
// cart_items. Every save runs in one transaction.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &PostgresRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "carts_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *PostgresRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return loadCart(ctx, r.db, userID)
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	now := r.now()
	// ON CONFLICT makes concurrent first accesses converge on one row.
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO carts (user_id, version, created_at, updated_at)
		 VALUES ($1, 0, $2, $2)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	return loadCart(ctx, r.db, userID)
}

func (r *PostgresRepository) SaveCart(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE carts SET version = version + 1, updated_at = $3
		 WHERE user_id = $1 AND version = $2`,
		cart.UserID, cart.Version, now)
	if err != nil {
		return nil, fmt.Errorf("failed to bump cart version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if errExists := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM carts WHERE user_id = $1)`, cart.UserID,
		).Scan(&exists); errExists != nil {
			return nil, fmt.Errorf("failed to check cart after stale save: %w", errExists)
		}
		if !exists {
			return nil, ErrCartNotFound
		}
		return nil, ErrConflict
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, cart.UserID); err != nil {
		return nil, fmt.Errorf("failed to clear cart items: %w", err)
	}

	if len(cart.Items) > 0 {
		products := make([]string, len(cart.Items))
		sizes := make([]string, len(cart.Items))
		quantities := make([]int64, len(cart.Items))
		positions := make([]int64, len(cart.Items))
		for i, item := range cart.Items {
			products[i] = string(item.ProductID)
			sizes[i] = string(item.Size)
			quantities[i] = int64(item.Quantity)
			positions[i] = int64(i)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO cart_items (user_id, product_id, size, quantity, position)
			 SELECT $1, p, s, q, pos
			 FROM unnest($2::text[], $3::text[], $4::int[], $5::int[]) AS t(p, s, q, pos)`,
			cart.UserID, pq.Array(products), pq.Array(sizes), pq.Array(quantities), pq.Array(positions))
		if err != nil {
			return nil, fmt.Errorf("failed to insert cart items: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cart: %w", err)
	}

	saved := cart.Clone()
	saved.Version = cart.Version + 1
	saved.UpdatedAt = now
	return &saved, nil
}

func loadCart(ctx context.Context, q queryer, userID string) (*domain.Cart, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT c.version, c.created_at, c.updated_at, i.product_id, i.size, i.quantity
		 FROM carts c
		 LEFT JOIN cart_items i ON i.user_id = c.user_id
		 WHERE c.user_id = $1
		 ORDER BY i.position`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	defer rows.Close()

	var cart *domain.Cart
	for rows.Next() {
		var (
			version              int64
			createdAt, updatedAt time.Time
			productID, size      sql.NullString
			quantity             sql.NullInt64
		)
		if err := rows.Scan(&version, &createdAt, &updatedAt, &productID, &size, &quantity); err != nil {
			return nil, fmt.Errorf("failed to scan cart: %w", err)
		}
		if cart == nil {
			cart = &domain.Cart{
				UserID:    userID,
				Items:     []domain.CartItem{},
				Version:   version,
				CreatedAt: createdAt,
				UpdatedAt: updatedAt,
			}
		}
		if productID.Valid {
			cart.Items = append(cart.Items, domain.CartItem{
				ProductID: domain.ProductID(productID.String),
				Size:      domain.Size(size.String),
				Quantity:  int(quantity.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cart: %w", err)
	}

	if cart == nil {
		return nil, ErrCartNotFound
	}
	return cart, nil
}
