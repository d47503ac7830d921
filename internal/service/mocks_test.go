package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
)

// mockRepository is an in-memory versioned store. Saves are conditional on
// the version, like the real backends.
type mockRepository struct {
	m     sync.Mutex
	carts map[string]domain.Cart
	err   error
	// forcedConflicts makes the next N saves fail with ErrConflict.
	forcedConflicts int
	// gate, when set, blocks GetOrCreate until it is closed.
	gate       chan struct{}
	loadCtxErr error

	gets, creates, saves atomic.Int32
}

func newMockRepository() *mockRepository {
	return &mockRepository{carts: make(map[string]domain.Cart)}
}

func (m *mockRepository) seed(cart domain.Cart) {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[cart.UserID] = cart.Clone()
}

func (m *mockRepository) stored(userID string) (domain.Cart, bool) {
	m.m.Lock()
	defer m.m.Unlock()
	c, ok := m.carts[userID]
	return c.Clone(), ok
}

func (m *mockRepository) calls() int32 {
	return m.gets.Load() + m.creates.Load() + m.saves.Load()
}

func (m *mockRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.gets.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	out := c.Clone()
	return &out, nil
}

func (m *mockRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	m.creates.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	m.m.Lock()
	defer m.m.Unlock()
	m.loadCtxErr = ctx.Err()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		c = domain.NewCart(userID, time.Now())
		m.carts[userID] = c
	}
	out := c.Clone()
	return &out, nil
}

func (m *mockRepository) SaveCart(_ context.Context, cart *domain.Cart) (*domain.Cart, error) {
	m.saves.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	current, ok := m.carts[cart.UserID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	if m.forcedConflicts > 0 {
		m.forcedConflicts--
		current.Version++
		m.carts[cart.UserID] = current
		return nil, repository.ErrConflict
	}
	if current.Version != cart.Version {
		return nil, repository.ErrConflict
	}
	saved := cart.Clone()
	saved.Version++
	saved.UpdatedAt = time.Now()
	m.carts[cart.UserID] = saved
	out := saved.Clone()
	return &out, nil
}

// mockCache keeps the highest version it has been given, like RedisCache.
type mockCache struct {
	m      sync.RWMutex
	cart   *domain.Cart
	err    error
	setErr error

	sets, deletes atomic.Int32
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.cart == nil {
		return nil, cache.ErrCacheMiss
	}
	return m.cart, nil
}

func (m *mockCache) Set(_ context.Context, _ string, cart *domain.Cart) error {
	m.sets.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.cart != nil && m.cart.Version > cart.Version {
		return nil
	}
	m.cart = cart
	return m.err
}

func (m *mockCache) Delete(context.Context, string) error {
	m.deletes.Add(1)
	m.m.Lock()
	defer m.m.Unlock()
	m.cart = nil
	return m.err
}

func (m *mockCache) getCart() *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.cart
}
