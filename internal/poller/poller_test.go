package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	c "github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	r "github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/redis/go-redis/v9"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"gotest.tools/v3/assert"
)

// fakeReader serves a fixed batch of messages and calls drained once the
// batch is exhausted.
type fakeReader struct {
	m         sync.Mutex
	msgs      []kafkaGo.Message
	next      int
	committed []int64
	drained   func()
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafkaGo.Message, error) {
	f.m.Lock()
	if f.next < len(f.msgs) {
		m := f.msgs[f.next]
		f.next++
		f.m.Unlock()
		return m, nil
	}
	f.m.Unlock()

	f.drained()
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	f.m.Lock()
	defer f.m.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

// fakeClearer fails the first failures[userID] clears for a user; a negative
// count fails forever. onFailure runs after every failed attempt.
type fakeClearer struct {
	m         sync.Mutex
	cleared   []string
	failures  map[string]int
	attempts  map[string]int
	onFailure func(attempts int)
}

func (f *fakeClearer) ClearCart(_ context.Context, userID string) error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[userID]++
	if left := f.failures[userID]; left != 0 {
		if left > 0 {
			f.failures[userID] = left - 1
		}
		if f.onFailure != nil {
			f.onFailure(f.attempts[userID])
		}
		return errors.New("store down")
	}
	f.cleared = append(f.cleared, userID)
	return nil
}

func message(t *testing.T, offset int64, payload any) kafkaGo.Message {
	t.Helper()
	value, err := json.Marshal(payload)
	require.NoError(t, err)
	return kafkaGo.Message{Offset: offset, Value: value}
}

func TestPoller_ClearsCartsAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafkaGo.Message{
			message(t, 1, map[string]any{"checkout_id": "ch1", "user_id": "u1"}),
			message(t, 2, map[string]any{"checkout_id": "ch2", "user_id": "u2"}),
		},
		drained: cancel,
	}
	carts := &fakeClearer{}

	New(reader, carts).Run(ctx)

	assert.DeepEqual(t, []string{"u1", "u2"}, carts.cleared)
	assert.DeepEqual(t, []int64{1, 2}, reader.committed)
}

func TestPoller_SkipsMalformedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafkaGo.Message{
			{Offset: 1, Value: []byte("not json")},
			message(t, 2, map[string]any{"checkout_id": "ch2"}),
			message(t, 3, map[string]any{"user_id": 42}),
			message(t, 4, map[string]any{"user_id": "u4"}),
		},
		drained: cancel,
	}
	carts := &fakeClearer{}

	New(reader, carts).Run(ctx)

	assert.DeepEqual(t, []string{"u4"}, carts.cleared)
	assert.DeepEqual(t, []int64{1, 2, 3, 4}, reader.committed)
}

func TestPoller_RetriesFailedClearBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafkaGo.Message{
			message(t, 1, map[string]any{"user_id": "u1"}),
			message(t, 2, map[string]any{"user_id": "u2"}),
		},
		drained: cancel,
	}
	carts := &fakeClearer{failures: map[string]int{"u1": 2}}

	p := New(reader, carts)
	p.backoff = time.Millisecond
	p.Run(ctx)

	assert.DeepEqual(t, []string{"u1", "u2"}, carts.cleared)
	assert.Equal(t, 3, carts.attempts["u1"])
	assert.DeepEqual(t, []int64{1, 2}, reader.committed)
}

func TestPoller_StopsWithoutCommittingFailedClear(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafkaGo.Message{
			message(t, 1, map[string]any{"user_id": "broken"}),
			message(t, 2, map[string]any{"user_id": "u2"}),
		},
		drained: cancel,
	}
	carts := &fakeClearer{
		failures: map[string]int{"broken": -1},
		onFailure: func(attempts int) {
			if attempts == 3 {
				cancel()
			}
		},
	}

	p := New(reader, carts)
	p.backoff = time.Millisecond
	p.Run(ctx)

	assert.Equal(t, 0, len(carts.cleared))
	assert.Equal(t, 0, len(reader.committed))
	assert.Equal(t, 1, reader.next, "the next message must not be fetched past a failed clear")
}

func setupTestRedis(t *testing.T) *c.RedisCache {
	// Create an in-memory Redis server
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return c.NewRedisCache(client)
}

func setupTestDB(t *testing.T) r.CartRepository {
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := r.ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := r.NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))
	return repo
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache := setupTestRedis(t)
	repo := setupTestDB(t)
	brokers := setupKafka(t)
	createTopic(t, brokers, Topic)

	carts := service.NewCartService(repo, cache)
	_, err := carts.AddItem(ctx, "123", "P1", domain.SizeM, 1)
	require.NoError(t, err)
	cart, err := carts.GetCart(ctx, "123")
	require.NoError(t, err)
	assert.Equal(t, 1, len(cart.Items))

	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(brokers),
		Topic:                  Topic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err = w.WriteMessages(ctx, kafkaGo.Message{
		Key:   []byte("chId"),
		Value: message(t, 0, map[string]any{"checkout_id": "chId", "user_id": "123", "total_amount": "1"}).Value,
		Headers: []kafkaGo.Header{
			{Key: "event_type", Value: []byte("checkout")},
		},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	p := NewPoller(carts, brokers)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		p.Run(runCtx)
		close(done)
	}()
	defer func() {
		stop()
		<-done
		p.Close()
	}()

	require.Eventually(t, func() bool {
		stored, errGet := repo.GetCart(ctx, "123")
		return errGet == nil && len(stored.Items) == 0
	}, 30*time.Second, 500*time.Millisecond)

	// The clear writes the emptied cart through to the cache.
	require.Eventually(t, func() bool {
		cached, errCache := cache.Get(ctx, "123")
		return errCache == nil && len(cached.Items) == 0 && cached.Version > cart.Version
	}, 15*time.Second, 500*time.Millisecond)
}
