package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/amazon-product-scraper/internal/models"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	args := m.Called(ctx, key)
	cmd := redis.NewStringCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(args.String(0))
	}
	return cmd
}

func (m *MockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	args := m.Called(ctx, key, value, expiration)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func sampleProduct() *models.Product {
	p := models.NewProduct("B0LAMP0001", "https://www.amazon.com/dp/B0LAMP0001")
	p.Title = models.Ptr("Desk Lamp")
	p.Price = models.Ptr(24.5)
	p.ScrapedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return p
}

func TestKey(t *testing.T) {
	a, err := Key("https://www.amazon.com/Desk-Lamp/dp/B0LAMP0001/ref=sr_1_1?th=1")
	require.NoError(t, err)
	b, err := Key("amazon.com/gp/product/B0LAMP0001")
	require.NoError(t, err)
	assert.Equal(t, "product:com:B0LAMP0001", a)
	assert.Equal(t, a, b)

	c, err := Key("https://www.amazon.de/dp/B0LAMP0001")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = Key("https://example.com/dp/B0LAMP0001")
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2, time.Minute)

	_, err := m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "a", sampleProduct()))
	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "B0LAMP0001", got.ASIN)

	got.Title = models.Ptr("changed")
	again, _ := m.Get(ctx, "a")
	assert.Equal(t, "Desk Lamp", *again.Title)

	require.NoError(t, m.Set(ctx, "b", sampleProduct()))
	require.NoError(t, m.Set(ctx, "c", sampleProduct()))
	assert.Equal(t, 2, m.Len())
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 20*time.Millisecond)
	require.NoError(t, m.Set(ctx, "a", sampleProduct()))

	assert.Eventually(t, func() bool {
		_, err := m.Get(ctx, "a")
		return errors.Is(err, ErrMiss)
	}, time.Second, 10*time.Millisecond)
}

func TestRedisGet(t *testing.T) {
	ctx := context.Background()
	raw, err := json.Marshal(sampleProduct())
	require.NoError(t, err)

	t.Run("hit", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Get", ctx, "scraper:k").Return(string(raw), nil)

		p, err := NewRedis(client, "scraper:", time.Minute).Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, sampleProduct(), p)
		client.AssertExpectations(t)
	})

	t.Run("miss", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Get", ctx, "scraper:k").Return("", redis.Nil)

		_, err := NewRedis(client, "scraper:", time.Minute).Get(ctx, "k")
		assert.ErrorIs(t, err, ErrMiss)
	})

	t.Run("connection error", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Get", ctx, "scraper:k").Return("", errors.New("connection refused"))

		_, err := NewRedis(client, "scraper:", time.Minute).Get(ctx, "k")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMiss)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("corrupt payload", func(t *testing.T) {
		client := new(MockRedisClient)
		client.On("Get", ctx, "scraper:k").Return("{not json", nil)

		_, err := NewRedis(client, "scraper:", time.Minute).Get(ctx, "k")
		assert.ErrorContains(t, err, "failed to decode")
	})
}

func TestRedisSet(t *testing.T) {
	ctx := context.Background()
	client := new(MockRedisClient)
	client.On("Set", ctx, "scraper:k", mock.MatchedBy(func(v []byte) bool {
		var p models.Product
		return json.Unmarshal(v, &p) == nil && p.ASIN == "B0LAMP0001"
	}), 5*time.Minute).Return(nil)

	require.NoError(t, NewRedis(client, "scraper:", 5*time.Minute).Set(ctx, "k", sampleProduct()))
	client.AssertExpectations(t)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) (*models.Product, error) {
	return nil, errors.New("down")
}

func (failingCache) Set(context.Context, string, *models.Product) error {
	return errors.New("down")
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once then hits", func(t *testing.T) {
		c := NewMemory(10, time.Minute)
		calls := 0
		load := func(context.Context) *models.Product {
			calls++
			return sampleProduct()
		}

		first := GetOrLoad(ctx, c, "k", nil, load)
		second := GetOrLoad(ctx, c, "k", nil, load)
		require.NotNil(t, first)
		require.NotNil(t, second)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil results are not cached", func(t *testing.T) {
		c := NewMemory(10, time.Minute)
		calls := 0
		load := func(context.Context) *models.Product {
			calls++
			return nil
		}

		assert.Nil(t, GetOrLoad(ctx, c, "k", nil, load))
		assert.Nil(t, GetOrLoad(ctx, c, "k", nil, load))
		assert.Equal(t, 2, calls)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("broken cache falls through", func(t *testing.T) {
		p := GetOrLoad(ctx, failingCache{}, "k", nil, func(context.Context) *models.Product { return sampleProduct() })
		require.NotNil(t, p)
	})

	t.Run("no cache", func(t *testing.T) {
		p := GetOrLoad(ctx, nil, "k", nil, func(context.Context) *models.Product { return sampleProduct() })
		require.NotNil(t, p)
	})
}

func TestLayered(t *testing.T) {
	ctx := context.Background()
	front := NewMemory(10, time.Minute)
	back := NewMemory(10, time.Minute)
	l := Layered{front, back}

	require.NoError(t, back.Set(ctx, "k", sampleProduct()))
	p, err := l.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "B0LAMP0001", p.ASIN)
	assert.Equal(t, 1, front.Len())

	_, err = l.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	_, err = Layered{failingCache{}, front}.Get(ctx, "k")
	assert.NoError(t, err)

	_, err = Layered{failingCache{}}.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)

	assert.Error(t, Layered{front, failingCache{}}.Set(ctx, "x", sampleProduct()))
	_, err = front.Get(ctx, "x")
	assert.NoError(t, err)
}
