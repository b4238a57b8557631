package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movt.app/backend/internal/store"
	"movt.app/backend/internal/utils"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]*store.User
	mappings map[int64]*store.IdentityMapping
	inserts  int
}

func newFakeStore(users ...*store.User) *fakeStore {
	s := &fakeStore{users: map[int64]*store.User{}, mappings: map[int64]*store.IdentityMapping{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeStore) GetMapping(_ context.Context, id int64) (*store.IdentityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings[id], nil
}

func (s *fakeStore) GetLocalIDByExternal(_ context.Context, external string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.mappings {
		if m.ExternalUUID == external {
			return id, nil
		}
	}
	return 0, nil
}

func (s *fakeStore) InsertMapping(_ context.Context, id int64, external string, degraded bool) (*store.IdentityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[id]; ok {
		return nil, store.ErrConflict
	}
	s.inserts++
	m := &store.IdentityMapping{LocalUserID: id, ExternalUUID: external, Degraded: degraded, CreatedAt: time.Now()}
	s.mappings[id] = m
	return m, nil
}

func (s *fakeStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

type fakeProvider struct {
	accounts     map[string]string
	provisionErr error
	lookups      atomic.Int32
	provisions   atomic.Int32
}

func (p *fakeProvider) FindAccountByEmail(_ context.Context, email string) (string, error) {
	p.lookups.Add(1)
	time.Sleep(5 * time.Millisecond)
	return p.accounts[email], nil
}

func (p *fakeProvider) ProvisionAccount(_ context.Context, email string) (string, error) {
	p.provisions.Add(1)
	if p.provisionErr != nil {
		return "", p.provisionErr
	}
	return "0b7d7f3e-8a51-4c3e-9d1e-5f0f7f6b2a10", nil
}

func TestResolveUsesExistingAccount(t *testing.T) {
	s := newFakeStore(&store.User{ID: 7, Email: "ana@example.com"})
	p := &fakeProvider{accounts: map[string]string{"ana@example.com": "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b"}}
	b := NewBridge(s, p, NewMemoryCache(time.Minute))

	id, err := b.ResolveExternalUUID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b", id)
	assert.False(t, s.mappings[7].Degraded)
	assert.Zero(t, p.provisions.Load())

	// second call is served from the cache
	id, err = b.ResolveExternalUUID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b", id)
	assert.EqualValues(t, 1, p.lookups.Load())
}

func TestResolveProvisionsMissingAccount(t *testing.T) {
	s := newFakeStore(&store.User{ID: 3, Email: "bia@example.com"})
	p := &fakeProvider{}
	b := NewBridge(s, p, nil)

	id, err := b.ResolveExternalUUID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "0b7d7f3e-8a51-4c3e-9d1e-5f0f7f6b2a10", id)
	assert.EqualValues(t, 1, p.provisions.Load())
}

func TestResolveFallsBackToDegradedIdentifier(t *testing.T) {
	s := newFakeStore(&store.User{ID: 9, Email: "caio@example.com"})
	p := &fakeProvider{provisionErr: errors.New("provider down")}
	b := NewBridge(s, p, nil)

	id, err := b.ResolveExternalUUID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, utils.DegradedUUID(9, "caio@example.com"), id)
	assert.True(t, s.mappings[9].Degraded)

	withoutProvider := NewBridge(newFakeStore(&store.User{ID: 9, Email: "caio@example.com"}), nil, nil)
	again, err := withoutProvider.ResolveExternalUUID(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestResolveUnknownUser(t *testing.T) {
	b := NewBridge(newFakeStore(), &fakeProvider{}, nil)
	id, err := b.ResolveExternalUUID(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, id)

	id, err = b.ResolveExternalUUID(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestConcurrentResolutionMapsOnce(t *testing.T) {
	s := newFakeStore(&store.User{ID: 5, Email: "duda@example.com"})
	p := &fakeProvider{}
	b := NewBridge(s, p, nil)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := b.ResolveExternalUUID(context.Background(), 5)
			assert.NoError(t, err)
			results[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.Equal(t, 1, s.inserts)
}

func TestResolveLocalUserID(t *testing.T) {
	s := newFakeStore()
	s.mappings[11] = &store.IdentityMapping{LocalUserID: 11, ExternalUUID: "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b"}
	b := NewBridge(s, nil, nil)
	ctx := context.Background()

	tests := []struct {
		candidate string
		want      int64
	}{
		{"42", 42},
		{" 8 ", 8},
		{"-1", 0},
		{"5A1F3C2B-7D4E-4F60-9A8B-1C2D3E4F5A6B", 11},
		{"5a1f3c2b-7d4e-4f60-9a8b-000000000000", 0},
		{"not-an-id", 0},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := b.ResolveLocalUserID(ctx, tt.candidate)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.candidate)
	}
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)

	cache.Set(ctx, 1, "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b")
	got, ok := cache.Get(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, "5a1f3c2b-7d4e-4f60-9a8b-1c2d3e4f5a6b", got)
	assert.True(t, mr.Exists("identity:local:1"))

	mr.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }
	cache.Set(context.Background(), 1, "x")

	_, ok := cache.Get(context.Background(), 1)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get(context.Background(), 1)
	assert.False(t, ok)
}
