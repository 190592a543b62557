package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/pkg/types"
)

func sealedSession(id string) *types.DebateSession {
	ended := time.Now().UTC()
	return &types.DebateSession{
		ID:           id,
		Title:        "Remote work",
		HostID:       "host",
		Participants: []types.Participant{{ID: "host", Name: "Host"}},
		Messages: []types.Message{
			{ID: "m1", SessionID: id, Position: 1, SenderID: "host", Content: "hello"},
			{ID: "m2", SessionID: id, Position: 2, SenderID: types.ModeratorID, Content: "Debate Summary: ...", IsSynthesized: true, Kind: types.KindSummary},
		},
		Status:  types.SessionEnded,
		EndedAt: &ended,
		Summary: "digest",
		Tags:    []string{"work"},
	}
}

func TestNewStore_Types(t *testing.T) {
	s, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	assert.NotNil(t, s)

	s, err = NewStore("")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewStore(StoreTypeRedis)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewStore("cassandra")
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	original := sealedSession(id)
	require.NoError(t, store.Put(ctx, original))

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, original.Title, got.Title)
	assert.Equal(t, "digest", got.Summary)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, types.KindSummary, got.Messages[1].Kind)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, store.Delete(ctx, id))
}

func TestMemoryStore(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	ctx := context.Background()

	original := sealedSession("s1")
	require.NoError(t, store.Put(ctx, original))
	original.Messages[0].Content = "mutated"

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Messages[0].Content)

	got.Participants[0].Name = "changed"
	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Host", again.Participants[0].Name)
}

func TestMemoryStore_Closed(t *testing.T) {
	store, err := NewStore(StoreTypeMemory)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	assert.ErrorIs(t, store.Put(context.Background(), sealedSession("s1")), ErrClosed)
}

// TestRedisStore runs against a live server when AGORA_TEST_REDIS_ADDR is set
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("AGORA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGORA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	store, err := NewStore(StoreTypeRedis,
		WithRedisClient(client),
		WithRedisTTL(time.Minute),
		WithRedisPrefix("agora-test:"),
	)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	exerciseStore(t, store)
}

func TestRedisStore_Defaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	store, err := NewStore(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	rs, ok := store.(*redisStore)
	require.True(t, ok)
	assert.Equal(t, defaultRedisTTL, rs.ttl)
	assert.Equal(t, "agora:session:s1", rs.key("s1"))
}
