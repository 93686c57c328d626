package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, max int64) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test:incidents", max, nil), mr
}

// stores runs fn against both Store implementations.
func stores(t *testing.T, max int, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore(max)) })
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t, int64(max))
		fn(t, s)
	})
}

func TestStore_RecordAndListNewestFirst(t *testing.T) {
	stores(t, 10, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)

		for i := 0; i < 3; i++ {
			inc, err := s.Record(ctx, Incident{
				Type:       TypeURLScan,
				Target:     fmt.Sprintf("http://site%d.example", i),
				Prediction: "Phishing",
				Confidence: 0.99,
				Timestamp:  base.Add(time.Duration(i) * time.Minute),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(i+1), inc.ID)
		}

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "http://site2.example", all[0].Target)
		assert.Equal(t, int64(3), all[0].ID)
		assert.Equal(t, "http://site0.example", all[2].Target)
		assert.True(t, all[0].Timestamp.Equal(base.Add(2*time.Minute)))

		two, err := s.List(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, all[:2], two)
	})
}

func TestStore_CapsEntries(t *testing.T) {
	stores(t, 3, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, err := s.Record(ctx, Incident{Type: TypeEmailAnalysis, Target: fmt.Sprint(i)})
			require.NoError(t, err)
		}

		all, err := s.List(ctx, 100)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"4", "3", "2"}, []string{all[0].Target, all[1].Target, all[2].Target})
	})
}

func TestStore_StampsTimestamp(t *testing.T) {
	stores(t, 10, func(t *testing.T, s Store) {
		before := time.Now().Add(-time.Second)
		inc, err := s.Record(context.Background(), Incident{Type: TypeURLScan})
		require.NoError(t, err)
		assert.True(t, inc.Timestamp.After(before))
	})
}

func TestStore_ConcurrentRecordsGetUniqueIDs(t *testing.T) {
	stores(t, 1000, func(t *testing.T, s Store) {
		var wg sync.WaitGroup
		ids := make(chan int64, 50)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inc, err := s.Record(context.Background(), Incident{Type: TypeURLScan})
				if assert.NoError(t, err) {
					ids <- inc.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[int64]bool{}
		for id := range ids {
			assert.False(t, seen[id], "duplicate id %d", id)
			seen[id] = true
		}
		assert.Len(t, seen, 50)
	})
}

func TestRedisStore_SkipsCorruptEntries(t *testing.T) {
	s, mr := newRedisStore(t, 10)
	ctx := context.Background()

	_, err := s.Record(ctx, Incident{Type: TypeURLScan, Target: "ok"})
	require.NoError(t, err)
	_, err = mr.Lpush("test:incidents", "{not json")
	require.NoError(t, err)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "ok", all[0].Target)
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t, 10)
	mr.Close()

	_, err := s.Record(context.Background(), Incident{Type: TypeURLScan})
	assert.Error(t, err)
	_, err = s.List(context.Background(), 0)
	assert.Error(t, err)
	assert.Error(t, s.Ping(context.Background()))
}

func TestIncident_JSON(t *testing.T) {
	inc := Incident{
		ID:         7,
		Type:       TypeEmailAnalysis,
		Target:     "hello",
		Prediction: "Spam",
		Confidence: 0.75,
		Timestamp:  time.Date(2026, 5, 6, 7, 8, 9, 0, time.Local),
	}
	data, err := json.Marshal(inc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"type":"Email Analysis","target":"hello","prediction":"Spam","confidence":0.75,"timestamp":"2026-05-06 07:08:09"}`, string(data))
}

func TestEmailTarget(t *testing.T) {
	assert.Equal(t, "", EmailTarget(""))
	assert.Equal(t, "short body", EmailTarget("short body"))

	fifty := strings.Repeat("x", 50)
	assert.Equal(t, fifty, EmailTarget(fifty))
	assert.Equal(t, fifty+"...", EmailTarget(fifty+"tail"))
	assert.Equal(t, strings.Repeat("ü", 50)+"...", EmailTarget(strings.Repeat("ü", 51)))
}
