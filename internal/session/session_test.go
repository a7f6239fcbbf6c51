package session

import (
	"context"
	"forecastica/pkg/api"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]Snapshot
	saves int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snaps: make(map[uuid.UUID]Snapshot)}
}

func (m *memoryStore) LoadSession(ctx context.Context, id uuid.UUID) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	return snap, ok, nil
}

func (m *memoryStore) SaveSession(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.Id] = snap
	m.saves++
	return nil
}

func TestRequestBuildersUseSessionFiles(t *testing.T) {
	ctx := context.Background()
	s := New()

	s.SetSourceFile(ctx, "sales.csv")
	assert.Equal(t, "sales.csv", s.CurrentFile())

	s.SetCurrentFile(ctx, "sales_v1.csv")
	s.SetCurrentFile(ctx, "")
	assert.Equal(t, "sales_v1.csv", s.CurrentFile())
	assert.Equal(t, "sales.csv", s.SourceFile())

	assert.Equal(t, api.TrainRequest{TargetColumn: "y", ProblemType: api.Regression, ProcessedFile: "sales_v1.csv"}, s.TrainRequest("y", api.Regression))
	assert.Equal(t, api.RemoveColumnsRequest{Columns: []string{"a"}, Filename: "sales.csv"}, s.RemoveColumnsRequest([]string{"a"}))
	assert.Equal(t, api.HandleNullsRequest{Columns: nil, Action: api.NullFillMean, Filename: "sales.csv"}, s.HandleNullsRequest(nil, api.NullFillMean))
}

func TestDistinctSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()
	a.SetSourceFile(ctx, "a.csv")
	b.SetSourceFile(ctx, "b.csv")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "a.csv", a.TrainRequest("y", api.Classification).ProcessedFile)
	assert.Equal(t, "b.csv", b.TrainRequest("y", api.Classification).ProcessedFile)
}

func TestSessionCacheLoadsFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	id := uuid.New()
	store.snaps[id] = Snapshot{Id: id, SourceFile: "x.csv", CurrentFile: "x_v1.csv"}

	cache := NewSessionCache(4, store)
	s, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "x_v1.csv", s.CurrentFile())

	again, err := cache.Get(ctx, id)
	require.NoError(t, err)
	assert.Same(t, s, again)

	s.SetCurrentFile(ctx, "x_v2.csv")
	assert.Equal(t, "x_v2.csv", store.snaps[id].CurrentFile)
}

func TestSessionCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache := NewSessionCache(2, newMemoryStore())

	var evicted []uuid.UUID
	cache.OnEvict(func(s *Session) { evicted = append(evicted, s.ID) })

	a, err := cache.Create(ctx)
	require.NoError(t, err)
	b, err := cache.Create(ctx)
	require.NoError(t, err)

	_, err = cache.Get(ctx, a.ID)
	require.NoError(t, err)

	_, err = cache.Create(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
	assert.Equal(t, []uuid.UUID{b.ID}, evicted)
}

func TestSessionCacheWithoutStore(t *testing.T) {
	cache := NewSessionCache(1, nil)
	id := uuid.New()

	s, err := cache.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.Empty(t, s.CurrentFile())
}
