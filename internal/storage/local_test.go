package storage

import (
	"bytes"
	"context"
	"errors"
	"forecastica/pkg/api"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func TestLocalObjectStore_PutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	content := []byte("date,sales\n2024-01-01,10\n")
	err := objectStore.PutObject(context.Background(), "run-1/predictions.csv", bytes.NewReader(content))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(baseDir, "run-1", "predictions.csv"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	require.NoError(t, objectStore.PutObject(context.Background(), "run-1/predictions.csv", bytes.NewReader([]byte("y\n"))))
	data, err = os.ReadFile(filepath.Join(baseDir, "run-1", "predictions.csv"))
	require.NoError(t, err)
	assert.Equal(t, "y\n", string(data))
}

func TestLocalObjectStore_RejectsEscapingKeys(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	err := objectStore.PutObject(context.Background(), "../outside.txt", bytes.NewReader([]byte("x")))
	assert.Error(t, err)

	_, err = objectStore.ListObjects(context.Background(), "a/../../outside")
	assert.Error(t, err)

	assert.Error(t, objectStore.DeleteObjects(context.Background(), ".."))
}

func TestLocalObjectStore_ListAndDelete(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	ctx := context.Background()

	require.NoError(t, objectStore.PutObject(ctx, "run-1/a.png", bytes.NewReader([]byte("aa"))))
	require.NoError(t, objectStore.PutObject(ctx, "run-1/b.csv", bytes.NewReader([]byte("bbb"))))
	require.NoError(t, objectStore.PutObject(ctx, "run-2/c.png", bytes.NewReader([]byte("c"))))

	objects, err := objectStore.ListObjects(ctx, "run-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Object{{Name: "run-1/a.png", Size: 2}, {Name: "run-1/b.csv", Size: 3}}, objects)

	require.NoError(t, objectStore.DeleteObjects(ctx, "run-1"))
	_, err = objectStore.ListObjects(ctx, "run-1")
	assert.Error(t, err)

	objects, err = objectStore.ListObjects(ctx, "run-2")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

type mockFetcher struct {
	mu      sync.Mutex
	fetched []api.Artifact
	fail    map[api.Artifact]bool
}

func (m *mockFetcher) Download(ctx context.Context, ref api.Artifact) ([]byte, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, ref)
	m.mu.Unlock()

	if m.fail[ref] {
		return nil, errors.New("server unavailable")
	}
	return []byte("contents of " + ref.String()), nil
}

func TestSaveArtifacts(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	fetcher := &mockFetcher{}

	refs := []api.Artifact{"/download/predictions.csv", "", "http://server/images/shap.png?v=2", "/images/cm.png", "/download/predictions.csv"}
	var count int
	saved, err := SaveArtifacts(context.Background(), objectStore, fetcher, "run-1", refs, 2, func(Object) { count++ })
	require.NoError(t, err)

	names := make([]string, 0, len(saved))
	for _, o := range saved {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"run-1/cm.png", "run-1/predictions.csv", "run-1/shap.png"}, names)
	assert.Len(t, fetcher.fetched, 3)
	assert.Equal(t, 3, count)

	data, err := os.ReadFile(filepath.Join(objectStore.BaseDir(), "run-1", "cm.png"))
	require.NoError(t, err)
	assert.Equal(t, "contents of /images/cm.png", string(data))

	objects, err := objectStore.ListObjects(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Len(t, objects, 3)
}

func TestSaveArtifactsFailureRemovesPartialDownloads(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)
	require.NoError(t, objectStore.PutObject(context.Background(), "run-2/keep.csv", bytes.NewReader([]byte("k"))))

	fetcher := &mockFetcher{fail: map[api.Artifact]bool{"/images/cm.png": true}}

	// One worker: the csv is stored before the failing download runs.
	saved, err := SaveArtifacts(context.Background(), objectStore, fetcher, "run-1", []api.Artifact{"/x.csv", "/images/cm.png"}, 1, nil)
	assert.ErrorContains(t, err, "server unavailable")
	assert.Nil(t, saved)

	_, err = os.Stat(filepath.Join(baseDir, "run-1"))
	assert.True(t, os.IsNotExist(err))

	objects, err := objectStore.ListObjects(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Len(t, objects, 1)

	_, err = SaveArtifacts(context.Background(), objectStore, fetcher, "", []api.Artifact{"/x.csv"}, 1, nil)
	assert.Error(t, err)
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "x.csv", ArtifactName("/x.csv"))
	assert.Equal(t, "shap.png", ArtifactName("http://host:5000/images/shap.png?x=1"))
	assert.Equal(t, "", ArtifactName(""))
}
