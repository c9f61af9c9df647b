package pollstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "pollstate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Record{AccountID: 7, Mode: "ACTIVE", LastChangeMS: 1000, Reason: "active trading"}))
	require.NoError(t, s.Upsert(ctx, Record{AccountID: 8, Mode: "IDLE", LastChangeMS: 2000, Reason: "no trading activity"}))

	records, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byAccount := map[int64]Record{}
	for _, rec := range records {
		byAccount[rec.AccountID] = rec
	}
	assert.Equal(t, "ACTIVE", byAccount[7].Mode)
	assert.Equal(t, "active trading", byAccount[7].Reason)
	assert.Equal(t, int64(2000), byAccount[8].LastChangeMS)
}

func TestStore_UpsertReplacesMode(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, Record{AccountID: 7, Mode: "IDLE", LastChangeMS: 1000}))
	require.NoError(t, s.Upsert(ctx, Record{AccountID: 7, Mode: "CRITICAL", LastChangeMS: 5000, Reason: "high activity"}))

	records, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "CRITICAL", records[0].Mode)
	assert.Equal(t, int64(5000), records[0].LastChangeMS)
}

func TestStore_EmptyDatabase(t *testing.T) {
	s := openTestStore(t)
	records, err := s.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_Guards(t *testing.T) {
	var nilStore *Store
	assert.Error(t, nilStore.Upsert(context.Background(), Record{}))
	_, err := nilStore.LoadAll(context.Background())
	assert.Error(t, err)
	assert.NoError(t, nilStore.Close())

	_, err = New("")
	assert.Error(t, err)
}
