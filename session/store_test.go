package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "state", "dbgctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	st, err := store.Load(ctx, "http://localhost:5000", "alice")
	require.NoError(t, err)
	assert.False(t, st.HasSession())
	assert.Equal(t, "alice", st.UserID())

	st.SetSession("s1")
	st.SetDump("crash.dmp")
	require.NoError(t, store.Save(ctx, "http://localhost:5000", st))

	st.SetDump("other.dmp")
	require.NoError(t, store.Save(ctx, "http://localhost:5000", st))

	loaded, err := store.Load(ctx, "http://localhost:5000", "alice")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{
		UserID:             "alice",
		SessionID:          "s1",
		DumpID:             "other.dmp",
		LastSelectedDumpID: "other.dmp",
	}, loaded.Snapshot())

	other, err := store.Load(ctx, "http://localhost:5000", "bob")
	require.NoError(t, err)
	assert.False(t, other.HasSession(), "state of another user is not reused")

	servers, err := store.Servers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:5000"}, servers)

	require.NoError(t, store.Clear(ctx, "http://localhost:5000"))
	cleared, err := store.Load(ctx, "http://localhost:5000", "alice")
	require.NoError(t, err)
	assert.False(t, cleared.HasSession())
}

func TestStoreDefaultUserIDIsStable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dbgctl.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	first, err := store.DefaultUserID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	second, err := reopened.DefaultUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStoreSavePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dbgctl.db")

	store, err := OpenStore(path)
	require.NoError(t, err)
	st := NewState("alice")
	st.SetSession("s7")
	st.SetDump("app.dmp")
	require.NoError(t, store.Save(ctx, "http://debug.internal:5000", st))

	var updatedAt string
	require.NoError(t, store.db.GetContext(ctx, &updatedAt,
		"SELECT updated_at FROM cli_state WHERE server_url = ?", "http://debug.internal:5000"))
	stamp, err := time.Parse(timestampLayout, updatedAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), stamp, time.Minute)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Load(ctx, "http://debug.internal:5000", "alice")
	require.NoError(t, err)
	assert.Equal(t, st.Snapshot(), loaded.Snapshot())
}

func TestStoreServersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	st := NewState("alice")
	for _, url := range []string{"http://a:5000", "http://b:5000", "http://a:5000"} {
		require.NoError(t, store.Save(ctx, url, st))
		time.Sleep(2 * time.Millisecond)
	}

	servers, err := store.Servers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:5000", "http://b:5000"}, servers)
}
