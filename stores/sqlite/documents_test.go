package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"scrapbook-server/core"
	"scrapbook-server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recipeDocument = `[
	{"type":"image","id":"item1","src":"/uploads/cake-01hx.png","x":1,"y":2},
	{"type":"text","id":"item2","html":"<i>flour</i>","image":"data:image/png;base64,AA=="}
]`

func newStore(t *testing.T) *DocumentStore {
	t.Helper()
	store, err := NewDocumentStore(filepath.Join(t.TempDir(), "scrapbook.db"), testutil.FixedClock())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func items(t *testing.T, doc string) []core.Item {
	t.Helper()
	decoded, err := core.DecodeDocument([]byte(doc))
	require.NoError(t, err)
	return decoded
}

func TestDocumentStore_SaveLoad(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	want := items(t, recipeDocument)

	require.NoError(t, store.Save(ctx, "recipes", want))
	got, err := store.Load(ctx, "recipes")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.Save(ctx, "recipes", items(t, `[]`)))
	got, err = store.Load(ctx, "recipes")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocumentStore_LoadMissing(t *testing.T) {
	store := newStore(t)

	got, err := store.Load(context.Background(), "nothing")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDocumentStore_LoadCorrupt(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, err := store.db.Exec("INSERT INTO documents (id, data, updated_at) VALUES (?, ?, 0)", "bad", []byte("{oops"))
	require.NoError(t, err)

	_, err = store.Load(ctx, "bad")
	assert.True(t, errors.Is(err, core.ErrCorruptDocument))
}

func TestDocumentStore_InvalidID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.Save(ctx, "a/../../etc", items(t, recipeDocument))
	assert.True(t, errors.Is(err, core.ErrInvalidIdentifier))

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDocumentStore_RenameAndDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	want := items(t, recipeDocument)
	require.NoError(t, store.Save(ctx, "recipes", want))
	require.NoError(t, store.Save(ctx, "taken", items(t, `[]`)))

	_, err := store.Rename(ctx, "recipes", "taken")
	assert.True(t, errors.Is(err, core.ErrAlreadyExists))

	got, err := store.Load(ctx, "recipes")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	got, err = store.Load(ctx, "taken")
	require.NoError(t, err)
	assert.Equal(t, items(t, `[]`), got)

	_, err = store.Rename(ctx, "missing", "whatever")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	newID, err := store.Rename(ctx, "recipes", "baking")
	require.NoError(t, err)
	assert.Equal(t, "baking", newID)

	got, err = store.Load(ctx, "baking")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ids, err := store.ListIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"baking", "taken"}, ids)

	require.NoError(t, store.Delete(ctx, "baking"))
	require.NoError(t, store.Delete(ctx, "baking"))

	ids, err = store.ListIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"taken"}, ids)
}
