package gc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"scrapbook-server/core"
	"scrapbook-server/internal/testutil"
	"scrapbook-server/stores/filesystem"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	fs        afero.Fs
	clock     *testutil.StubClock
	documents *filesystem.DocumentStore
	uploads   *filesystem.UploadStore
	collector *Collector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	clock := testutil.FixedClock()

	documents, err := filesystem.NewDocumentStore(fs, "/data/scrapbooks")
	require.NoError(t, err)
	uploads, err := filesystem.NewUploadStore(fs, "/data/uploads", clock, 0)
	require.NoError(t, err)

	return &fixture{
		fs:        fs,
		clock:     clock,
		documents: documents,
		uploads:   uploads,
		collector: NewCollector(documents, uploads, clock),
	}
}

func (f *fixture) upload(t *testing.T, name string) core.AssetBlob {
	t.Helper()
	blob, err := f.uploads.Put(context.Background(), strings.NewReader("bytes of "+name), name, "")
	require.NoError(t, err)
	return blob
}

func (f *fixture) save(t *testing.T, id string, refs ...string) {
	t.Helper()
	items := []core.Item{item(t, map[string]any{"type": "rect", "id": "item1"})}
	for n, ref := range refs {
		items = append(items, item(t, map[string]any{"type": "image", "id": fmt.Sprintf("item%d", n+2), "src": ref}))
	}
	require.NoError(t, f.documents.Save(context.Background(), id, items))
}

func item(t *testing.T, fields map[string]any) core.Item {
	t.Helper()
	it, err := core.NewItem(fields)
	require.NoError(t, err)
	return it
}

func (f *fixture) exists(t *testing.T, blob core.AssetBlob) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, "/data/uploads/"+blob.Filename)
	require.NoError(t, err)
	return ok
}

func TestSweep_ZeroGraceDeletesFreshOrphan(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "a.png")

	report, err := f.collector.Sweep(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, report.Failures)
	assert.False(t, f.exists(t, a))
}

func TestSweep_ReferencedSurvivesUntilDocumentDeleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.upload(t, "a.png")
	f.save(t, "trip", a.Reference())
	f.clock.Advance(48 * time.Hour)

	report, err := f.collector.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Protected)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, f.exists(t, a))

	require.NoError(t, f.documents.Delete(ctx, "trip"))

	report, err = f.collector.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.EqualValues(t, a.Size, report.BytesReclaimed)
	assert.False(t, f.exists(t, a))
}

func TestSweep_YoungOrphanSurvives(t *testing.T) {
	f := newFixture(t)
	old := f.upload(t, "old.png")
	f.clock.Advance(23 * time.Hour)
	young := f.upload(t, "young.webm")
	f.clock.Advance(2 * time.Hour)

	report, err := f.collector.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Young)
	assert.False(t, f.exists(t, old))
	assert.True(t, f.exists(t, young))
}

func TestSweep_BlobFromTheFutureIsKept(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(time.Hour)
	future := f.upload(t, "late.png")
	f.clock.Advance(-time.Hour)

	report, err := f.collector.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Young)
	assert.True(t, f.exists(t, future))
}

func TestSweep_SharedBlobNeedsAllReferencesGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := f.upload(t, "shared.png")
	f.save(t, "one", shared.Reference())
	f.save(t, "two", "http://localhost:3001"+shared.Reference()+"?v=2")
	f.clock.Advance(time.Hour)

	require.NoError(t, f.documents.Delete(ctx, "one"))
	report, err := f.collector.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deleted)
	assert.True(t, f.exists(t, shared))

	f.save(t, "two")
	report, err = f.collector.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}

func TestSweep_CorruptDocumentIsSkipped(t *testing.T) {
	f := newFixture(t)
	kept := f.upload(t, "kept.png")
	orphan := f.upload(t, "orphan.png")
	f.save(t, "good", kept.Reference())
	require.NoError(t, afero.WriteFile(f.fs, "/data/scrapbooks/broken.json", []byte(`[{"src":`), 0644))
	f.clock.Advance(time.Hour)

	report, err := f.collector.Sweep(context.Background(), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedDocuments)
	assert.Equal(t, 1, report.Deleted)
	assert.True(t, f.exists(t, kept))
	assert.False(t, f.exists(t, orphan))
}

func TestSweep_InlineImagesAreNotReferences(t *testing.T) {
	f := newFixture(t)
	blob := f.upload(t, "snapshot.png")
	f.save(t, "notes", "data:image/png;base64,"+blob.Filename)

	report, err := f.collector.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}

// Stores with injectable failures.

type stubDocuments struct {
	core.DocumentStore
	ids     []string
	docs    map[string]string
	listErr error
	loadErr map[string]error
}

func (s *stubDocuments) ListIDs(ctx context.Context) ([]string, error) {
	return s.ids, s.listErr
}

func (s *stubDocuments) Load(ctx context.Context, id string) ([]core.Item, error) {
	if err := s.loadErr[id]; err != nil {
		return nil, err
	}
	return core.DecodeDocument([]byte(s.docs[id]))
}

type stubUploads struct {
	core.UploadStore
	mu        sync.Mutex
	blobs     []core.AssetBlob
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func (s *stubUploads) List(ctx context.Context) ([]core.AssetBlob, error) {
	return s.blobs, s.listErr
}

func (s *stubUploads) Delete(ctx context.Context, filename string) error {
	if err := s.deleteErr[filename]; err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, filename)
	return nil
}

func (s *stubUploads) Open(ctx context.Context, filename string) (io.ReadCloser, core.AssetBlob, error) {
	return nil, core.AssetBlob{}, core.ErrNotFound
}

func oldBlob(clock core.Clock, name string) core.AssetBlob {
	return core.AssetBlob{Filename: name, Kind: core.AssetImage, Size: 10, CreatedAt: clock.Now().Add(-72 * time.Hour)}
}

func TestSweep_DeleteFailuresAreCollected(t *testing.T) {
	clock := testutil.FixedClock()
	uploads := &stubUploads{
		blobs:     []core.AssetBlob{oldBlob(clock, "a.png"), oldBlob(clock, "b.png")},
		deleteErr: map[string]error{"a.png": core.NewStoreError("delete", "a.png", core.ErrWriteFailure, errors.New("permission denied"))},
	}
	collector := NewCollector(&stubDocuments{}, uploads, clock)

	report, err := collector.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Deleted)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a.png", report.Failures[0].Filename)
	assert.Contains(t, report.Failures[0].Error, "permission denied")
	assert.Equal(t, []string{"b.png"}, uploads.deleted)
}

func TestSweep_StoreUnavailable(t *testing.T) {
	clock := testutil.FixedClock()
	diskErr := errors.New("input/output error")

	testCases := []struct {
		name      string
		documents *stubDocuments
		uploads   *stubUploads
	}{
		{
			name:      "documents cannot be listed",
			documents: &stubDocuments{listErr: diskErr},
			uploads:   &stubUploads{},
		},
		{
			name:      "uploads cannot be listed",
			documents: &stubDocuments{},
			uploads:   &stubUploads{listErr: diskErr},
		},
		{
			name: "document unreadable",
			documents: &stubDocuments{
				ids:     []string{"trip"},
				loadErr: map[string]error{"trip": core.NewStoreError("load", "trip", core.ErrStoreUnavailable, diskErr)},
			},
			uploads: &stubUploads{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.uploads.blobs = []core.AssetBlob{oldBlob(clock, "a.png")}
			collector := NewCollector(tc.documents, tc.uploads, clock)

			_, err := collector.Sweep(context.Background(), 0)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
			assert.Empty(t, tc.uploads.deleted, "nothing may be deleted with an incomplete reference set")
		})
	}
}

func TestSweep_VanishedDocumentIsSkipped(t *testing.T) {
	clock := testutil.FixedClock()
	documents := &stubDocuments{
		ids:     []string{"gone", "trip"},
		docs:    map[string]string{"trip": `[{"type":"image","id":"item1","src":"/uploads/a.png"}]`},
		loadErr: map[string]error{"gone": core.NewStoreError("load", "gone", core.ErrNotFound, nil)},
	}
	uploads := &stubUploads{blobs: []core.AssetBlob{oldBlob(clock, "a.png"), oldBlob(clock, "b.png")}}
	collector := NewCollector(documents, uploads, clock)
	collector.SetConcurrency(1)

	report, err := collector.Sweep(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Protected)
	assert.Equal(t, []string{"b.png"}, uploads.deleted)
}

func TestSweep_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.png")
	f.save(t, "trip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.collector.Sweep(ctx, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

// renamingDocuments renames one document right after the first listing, as a
// client would while a sweep is loading documents.
type renamingDocuments struct {
	core.DocumentStore
	from, to string
	once     sync.Once
}

func (r *renamingDocuments) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := r.DocumentStore.ListIDs(ctx)
	r.once.Do(func() {
		if _, renameErr := r.DocumentStore.Rename(ctx, r.from, r.to); renameErr != nil {
			panic(renameErr)
		}
	})
	return ids, err
}

func TestSweep_DocumentRenamedDuringSweep(t *testing.T) {
	f := newFixture(t)
	a := f.upload(t, "a.png")
	f.save(t, "trip", a.Reference())
	f.clock.Advance(48 * time.Hour)

	documents := &renamingDocuments{DocumentStore: f.documents, from: "trip", to: "trip-2024"}
	collector := NewCollector(documents, f.uploads, f.clock)

	report, err := collector.Sweep(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 1, report.Protected)
	assert.True(t, f.exists(t, a), "blob referenced by the renamed document was deleted")

	ids, err := f.documents.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-2024"}, ids)
}
