package core

import (
	"context"
	"io"
	"time"
)

type (
	// AssetBlob describes one uploaded media file in the shared uploads area.
	// Blobs are never mutated; only the garbage collector deletes them.
	AssetBlob struct {
		Filename  string    `json:"filename"`
		Kind      AssetKind `json:"kind"`
		Size      int64     `json:"size"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// DocumentStore persists scrapbooks as ordered item lists keyed by id.
	DocumentStore interface {
		// Save replaces the whole item list stored for id, creating the
		// document on first save. Readers never observe a partial write.
		Save(ctx context.Context, id string, items []Item) error

		// Load returns the stored items. A document that was never saved
		// loads as an empty list without error.
		Load(ctx context.Context, id string) ([]Item, error)

		// Delete removes a document. Deleting a missing document succeeds.
		Delete(ctx context.Context, id string) error

		// Rename moves a document to newID and returns the sanitized new id.
		Rename(ctx context.Context, oldID, newID string) (string, error)

		// ListIDs returns every stored document id in no particular order.
		ListIDs(ctx context.Context) ([]string, error)
	}

	// UploadStore is the append-only blob area for uploaded media.
	UploadStore interface {
		Put(ctx context.Context, content io.Reader, declaredName, mediaType string) (AssetBlob, error)
		List(ctx context.Context) ([]AssetBlob, error)
		Open(ctx context.Context, filename string) (io.ReadCloser, AssetBlob, error)
		Delete(ctx context.Context, filename string) error
	}
)

// Reference is the path clients embed in an item's src field.
func (b AssetBlob) Reference() string {
	return AssetReference(b.Filename)
}
