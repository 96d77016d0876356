package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"scrapbook-server/core"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// DocumentStore keeps every scrapbook as one row in a single-file database.
type DocumentStore struct {
	db    *sql.DB
	clock core.Clock
}

// NewDocumentStore opens (or creates) the database at dataSourceName.
func NewDocumentStore(dataSourceName string, clock core.Clock) (*DocumentStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time keeps "database is locked" out of concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents table: %w", err)
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &DocumentStore{db: db, clock: clock}, nil
}

func (s *DocumentStore) Close() error {
	return s.db.Close()
}

func (s *DocumentStore) Save(ctx context.Context, id string, items []core.Item) error {
	safeID, err := core.Sanitize(id)
	if err != nil {
		return err
	}
	data, err := core.EncodeDocument(items)
	if err != nil {
		return core.NewStoreError("save", safeID, core.ErrWriteFailure, err)
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": safeID,
		"data_length": len(data),
	})

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		safeID, data, s.clock.Now().UnixMilli())
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return core.NewStoreError("save", safeID, core.ErrWriteFailure, err)
	}

	log.Info("Document saved successfully")
	return nil
}

func (s *DocumentStore) Load(ctx context.Context, id string) ([]core.Item, error) {
	safeID, err := core.Sanitize(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("document_id", safeID)

	var data []byte
	err = s.db.QueryRowContext(ctx, "SELECT data FROM documents WHERE id = ?", safeID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Document not saved yet, loading empty scrapbook")
			return []core.Item{}, nil
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, core.NewStoreError("load", safeID, core.ErrStoreUnavailable, err)
	}

	items, err := core.DecodeDocument(data)
	if err != nil {
		log.WithError(err).Error("Stored document is corrupt")
		return nil, core.NewStoreError("load", safeID, core.ErrCorruptDocument, err)
	}
	return items, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	safeID, err := core.Sanitize(id)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", safeID); err != nil {
		logrus.WithField("document_id", safeID).WithError(err).Error("Failed to delete document")
		return core.NewStoreError("delete", safeID, core.ErrWriteFailure, err)
	}
	return nil
}

func (s *DocumentStore) Rename(ctx context.Context, oldID, newID string) (string, error) {
	safeOld, err := core.Sanitize(oldID)
	if err != nil {
		return "", err
	}
	safeNew, err := core.Sanitize(newID)
	if err != nil {
		return "", err
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": safeOld,
		"new_id":      safeNew,
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", core.NewStoreError("rename", safeOld, core.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if err := rowExists(ctx, tx, safeOld); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", core.NewStoreError("rename", safeOld, core.ErrNotFound, nil)
		}
		return "", core.NewStoreError("rename", safeOld, core.ErrStoreUnavailable, err)
	}
	if safeOld == safeNew {
		return safeNew, nil
	}

	err = rowExists(ctx, tx, safeNew)
	switch {
	case err == nil:
		return "", core.NewStoreError("rename", safeNew, core.ErrAlreadyExists, nil)
	case !errors.Is(err, sql.ErrNoRows):
		return "", core.NewStoreError("rename", safeNew, core.ErrStoreUnavailable, err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE documents SET id = ? WHERE id = ?", safeNew, safeOld); err != nil {
		log.WithError(err).Error("Failed to rename document")
		return "", core.NewStoreError("rename", safeOld, core.ErrWriteFailure, err)
	}
	if err := tx.Commit(); err != nil {
		log.WithError(err).Error("Failed to commit rename")
		return "", core.NewStoreError("rename", safeOld, core.ErrWriteFailure, err)
	}

	log.Info("Document renamed successfully")
	return safeNew, nil
}

func rowExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	return tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", id).Scan(&one)
}

func (s *DocumentStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM documents")
	if err != nil {
		return nil, core.NewStoreError("list", "", core.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, core.NewStoreError("list", "", core.ErrStoreUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewStoreError("list", "", core.ErrStoreUnavailable, err)
	}
	return ids, nil
}

var _ core.DocumentStore = (*DocumentStore)(nil)
