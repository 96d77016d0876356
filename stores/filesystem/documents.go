package filesystem

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"scrapbook-server/core"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const documentExt = ".json"

// DocumentStore keeps one <id>.json file per scrapbook under a root
// directory. Saves on the same id are serialized in-process; between
// concurrent writers of one id the last submitted save wins.
type DocumentStore struct {
	fs    afero.Fs
	root  string
	locks *keyedMutex
}

// NewDocumentStore creates a document store rooted at root on fs, creating
// the directory when needed. All access is confined below root.
func NewDocumentStore(fs afero.Fs, root string) (*DocumentStore, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	return &DocumentStore{
		fs:    afero.NewBasePathFs(fs, root),
		root:  root,
		locks: newKeyedMutex(),
	}, nil
}

func documentPath(id string) string {
	return "/" + id + documentExt
}

func (s *DocumentStore) Save(ctx context.Context, id string, items []core.Item) error {
	safeID, err := core.Sanitize(id)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Warn("Rejected document id")
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"document_id": safeID,
		"item_count":  len(items),
	})

	data, err := core.EncodeDocument(items)
	if err != nil {
		log.WithError(err).Error("Failed to encode document")
		return core.NewStoreError("save", safeID, core.ErrWriteFailure, err)
	}

	unlock := s.locks.Lock(safeID)
	defer unlock()

	if err := writeFileAtomic(s.fs, "/", documentPath(safeID), bytes.NewReader(data)); err != nil {
		log.WithError(err).Error("Failed to write document")
		return core.NewStoreError("save", safeID, core.ErrWriteFailure, err)
	}

	log.WithField("data_length", len(data)).Info("Document saved successfully")
	return nil
}

func (s *DocumentStore) Load(ctx context.Context, id string) ([]core.Item, error) {
	safeID, err := core.Sanitize(id)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Warn("Rejected document id")
		return nil, err
	}
	log := logrus.WithField("document_id", safeID)

	data, err := afero.ReadFile(s.fs, documentPath(safeID))
	if err != nil {
		if isNotExist(err) {
			log.Debug("Document not saved yet, loading empty scrapbook")
			return []core.Item{}, nil
		}
		log.WithError(err).Error("Failed to read document")
		return nil, core.NewStoreError("load", safeID, core.ErrStoreUnavailable, err)
	}

	items, err := core.DecodeDocument(data)
	if err != nil {
		log.WithError(err).Error("Stored document is corrupt")
		return nil, core.NewStoreError("load", safeID, core.ErrCorruptDocument, err)
	}

	log.WithField("item_count", len(items)).Debug("Document loaded successfully")
	return items, nil
}

func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	safeID, err := core.Sanitize(id)
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Warn("Rejected document id")
		return err
	}
	log := logrus.WithField("document_id", safeID)

	unlock := s.locks.Lock(safeID)
	defer unlock()

	if err := s.fs.Remove(documentPath(safeID)); err != nil {
		if isNotExist(err) {
			log.Warn("Document not found for deletion, considered successful")
			return nil
		}
		log.WithError(err).Error("Failed to delete document")
		return core.NewStoreError("delete", safeID, core.ErrWriteFailure, err)
	}

	log.Info("Document deleted successfully")
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

	unlock := s.locks.Lock(safeOld, safeNew)
	defer unlock()

	oldPath, newPath := documentPath(safeOld), documentPath(safeNew)
	if _, err := s.fs.Stat(oldPath); err != nil {
		if isNotExist(err) {
			log.Warn("Document to rename not found")
			return "", core.NewStoreError("rename", safeOld, core.ErrNotFound, nil)
		}
		return "", core.NewStoreError("rename", safeOld, core.ErrStoreUnavailable, err)
	}
	if safeOld == safeNew {
		return safeNew, nil
	}

	exists, err := afero.Exists(s.fs, newPath)
	if err != nil {
		return "", core.NewStoreError("rename", safeNew, core.ErrStoreUnavailable, err)
	}
	if exists {
		log.Warn("Rename target already exists")
		return "", core.NewStoreError("rename", safeNew, core.ErrAlreadyExists, nil)
	}

	if err := s.fs.Rename(oldPath, newPath); err != nil {
		log.WithError(err).Error("Failed to rename document")
		return "", core.NewStoreError("rename", safeOld, core.ErrWriteFailure, err)
	}

	log.Info("Document renamed successfully")
	return safeNew, nil
}

func (s *DocumentStore) ListIDs(ctx context.Context) ([]string, error) {
	log := logrus.WithField("path", s.root)

	entries, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		if isNotExist(err) {
			return []string{}, nil
		}
		log.WithError(err).Error("Failed to read documents directory")
		return nil, core.NewStoreError("list", "", core.ErrStoreUnavailable, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, documentExt) {
			continue
		}
		id := strings.TrimSuffix(name, documentExt)
		if safe, err := core.Sanitize(id); err != nil || safe != id {
			log.WithField("file", name).Debug("Skipping file with unsafe name")
			continue
		}
		ids = append(ids, id)
	}

	log.Debugf("Listed %d documents", len(ids))
	return ids, nil
}

var _ core.DocumentStore = (*DocumentStore)(nil)
