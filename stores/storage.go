package stores

import (
	"fmt"

	"scrapbook-server/config"
	"scrapbook-server/core"
	"scrapbook-server/stores/filesystem"
	"scrapbook-server/stores/sqlite"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Stores bundles the document store with the upload area it references.
type Stores struct {
	Documents core.DocumentStore
	Uploads   core.UploadStore

	closers []func() error
}

// Close releases backend resources such as database handles.
func (s *Stores) Close() error {
	var firstErr error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetStores opens the backends selected by cfg.Storage.Type.
func GetStores(cfg *config.Config, clock core.Clock) (*Stores, error) {
	storage := cfg.Storage
	storageField := logrus.Fields{
		"storageType": storage.Type,
	}

	var (
		fs        afero.Fs = afero.NewOsFs()
		documents core.DocumentStore
		closers   []func() error
	)

	switch storage.Type {
	case "filesystem":
		storageField["basePath"] = storage.DocumentsPath
		store, err := filesystem.NewDocumentStore(fs, storage.DocumentsPath)
		if err != nil {
			return nil, err
		}
		documents = store
	case "sqlite":
		storageField["dataSourceName"] = storage.DataSourceName
		store, err := sqlite.NewDocumentStore(storage.DataSourceName, clock)
		if err != nil {
			return nil, err
		}
		documents = store
		closers = append(closers, store.Close)
	case "memory":
		fs = afero.NewMemMapFs()
		store, err := filesystem.NewDocumentStore(fs, "/documents")
		if err != nil {
			return nil, err
		}
		documents = store
	default:
		return nil, fmt.Errorf("unknown storage type %q", storage.Type)
	}

	uploadsPath := storage.UploadsPath
	if storage.Type == "memory" {
		uploadsPath = "/uploads"
	}
	uploads, err := filesystem.NewUploadStore(fs, uploadsPath, clock, storage.MaxUploadSize)
	if err != nil {
		for _, closeFn := range closers {
			closeFn()
		}
		return nil, err
	}
	storageField["uploadsPath"] = uploadsPath

	logrus.WithFields(storageField).Info("Use storage")
	return &Stores{
		Documents: documents,
		Uploads:   uploads,
		closers:   closers,
	}, nil
}
