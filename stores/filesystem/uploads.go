package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scrapbook-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	maxBaseLength   = 48
	maxNameAttempts = 3
)

// UploadStore keeps uploaded media as flat files under one root. Files are
// written once and only removed by Delete.
type UploadStore struct {
	fs      afero.Fs
	root    string
	clock   core.Clock
	maxSize int64

	// serializes the exists check and rename that publish a new blob
	publish sync.Mutex
}

// NewUploadStore creates an upload store rooted at root. A maxSize of zero
// disables the size limit.
func NewUploadStore(fs afero.Fs, root string, clock core.Clock, maxSize int64) (*UploadStore, error) {
	if err := fs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	return &UploadStore{
		fs:      afero.NewBasePathFs(fs, root),
		root:    root,
		clock:   clock,
		maxSize: maxSize,
	}, nil
}

func (s *UploadStore) Put(ctx context.Context, content io.Reader, declaredName, mediaType string) (core.AssetBlob, error) {
	log := logrus.WithFields(logrus.Fields{
		"declared_name": declaredName,
		"media_type":    mediaType,
	})

	kind, resolvedType, err := core.ResolveAssetKind(mediaType, declaredName)
	if err != nil {
		log.WithError(err).Warn("Rejected upload")
		return core.AssetBlob{}, core.NewStoreError("put", declaredName, core.ErrUnsupportedMedia, nil)
	}

	tmpPath, size, err := writeTemp(s.fs, "/", content, s.maxSize)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			log.WithField("max_size", s.maxSize).Warn("Upload exceeds size limit")
			return core.AssetBlob{}, core.NewStoreError("put", declaredName, core.ErrTooLarge, nil)
		}
		log.WithError(err).Error("Failed to store upload")
		return core.AssetBlob{}, core.NewStoreError("put", declaredName, core.ErrWriteFailure, err)
	}

	base, ext := uploadBase(declaredName, kind), uploadExt(declaredName, kind, resolvedType)
	filename, createdAt, err := s.publishTemp(tmpPath, base, ext)
	if err != nil {
		s.fs.Remove(tmpPath)
		log.WithError(err).Error("Failed to store upload")
		return core.AssetBlob{}, core.NewStoreError("put", declaredName, core.ErrWriteFailure, err)
	}

	blob := core.AssetBlob{
		Filename:  filename,
		Kind:      kind,
		Size:      size,
		CreatedAt: createdAt,
	}
	log.WithFields(logrus.Fields{
		"filename": filename,
		"size":     size,
	}).Info("Upload stored successfully")
	return blob, nil
}

// publishTemp moves a finished temp file to a fresh name without ever
// replacing an existing blob.
func (s *UploadStore) publishTemp(tmpPath, base, ext string) (string, time.Time, error) {
	s.publish.Lock()
	defer s.publish.Unlock()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		now := s.clock.Now()
		id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
		if err != nil {
			return "", time.Time{}, fmt.Errorf("failed to generate name: %w", err)
		}
		filename := base + "-" + strings.ToLower(id.String()) + ext

		exists, err := afero.Exists(s.fs, "/"+filename)
		if err != nil {
			return "", time.Time{}, err
		}
		if exists {
			continue
		}

		if err := s.fs.Rename(tmpPath, "/"+filename); err != nil {
			return "", time.Time{}, fmt.Errorf("failed to rename temp file: %w", err)
		}
		if err := s.fs.Chtimes("/"+filename, now, now); err != nil {
			logrus.WithField("filename", filename).WithError(err).Warn("Failed to set upload time")
		}
		return filename, now, nil
	}
	return "", time.Time{}, fmt.Errorf("no free filename after %d attempts", maxNameAttempts)
}

func (s *UploadStore) List(ctx context.Context) ([]core.AssetBlob, error) {
	log := logrus.WithField("path", s.root)

	entries, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		if isNotExist(err) {
			return []core.AssetBlob{}, nil
		}
		log.WithError(err).Error("Failed to read uploads directory")
		return nil, core.NewStoreError("list", "", core.ErrStoreUnavailable, err)
	}

	blobs := make([]core.AssetBlob, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if safe, err := core.Sanitize(name); err != nil || safe != name {
			continue
		}
		blobs = append(blobs, blobFromInfo(entry))
	}

	log.Debugf("Listed %d uploads", len(blobs))
	return blobs, nil
}

func (s *UploadStore) Open(ctx context.Context, filename string) (io.ReadCloser, core.AssetBlob, error) {
	name, err := core.Sanitize(filename)
	if err != nil {
		return nil, core.AssetBlob{}, err
	}

	f, err := s.fs.Open("/" + name)
	if err != nil {
		if isNotExist(err) {
			return nil, core.AssetBlob{}, core.NewStoreError("open", name, core.ErrNotFound, nil)
		}
		return nil, core.AssetBlob{}, core.NewStoreError("open", name, core.ErrStoreUnavailable, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, core.AssetBlob{}, core.NewStoreError("open", name, core.ErrStoreUnavailable, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, core.AssetBlob{}, core.NewStoreError("open", name, core.ErrNotFound, nil)
	}
	return f, blobFromInfo(info), nil
}

func (s *UploadStore) Delete(ctx context.Context, filename string) error {
	name, err := core.Sanitize(filename)
	if err != nil {
		return err
	}
	log := logrus.WithField("filename", name)

	if err := s.fs.Remove("/" + name); err != nil {
		if isNotExist(err) {
			log.Debug("Upload already gone")
			return nil
		}
		log.WithError(err).Error("Failed to delete upload")
		return core.NewStoreError("delete", name, core.ErrWriteFailure, err)
	}

	log.Info("Upload deleted")
	return nil
}

func blobFromInfo(info os.FileInfo) core.AssetBlob {
	return core.AssetBlob{
		Filename:  info.Name(),
		Kind:      core.AssetKindFromFilename(info.Name()),
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	}
}

// uploadBase reduces a client file name to [A-Za-z0-9_-], dropping any
// directory part and extension.
func uploadBase(declaredName string, kind core.AssetKind) string {
	name := declaredName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var b strings.Builder
	dash := false
	for _, r := range name {
		ok := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if ok {
			b.WriteRune(r)
			dash = r == '-'
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	base := strings.Trim(b.String(), "-")
	if len(base) > maxBaseLength {
		base = strings.TrimRight(base[:maxBaseLength], "-")
	}
	if base == "" {
		return string(kind)
	}
	return base
}

// uploadExt keeps the declared extension when it matches the resolved kind,
// otherwise picks one registered for the media type.
func uploadExt(declaredName string, kind core.AssetKind, mediaType string) string {
	ext := strings.ToLower(filepath.Ext(declaredName))
	if ext != "" && !strings.ContainsAny(ext, `/\`) && core.AssetKindFromFilename(ext) == kind {
		return ext
	}
	return core.ExtensionByMediaType(mediaType)
}

var _ core.UploadStore = (*UploadStore)(nil)
