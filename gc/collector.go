// Package gc reclaims uploaded media that no scrapbook references anymore.
//
// A sweep first marks: it loads every document and collects the upload
// filenames their items point at. It then sweeps the upload area and deletes
// each blob that is unreferenced and at least gracePeriod old. Blobs younger
// than the grace period are kept whatever their reference state, covering
// the window between an upload and the save of the document that uses it.
package gc

import (
	"context"
	"errors"
	"sync"
	"time"

	"scrapbook-server/core"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many documents are loaded in parallel.
const DefaultConcurrency = 8

type (
	// Report summarizes one sweep.
	Report struct {
		Scanned          int       `json:"scanned"`
		Deleted          int       `json:"deleted"`
		Protected        int       `json:"protected"`
		Young            int       `json:"young"`
		SkippedDocuments int       `json:"skippedDocuments"`
		BytesReclaimed   int64     `json:"bytesReclaimed"`
		Failures         []Failure `json:"failures"`
	}

	// Failure is a blob that should have been deleted but could not be.
	Failure struct {
		Filename string `json:"filename"`
		Error    string `json:"error"`
	}
)

// Collector reconciles a document store with an upload store.
type Collector struct {
	documents   core.DocumentStore
	uploads     core.UploadStore
	clock       core.Clock
	concurrency int

	// held for the whole sweep so two sweeps never overlap
	mu sync.Mutex
}

func NewCollector(documents core.DocumentStore, uploads core.UploadStore, clock core.Clock) *Collector {
	if clock == nil {
		clock = core.RealClock{}
	}
	return &Collector{
		documents:   documents,
		uploads:     uploads,
		clock:       clock,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency changes the number of parallel document loads; n < 1 means 1.
func (c *Collector) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	c.concurrency = n
}

// Sweep deletes every blob that is referenced by no document and whose age
// is at least gracePeriod. It fails only when a store cannot be enumerated;
// blobs that cannot be deleted are listed in the report.
func (c *Collector) Sweep(ctx context.Context, gracePeriod time.Duration) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := Report{Failures: []Failure{}}
	start := c.clock.Now()
	log := logrus.WithField("grace_period", gracePeriod.String())
	log.Info("Starting sweep")

	var (
		seen      = make(map[string]struct{})
		protected = make(map[string]struct{})
	)
	if _, err := c.mark(ctx, seen, protected, &report); err != nil {
		log.WithError(err).Error("Sweep aborted while reading documents")
		return report, err
	}

	blobs, err := c.uploads.List(ctx)
	if err != nil {
		log.WithError(err).Error("Sweep aborted while listing uploads")
		return report, unavailable("sweep", err)
	}

	// A document renamed or created during the first pass is stored under an
	// id that pass never listed. Keep marking until no unseen id turns up.
	for {
		added, err := c.mark(ctx, seen, protected, &report)
		if err != nil {
			log.WithError(err).Error("Sweep aborted while reading documents")
			return report, err
		}
		if added == 0 {
			break
		}
		log.WithField("documents", added).Debug("Marked documents that appeared during the sweep")
	}

	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++

		if _, ok := protected[blob.Filename]; ok {
			report.Protected++
			continue
		}
		// Uploaded after the sweep began, or still inside the grace window.
		if blob.CreatedAt.After(start) || start.Sub(blob.CreatedAt) < gracePeriod {
			report.Young++
			continue
		}

		blobLog := log.WithField("filename", blob.Filename)
		if err := c.uploads.Delete(ctx, blob.Filename); err != nil {
			blobLog.WithError(err).Warn("Failed to delete orphaned upload")
			report.Failures = append(report.Failures, Failure{Filename: blob.Filename, Error: err.Error()})
			continue
		}
		blobLog.Debug("Deleted orphaned upload")
		report.Deleted++
		report.BytesReclaimed += blob.Size
	}

	log.WithFields(logrus.Fields{
		"scanned":   report.Scanned,
		"deleted":   report.Deleted,
		"protected": report.Protected,
		"young":     report.Young,
		"skipped":   report.SkippedDocuments,
		"failures":  len(report.Failures),
		"duration":  c.clock.Now().Sub(start).String(),
	}).Info("Sweep finished")
	return report, nil
}

// mark loads every document id not yet in seen and adds its references to
// protected. It returns how many ids were new.
func (c *Collector) mark(ctx context.Context, seen, protected map[string]struct{}, report *Report) (int, error) {
	ids, err := c.documents.ListIDs(ctx)
	if err != nil {
		return 0, unavailable("sweep", err)
	}

	var fresh []string
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range fresh {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items, err := c.documents.Load(gctx, id)
			switch {
			case errors.Is(err, core.ErrCorruptDocument):
				logrus.WithField("document_id", id).WithError(err).Warn("Skipping corrupt document during sweep")
				mu.Lock()
				report.SkippedDocuments++
				mu.Unlock()
				return nil
			case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrInvalidIdentifier):
				// Renamed or deleted since ListIDs, or a stray file.
				return nil
			case err != nil:
				return unavailable("sweep", err)
			}

			refs := core.ExtractRefs(items)
			mu.Lock()
			for name := range refs {
				protected[name] = struct{}{}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// unavailable tags err as ErrStoreUnavailable unless it already carries a
// context error.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, core.ErrStoreUnavailable) {
		return err
	}
	return core.NewStoreError(op, "", core.ErrStoreUnavailable, err)
}
