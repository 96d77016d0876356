package cleanup

import (
	"context"
	"net/http"
	"time"

	"scrapbook-server/gc"
	"scrapbook-server/handlers/api"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Sweeper runs one garbage collection pass.
type Sweeper interface {
	Sweep(ctx context.Context, gracePeriod time.Duration) (gc.Report, error)
}

// HandleCleanup runs a sweep and returns its report. The grace period comes
// from the "grace" query parameter, or defaultGrace when absent.
func HandleCleanup(sweeper Sweeper, defaultGrace time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		grace := defaultGrace
		if raw := r.URL.Query().Get("grace"); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed < 0 {
				api.RenderBadRequest(w, r, "grace must be a non-negative duration such as 24h")
				return
			}
			grace = parsed
		}
		log := logrus.WithField("grace_period", grace.String())

		report, err := sweeper.Sweep(r.Context(), grace)
		if err != nil {
			api.RenderError(w, r, log, err, "Cleanup failed")
			return
		}

		log.WithFields(logrus.Fields{
			"scanned": report.Scanned,
			"deleted": report.Deleted,
		}).Info("Cleanup completed")
		render.JSON(w, r, report)
	}
}
