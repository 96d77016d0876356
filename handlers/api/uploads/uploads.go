package uploads

import (
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"scrapbook-server/core"
	"scrapbook-server/handlers/api"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	// multipart parts beyond this are spooled to temp files by net/http
	maxMemory = 8 << 20
	// allowance for multipart framing and the other form fields
	formOverhead = 1 << 20
)

// Field names accepted for the uploaded file. "image" is what older clients
// send.
var fileFields = []string{"file", "image"}

type UploadResponse struct {
	FilePath string         `json:"filePath"`
	Filename string         `json:"filename"`
	Kind     core.AssetKind `json:"kind"`
	Size     int64          `json:"size"`
}

// HandleUpload stores one multipart file. maxSize bounds the request body;
// zero leaves it to the store.
func HandleUpload(store core.UploadStore, maxSize int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if maxSize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)
		}
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			if api.StatusCode(err) == http.StatusRequestEntityTooLarge {
				api.RenderError(w, r, logrus.StandardLogger(), err, "Upload too large")
				return
			}
			logrus.WithError(err).Warn("Rejected malformed upload")
			api.RenderBadRequest(w, r, "Expected a multipart form with a file")
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := formFile(r)
		if err != nil {
			api.RenderBadRequest(w, r, "No file uploaded")
			return
		}
		defer file.Close()

		mediaType := declaredMediaType(header, r.FormValue("kind"))

		log := logrus.WithFields(logrus.Fields{
			"declared_name": header.Filename,
			"media_type":    mediaType,
		})

		blob, err := store.Put(r.Context(), file, header.Filename, mediaType)
		if err != nil {
			api.RenderError(w, r, log, err, "Failed to store upload")
			return
		}

		render.JSON(w, r, UploadResponse{
			FilePath: blob.Reference(),
			Filename: blob.Filename,
			Kind:     blob.Kind,
			Size:     blob.Size,
		})
	}
}

// HandleServe streams a stored upload back to the browser.
func HandleServe(store core.UploadStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := chi.URLParam(r, "filename")
		log := logrus.WithField("filename", filename)

		content, blob, err := store.Open(r.Context(), filename)
		if err != nil {
			api.RenderError(w, r, log, err, "Failed to read upload")
			return
		}
		defer content.Close()

		if mediaType := core.MediaTypeByExtension(filepath.Ext(blob.Filename)); mediaType != "" {
			w.Header().Set("Content-Type", mediaType)
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		// Uploaded SVGs must not run script in the app's origin.
		w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; sandbox")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

		if seeker, ok := content.(io.ReadSeeker); ok {
			http.ServeContent(w, r, blob.Filename, blob.CreatedAt, seeker)
			return
		}
		if _, err := io.Copy(w, content); err != nil {
			log.WithError(err).Warn("Failed to stream upload")
		}
	}
}

func formFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	var lastErr error
	for _, field := range fileFields {
		file, header, err := r.FormFile(field)
		if err == nil {
			return file, header, nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// declaredMediaType returns the part's media type. When the browser sent
// none and the extension says nothing either, the form's kind field
// ("image" or "audio") stands in.
func declaredMediaType(header *multipart.FileHeader, kind string) string {
	mediaType := header.Header.Get("Content-Type")
	if mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}
	if core.MediaTypeByExtension(filepath.Ext(header.Filename)) != "" {
		return mediaType
	}
	switch core.AssetKind(kind) {
	case core.AssetImage, core.AssetAudio:
		return kind + "/*"
	}
	return mediaType
}
