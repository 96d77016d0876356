package api

import (
	"errors"
	"net/http"

	"scrapbook-server/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errorKinds = []struct {
	kind    error
	status  int
	message string
}{
	{core.ErrInvalidIdentifier, http.StatusBadRequest, "Invalid name"},
	{core.ErrNotFound, http.StatusNotFound, "Not found"},
	{core.ErrAlreadyExists, http.StatusConflict, "A scrapbook with that name already exists"},
	{core.ErrCorruptDocument, http.StatusUnprocessableEntity, "Scrapbook data is corrupt"},
	{core.ErrUnsupportedMedia, http.StatusUnsupportedMediaType, "Only image and audio files can be uploaded"},
	{core.ErrTooLarge, http.StatusRequestEntityTooLarge, "File is too large"},
}

// StatusCode maps a store error to the HTTP status reported to clients.
func StatusCode(err error) int {
	status, _ := classify(err)
	return status
}

func classify(err error) (int, string) {
	for _, entry := range errorKinds {
		if errors.Is(err, entry.kind) {
			return entry.status, entry.message
		}
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge, "Request is too large"
	}
	return http.StatusInternalServerError, ""
}

// RenderError logs err and answers with a short message. Server errors use
// fallback as the message so no internal detail reaches the client.
func RenderError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error, fallback string) {
	status, message := classify(err)
	if message == "" {
		message = fallback
	}

	entry := log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(fallback)
	} else {
		entry.Warn(fallback)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message})
}

// RenderBadRequest answers 400 for malformed request bodies or parameters.
func RenderBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Error: message})
}
