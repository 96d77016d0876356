package core

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// AssetKind is the media category of an uploaded blob.
type AssetKind string

const (
	AssetImage   AssetKind = "image"
	AssetAudio   AssetKind = "audio"
	AssetUnknown AssetKind = "unknown"
)

// UploadsPrefix is the URL path under which blobs are served and referenced.
const UploadsPrefix = "/uploads/"

// mime tables differ between hosts and Go's builtin one knows no audio
// formats, so the common editor formats are listed here.
var knownExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".avif": "image/avif",
	".webm": "audio/webm",
	".weba": "audio/webm",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
}

// AssetReference returns the reference string stored in item src fields.
func AssetReference(filename string) string {
	return UploadsPrefix + filename
}

// ResolveAssetKind decides the kind of an upload from its declared media
// type, falling back to the file extension when no type was declared.
// The returned media type has parameters stripped.
func ResolveAssetKind(mediaType, declaredName string) (AssetKind, string, error) {
	mediaType = strings.TrimSpace(mediaType)
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = MediaTypeByExtension(filepath.Ext(declaredName))
	}

	switch kind := assetKindOf(mediaType); kind {
	case AssetImage, AssetAudio:
		return kind, mediaType, nil
	default:
		return AssetUnknown, mediaType, fmt.Errorf("%w: %q", ErrUnsupportedMedia, mediaType)
	}
}

// AssetKindFromFilename infers a stored blob's kind from its extension.
func AssetKindFromFilename(filename string) AssetKind {
	return assetKindOf(MediaTypeByExtension(filepath.Ext(filename)))
}

// MediaTypeByExtension returns the media type for ext without parameters,
// or "" when unknown.
func MediaTypeByExtension(ext string) string {
	ext = strings.ToLower(ext)
	if mediaType, ok := knownExtensions[ext]; ok {
		return mediaType
	}
	mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext))
	if err != nil {
		return ""
	}
	return mediaType
}

// ExtensionByMediaType returns a file extension for a media type, or "".
func ExtensionByMediaType(mediaType string) string {
	for ext, known := range knownExtensions {
		if known == mediaType && ext != ".jpeg" && ext != ".weba" && ext != ".oga" {
			return ext
		}
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func assetKindOf(mediaType string) AssetKind {
	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return AssetImage
	case strings.HasPrefix(mediaType, "audio/"):
		return AssetAudio
	// Browsers record audio as webm, which some mime tables list as video.
	case mediaType == "video/webm":
		return AssetAudio
	default:
		return AssetUnknown
	}
}
