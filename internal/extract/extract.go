package extract

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/calebrhodes/photoflow-backend/pkg/db/models"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	pkgerrors "github.com/calebrhodes/photoflow-backend/pkg/errors"
)

// posterSuffix names the sidecar frame the web application renders for every
// uploaded video. Analysis runs against that frame, not the raw container.
const posterSuffix = ".poster.jpg"

var allowedMimeTypesByKind = map[enums.MediaKind][]string{
	enums.MediaKindPhoto: {"image/jpeg", "image/png", "image/webp", "image/gif"},
	enums.MediaKindVideo: {"video/mp4", "video/webm", "video/quicktime"},
}

// Payload carries the raw bytes handed to the model services.
type Payload struct {
	Bytes    []byte
	MimeType string
}

// Extractor resolves a media item's analyzable bytes from the shared media
// volume.
type Extractor struct {
	root     string
	maxBytes int64
}

// New builds an extractor rooted at the media volume.
func New(root string, maxUploadMB int) (*Extractor, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if maxUploadMB <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	return &Extractor{
		root:     filepath.Clean(trimmed),
		maxBytes: int64(maxUploadMB) * 1024 * 1024,
	}, nil
}

// Raw returns the bytes to analyze for the item. Photos resolve to their own
// file; videos resolve to the pre-rendered poster frame.
func (e *Extractor) Raw(item *models.MediaItem) (*Payload, error) {
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "media item is required")
	}
	if !item.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, fmt.Sprintf("unknown media kind %q", item.Kind))
	}

	if err := validateMimeType(item.Kind, item.MimeType); err != nil {
		return nil, err
	}

	switch item.Kind {
	case enums.MediaKindPhoto:
		data, err := e.readContained(item.FilePath)
		if err != nil {
			return nil, err
		}
		return &Payload{Bytes: data, MimeType: normalizeMime(item.MimeType)}, nil

	case enums.MediaKindVideo:
		data, err := e.readContained(posterPath(item.FilePath))
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
				return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "video has no rendered poster frame")
			}
			return nil, err
		}
		return &Payload{Bytes: data, MimeType: "image/jpeg"}, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, fmt.Sprintf("unsupported media kind %q", item.Kind))
	}
}

func (e *Extractor) readContained(relPath string) ([]byte, error) {
	clean := strings.TrimSpace(relPath)
	if clean == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "file path is required")
	}
	if filepath.IsAbs(clean) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "file path must be relative to the media root")
	}

	full := filepath.Clean(filepath.Join(e.root, clean))
	if full != e.root && !strings.HasPrefix(full, e.root+string(filepath.Separator)) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "file path escapes the media root")
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "media file missing")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stat media file")
	}
	if info.IsDir() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "file path names a directory")
	}
	if info.Size() > e.maxBytes {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput,
			fmt.Sprintf("media file exceeds %d bytes", e.maxBytes))
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read media file")
	}
	if len(data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidInput, "media file is empty")
	}
	return data, nil
}

func posterPath(videoPath string) string {
	ext := filepath.Ext(videoPath)
	return strings.TrimSuffix(videoPath, ext) + posterSuffix
}

func validateMimeType(kind enums.MediaKind, value string) error {
	mediaType := normalizeMime(value)
	if mediaType == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidInput, "mime type is required")
	}
	for _, allowed := range allowedMimeTypesByKind[kind] {
		if mediaType == allowed {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeInvalidInput,
		fmt.Sprintf("mime type %q not allowed for %s items", mediaType, kind))
}

func normalizeMime(value string) string {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return strings.ToLower(mediaType)
}
