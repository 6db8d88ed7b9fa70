// Package attach turns local files into message attachments.
package attach

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"nectar/internal/models"
)

// MaxFileBytes caps attachment size; anything larger is refused up front
// rather than shipped to the API.
const MaxFileBytes = 10 << 20

// LoadFile reads the file at path into an attachment, sniffing the mime type
// from the extension first and the content as a fallback.
func LoadFile(path string) (models.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.Attachment{}, err
	}
	if info.IsDir() {
		return models.Attachment{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileBytes {
		return models.Attachment{}, fmt.Errorf("%s is %d bytes, above the %d byte limit", path, info.Size(), MaxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.Attachment{}, err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}

	return models.Attachment{
		ID:        uuid.NewString(),
		Type:      classify(mimeType),
		Name:      filepath.Base(path),
		MimeType:  mimeType,
		Data:      data,
		SizeBytes: int64(len(data)),
	}, nil
}

func classify(mimeType string) models.AttachmentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.AttachmentAudio
	default:
		return models.AttachmentFile
	}
}

// ExtractMentions pulls @path tokens out of an input line, returning the text
// with the mentions removed and the referenced paths in order. Quoting is not
// supported; a mention runs to the next whitespace.
func ExtractMentions(input string) (string, []string) {
	var paths []string
	var kept []string
	for _, tok := range strings.Fields(input) {
		if len(tok) > 1 && strings.HasPrefix(tok, "@") {
			paths = append(paths, tok[1:])
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " "), paths
}
