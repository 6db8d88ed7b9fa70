package attach

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nectar/internal/models"
)

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	att, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "photo.png", att.Name)
	assert.Equal(t, models.AttachmentImage, att.Type)
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, payload, att.Data)
	assert.Equal(t, int64(len(payload)), att.SizeBytes)
	assert.NotEmpty(t, att.ID)
}

func TestLoadFileUnknownExtensionSniffsContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes")
	require.NoError(t, os.WriteFile(path, []byte("plain text here"), 0o644))

	att, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, models.AttachmentFile, att.Type)
	assert.Equal(t, "text/plain", att.MimeType)
}

func TestLoadFileRejectsDirectories(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(t.TempDir())
	require.Error(t, err)
}

func TestExtractMentions(t *testing.T) {
	t.Parallel()

	text, paths := ExtractMentions("look at @pic.png and @docs/readme.md please")
	assert.Equal(t, "look at and please", text)
	assert.Equal(t, []string{"pic.png", "docs/readme.md"}, paths)

	text, paths = ExtractMentions("no mentions here")
	assert.Equal(t, "no mentions here", text)
	assert.Empty(t, paths)

	// A bare @ is not a mention.
	_, paths = ExtractMentions("email me @ home")
	assert.Empty(t, paths)
}
