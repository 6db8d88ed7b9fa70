package bootstrap

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureScrubsEnvironment(t *testing.T) {
	reset()
	t.Setenv("POLLEN_REDIRECT_TOKEN", "tok-123")

	Capture()
	assert.Empty(t, os.Getenv("POLLEN_REDIRECT_TOKEN"), "token must be scrubbed after capture")

	v, ok := Consume()
	require.True(t, ok)
	assert.Equal(t, "tok-123", v)

	_, ok = Consume()
	assert.False(t, ok, "the token is read-once")
}

func TestCaptureIsWriteOnce(t *testing.T) {
	reset()
	CaptureValue("first")
	CaptureValue("second")
	t.Setenv("POLLEN_REDIRECT_TOKEN", "third")
	Capture()

	v, ok := Consume()
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestConsumeWithoutCapture(t *testing.T) {
	reset()
	Capture() // nothing in the environment
	_, ok := Consume()
	assert.False(t, ok)
}
