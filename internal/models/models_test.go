package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneDetachesMessages(t *testing.T) {
	t.Parallel()

	s := NewSession("openai", "t")
	s.Messages = append(s.Messages, NewMessage(RoleUser, "original", ModeText))

	c := s.Clone()
	c.Messages[0].Content = "mutated"
	assert.Equal(t, "original", s.Messages[0].Content)
}

func TestFindMessage(t *testing.T) {
	t.Parallel()

	s := NewSession("openai", "t")
	a := NewMessage(RoleUser, "a", ModeText)
	b := NewMessage(RoleAssistant, "b", ModeText)
	s.Messages = append(s.Messages, a, b)

	assert.Equal(t, 0, s.FindMessage(a.ID))
	assert.Equal(t, 1, s.FindMessage(b.ID))
	assert.Equal(t, -1, s.FindMessage("missing"))
}

func TestResolveMode(t *testing.T) {
	t.Parallel()

	imageModel := ModelInfo{ID: "flux", Type: ModeImage}
	assert.Equal(t, ModeImage, imageModel.ResolveMode(ModeText), "media models force their own modality")

	textModel := ModelInfo{ID: "openai", Type: ModeText, OutputModalities: []Mode{ModeText, ModeImage}}
	assert.Equal(t, ModeImage, textModel.ResolveMode(ModeImage))
	assert.Equal(t, ModeText, textModel.ResolveMode(ModeText))
	assert.Equal(t, ModeText, textModel.ResolveMode(ModeVideo), "undeclared modality falls back to text")
	assert.Equal(t, ModeText, textModel.ResolveMode(""))
}

func TestInferCapabilities(t *testing.T) {
	t.Parallel()

	caps := InferCapabilities(ModelInfo{ID: "gemini-vision", Type: ModeText})
	assert.True(t, caps.Vision)
	assert.True(t, caps.Streaming)

	caps = InferCapabilities(ModelInfo{ID: "openai-audio", Type: ModeText, InputModalities: []Mode{ModeAudio}})
	assert.True(t, caps.Audio)

	caps = InferCapabilities(ModelInfo{ID: "deepseek-r1", Type: ModeText})
	assert.True(t, caps.DeepThink)

	caps = InferCapabilities(ModelInfo{ID: "flux", Type: ModeImage})
	assert.False(t, caps.Streaming, "media models do not stream")

	caps = InferCapabilities(ModelInfo{ID: "plain", Type: ModeText, InputModalities: []Mode{ModeImage}})
	assert.True(t, caps.Vision, "image input implies vision")
}

func TestMediaModel(t *testing.T) {
	t.Parallel()

	require.True(t, ModelInfo{Type: ModeImage}.MediaModel())
	require.True(t, ModelInfo{Type: ModeVideo}.MediaModel())
	require.False(t, ModelInfo{Type: ModeText}.MediaModel())
}
