package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Mode is a generation modality: what a request asks for, or what a model
// natively produces.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
	ModeVideo Mode = "video"
	ModeAudio Mode = "audio"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is an immutable binary payload hanging off a message.
type Attachment struct {
	ID        string         `json:"id"`
	Type      AttachmentType `json:"type"`
	Name      string         `json:"name"`
	MimeType  string         `json:"mimeType"`
	Data      []byte         `json:"data,omitempty"`
	SizeBytes int64          `json:"sizeBytes"`
}

// Message is one entry of a session's conversation log. Content grows in
// place while a generation is streaming (IsPartial true) and is frozen once
// the message finalizes.
type Message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Mode        Mode         `json:"mode"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
	Model       string       `json:"model,omitempty"`
	TokensUsed  int          `json:"tokensUsed,omitempty"`
	PollenSpent float64      `json:"pollenSpent,omitempty"`
	IsPartial   bool         `json:"isPartial,omitempty"`
	IsError     bool         `json:"isError,omitempty"`
}

// Session is an ordered conversation log plus bookkeeping. Messages are only
// ever appended, updated in place, or truncated from a point onward; they are
// never reordered.
type Session struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Messages         []Message `json:"messages"`
	Model            string    `json:"model,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	TotalPollenSpent float64   `json:"totalPollenSpent,omitempty"`
}

// NewSession returns an empty session with a fresh id.
func NewSession(model, title string) Session {
	now := time.Now()
	return Session{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []Message{},
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage returns a message with a fresh id and the current timestamp.
func NewMessage(role, content string, mode Mode) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Mode:      mode,
		Timestamp: time.Now(),
	}
}

// Clone returns a copy whose message slice is independent of the receiver.
// Attachment payload bytes are shared; attachments are immutable.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	for i := range out.Messages {
		if len(out.Messages[i].Attachments) > 0 {
			atts := make([]Attachment, len(out.Messages[i].Attachments))
			copy(atts, out.Messages[i].Attachments)
			out.Messages[i].Attachments = atts
		}
	}
	return out
}

// FindMessage returns the index of the message with the given id, or -1.
func (s Session) FindMessage(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Pricing holds per-unit pollen rates for a model. Zero-valued fields mean
// the modality is not priced.
type Pricing struct {
	PromptTextTokens       float64 `json:"promptTextTokens,omitempty"`
	PromptAudioTokens      float64 `json:"promptAudioTokens,omitempty"`
	CompletionTextTokens   float64 `json:"completionTextTokens,omitempty"`
	CompletionImageUnits   float64 `json:"completionImageUnits,omitempty"`
	CompletionVideoSeconds float64 `json:"completionVideoSeconds,omitempty"`
	CompletionVideoTokens  float64 `json:"completionVideoTokens,omitempty"`
	CompletionAudioTokens  float64 `json:"completionAudioTokens,omitempty"`
	CompletionAudioSeconds float64 `json:"completionAudioSeconds,omitempty"`
}

// Capabilities are UI-gating hints only; the engine never enforces them.
type Capabilities struct {
	Vision        bool `json:"vision,omitempty"`
	Audio         bool `json:"audio,omitempty"`
	Streaming     bool `json:"streaming,omitempty"`
	WebSearch     bool `json:"webSearch,omitempty"`
	DeepThink     bool `json:"deepThink,omitempty"`
	CodeExecution bool `json:"codeExecution,omitempty"`
}

// ModelInfo describes one model offered by the generation service.
type ModelInfo struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Description      string       `json:"description,omitempty"`
	Type             Mode         `json:"type"`
	InputModalities  []Mode       `json:"inputModalities,omitempty"`
	OutputModalities []Mode       `json:"outputModalities,omitempty"`
	MaxInputTokens   int          `json:"maxInputTokens,omitempty"`
	MaxOutputTokens  int          `json:"maxOutputTokens,omitempty"`
	Pricing          *Pricing     `json:"pricing,omitempty"`
	Capabilities     Capabilities `json:"capabilities,omitempty"`
	Tier             string       `json:"tier,omitempty"`
}

// MediaModel reports whether the model natively produces a non-text modality.
// Such models force their own modality regardless of what the user selected.
func (m ModelInfo) MediaModel() bool {
	return m.Type == ModeImage || m.Type == ModeVideo || m.Type == ModeAudio
}

// SupportsOutput reports whether the model declares the given output modality.
func (m ModelInfo) SupportsOutput(mode Mode) bool {
	for _, om := range m.OutputModalities {
		if om == mode {
			return true
		}
	}
	return false
}

// ResolveMode picks the effective generation modality for a request: media
// models always win, text models honor the request when they declare support
// for it, and everything else falls back to text.
func (m ModelInfo) ResolveMode(requested Mode) Mode {
	if m.MediaModel() {
		return m.Type
	}
	if requested != "" && requested != ModeText && m.SupportsOutput(requested) {
		return requested
	}
	return ModeText
}
