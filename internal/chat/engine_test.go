package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nectar/internal/api"
	"nectar/internal/models"
	"nectar/internal/store"
)

type fakeGen struct {
	mu        sync.Mutex
	chunks    []string
	usage     *api.Usage
	streamErr error
	hold      chan struct{} // when set, block after the chunks until closed or ctx cancelled
	balance   float64

	streamCalls  int
	balanceCalls int
	lastReq      api.ChatRequest

	mediaData []byte
	mediaMime string
	mediaErr  error
}

func (f *fakeGen) StreamChat(ctx context.Context, req api.ChatRequest, onChunk func(string), onDone func(*api.Usage, string)) error {
	f.mu.Lock()
	f.streamCalls++
	f.lastReq = req
	chunks, usage, streamErr, hold := f.chunks, f.usage, f.streamErr, f.hold
	f.mu.Unlock()

	for _, c := range chunks {
		onChunk(c)
	}
	if hold != nil {
		select {
		case <-ctx.Done():
			return &api.Error{Kind: api.KindCancelled, Message: "context canceled"}
		case <-hold:
		}
	}
	if streamErr != nil {
		return streamErr
	}
	onDone(usage, "seed")
	return nil
}

func (f *fakeGen) GenerateImage(ctx context.Context, prompt, model string, opts api.MediaOptions) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaData, f.mediaMime, f.mediaErr
}

func (f *fakeGen) GenerateVideo(ctx context.Context, prompt, model string, opts api.MediaOptions) ([]byte, string, error) {
	return f.GenerateImage(ctx, prompt, model, opts)
}

func (f *fakeGen) Balance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	return f.balance, nil
}

func (f *fakeGen) balanceFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func (f *fakeGen) request() api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

func (f *fakeGen) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streamCalls
}

func textModel() models.ModelInfo {
	return models.ModelInfo{
		ID:   "openai",
		Name: "openai",
		Type: models.ModeText,
		Pricing: &models.Pricing{
			PromptTextTokens:     0.0001,
			CompletionTextTokens: 0.0002,
		},
	}
}

func waitIdle(t *testing.T, e *Engine, sessionID string) {
	t.Helper()
	require.Eventually(t, func() bool { return !e.Generating(sessionID) },
		2*time.Second, 5*time.Millisecond, "generation did not finish")
}

func lastMessage(t *testing.T, st *store.Store, sessionID string) models.Message {
	t.Helper()
	sess, ok := st.GetSession(sessionID)
	require.True(t, ok)
	require.NotEmpty(t, sess.Messages)
	return sess.Messages[len(sess.Messages)-1]
}

func TestSendStreamsAndFinalizes(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{
		chunks:  []string{"Hel", "lo"},
		usage:   &api.Usage{PromptTokens: 9, CompletionTokens: 5, TotalTokens: 14},
		balance: 100,
	}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	require.NoError(t, e.Send(SendOptions{Content: "hi", Model: textModel()}))
	sessionID := st.ActiveID()
	require.NotEmpty(t, sessionID)
	waitIdle(t, e, sessionID)

	sess, ok := st.GetSession(sessionID)
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, models.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, "hi", sess.Messages[0].Content)

	reply := sess.Messages[1]
	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "Hello", reply.Content)
	assert.False(t, reply.IsPartial)
	assert.False(t, reply.IsError)
	assert.Equal(t, 5, reply.TokensUsed, "server usage wins over the heuristic")
	assert.Greater(t, reply.PollenSpent, 0.0)
	assert.InDelta(t, reply.PollenSpent, sess.TotalPollenSpent, 1e-12)

	req := gen.request()
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, models.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Markdown")
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.Equal(t, "hi", last.Content, "placeholder must not be sent upstream")
}

func TestSendWhileGeneratingIsNoOp(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	gen := &fakeGen{chunks: []string{"working"}, hold: hold}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	require.NoError(t, e.Send(SendOptions{Content: "first", Model: textModel()}))
	sessionID := st.ActiveID()
	require.Eventually(t, func() bool { return e.Generating(sessionID) },
		time.Second, 5*time.Millisecond)

	require.NoError(t, e.Send(SendOptions{SessionID: sessionID, Content: "second", Model: textModel()}))

	sess, _ := st.GetSession(sessionID)
	assert.Len(t, sess.Messages, 2, "second send must not append while generating")

	close(hold)
	waitIdle(t, e, sessionID)
	assert.Equal(t, 1, gen.calls())
}

func TestCancelFinalizesWithMarker(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{chunks: []string{"Hel"}, hold: make(chan struct{})}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	require.NoError(t, e.Send(SendOptions{Content: "hi", Model: textModel()}))
	sessionID := st.ActiveID()
	require.Eventually(t, func() bool {
		sess, ok := st.GetSession(sessionID)
		if !ok || len(sess.Messages) == 0 {
			return false
		}
		return sess.Messages[len(sess.Messages)-1].Content == "Hel"
	}, time.Second, 5*time.Millisecond)

	e.Cancel(sessionID)
	waitIdle(t, e, sessionID)

	msg := lastMessage(t, st, sessionID)
	assert.Equal(t, "Hel"+CancelMarker, msg.Content)
	assert.False(t, msg.IsPartial)
	assert.False(t, msg.IsError, "a cancelled generation is not an error")
	assert.Greater(t, msg.TokensUsed, 0, "heuristic token count survives cancellation")
}

func TestRegenerateReplacesAssistantWithoutDuplicatingUser(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{chunks: []string{"hi there"}}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	sess := st.CreateSession("openai", "")
	user := models.NewMessage(models.RoleUser, "hi", models.ModeText)
	reply := models.NewMessage(models.RoleAssistant, "hello", models.ModeText)
	st.AppendMessage(sess.ID, user)
	st.AppendMessage(sess.ID, reply)

	require.NoError(t, e.Regenerate(sess.ID, reply.ID, textModel()))
	waitIdle(t, e, sess.ID)

	got, _ := st.GetSession(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.Equal(t, "hi there", got.Messages[1].Content)

	req := gen.request()
	users := 0
	for _, m := range req.Messages {
		if m.Role == models.RoleUser {
			users++
			assert.Equal(t, "hi", m.Content)
		}
	}
	assert.Equal(t, 1, users, "the prompt message must not be duplicated upstream")
}

func TestRegenerateRequiresAssistantAfterUser(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	sess := st.CreateSession("openai", "")
	user := models.NewMessage(models.RoleUser, "hi", models.ModeText)
	st.AppendMessage(sess.ID, user)

	require.NoError(t, e.Regenerate(sess.ID, user.ID, textModel()))
	require.NoError(t, e.Regenerate(sess.ID, "nonexistent", textModel()))

	got, _ := st.GetSession(sess.ID)
	assert.Len(t, got.Messages, 1)
	assert.Equal(t, 0, gen.calls())
}

func TestEditAndResendTruncatesInclusive(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{chunks: []string{"fresh"}}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	sess := st.CreateSession("openai", "")
	first := models.NewMessage(models.RoleUser, "one", models.ModeText)
	st.AppendMessage(sess.ID, first)
	st.AppendMessage(sess.ID, models.NewMessage(models.RoleAssistant, "two", models.ModeText))
	st.AppendMessage(sess.ID, models.NewMessage(models.RoleUser, "three", models.ModeText))

	require.NoError(t, e.EditAndResend(sess.ID, first.ID, "uno", textModel()))
	waitIdle(t, e, sess.ID)

	got, _ := st.GetSession(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "uno", got.Messages[0].Content)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "fresh", got.Messages[1].Content)
}

func TestAdmissionRejectsWhenBalanceTooLow(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{balance: 0.00001}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)
	_, err := e.RefreshBalance(context.Background())
	require.NoError(t, err)

	sess := st.CreateSession("openai", "")
	model := textModel()
	model.MaxOutputTokens = 4096

	err = e.Send(SendOptions{SessionID: sess.ID, Content: "an expensive question", Model: model})
	var insufficient *InsufficientPollenError
	require.ErrorAs(t, err, &insufficient)
	assert.Greater(t, insufficient.Required, insufficient.Balance)

	got, _ := st.GetSession(sess.ID)
	assert.Empty(t, got.Messages, "a rejected send must leave the session untouched")
	assert.False(t, e.Generating(sess.ID))
	assert.Equal(t, 0, gen.calls())
}

func TestAdmissionSkippedWhenTrackingDisabled(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{chunks: []string{"ok"}, balance: 0}
	st := store.NewMemory(nil)
	settings := st.Settings()
	settings.BalanceTracking = false
	st.SetSettings(settings)

	e := NewEngine(st, gen, nil)
	_, err := e.RefreshBalance(context.Background())
	require.NoError(t, err)

	require.NoError(t, e.Send(SendOptions{Content: "hi", Model: textModel()}))
	sessionID := st.ActiveID()
	waitIdle(t, e, sessionID)
	assert.Equal(t, 1, gen.calls())
}

func TestStreamErrorBecomesInlineErrorMessage(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{streamErr: &api.Error{Kind: api.KindServer, Message: "boom", Status: 500}}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	require.NoError(t, e.Send(SendOptions{Content: "hi", Model: textModel()}))
	sessionID := st.ActiveID()
	waitIdle(t, e, sessionID)

	msg := lastMessage(t, st, sessionID)
	assert.True(t, msg.IsError)
	assert.False(t, msg.IsPartial)
	assert.NotEmpty(t, msg.Content)
	assert.Zero(t, msg.PollenSpent, "failed generations are not billed locally")
}

func TestMediaModelForcesOneShotGeneration(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{mediaData: []byte{0x89, 0x50}, mediaMime: "image/png", balance: 10}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	model := models.ModelInfo{
		ID:      "flux",
		Type:    models.ModeImage,
		Pricing: &models.Pricing{CompletionImageUnits: 0.01},
	}
	require.NoError(t, e.Send(SendOptions{Content: "a bee", Model: model, Mode: models.ModeText}))
	sessionID := st.ActiveID()
	waitIdle(t, e, sessionID)

	msg := lastMessage(t, st, sessionID)
	assert.False(t, msg.IsPartial)
	assert.False(t, msg.IsError)
	assert.Equal(t, models.ModeImage, msg.Mode, "media models override the requested mode")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "image/png", msg.Attachments[0].MimeType)
	assert.Equal(t, []byte{0x89, 0x50}, msg.Attachments[0].Data)
	assert.InDelta(t, 0.01, msg.PollenSpent, 1e-9)
}

func TestMediaFailureFoldsIntoMessage(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{mediaErr: &api.Error{Kind: api.KindTier, Message: "flower required", Status: 403}}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	model := models.ModelInfo{ID: "flux", Type: models.ModeImage}
	require.NoError(t, e.Send(SendOptions{Content: "a bee", Model: model}))
	sessionID := st.ActiveID()
	waitIdle(t, e, sessionID)

	msg := lastMessage(t, st, sessionID)
	assert.True(t, msg.IsError)
	assert.Contains(t, msg.Content, "tier")

	require.Eventually(t, func() bool { return gen.balanceFetches() > 0 },
		time.Second, 5*time.Millisecond, "a failed media generation still refreshes the balance")
}

func TestAdmissionRejectionCreatesNoSession(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{balance: 0.00001}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)
	_, err := e.RefreshBalance(context.Background())
	require.NoError(t, err)

	model := textModel()
	model.MaxOutputTokens = 4096

	err = e.Send(SendOptions{Content: "an expensive question", Model: model})
	var insufficient *InsufficientPollenError
	require.ErrorAs(t, err, &insufficient)

	assert.Empty(t, st.AllSessions(), "a rejected first send must not create a session")
	assert.Empty(t, st.ActiveID())
	assert.Equal(t, 0, gen.calls())
}

func TestRequestedModeSurvivesRegenerate(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{mediaData: []byte{0x1}, mediaMime: "image/png", balance: 10}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	model := models.ModelInfo{
		ID:               "gemini",
		Type:             models.ModeText,
		OutputModalities: []models.Mode{models.ModeText, models.ModeImage},
	}
	require.NoError(t, e.Send(SendOptions{Content: "draw a bee", Model: model, Mode: models.ModeImage}))
	sessionID := st.ActiveID()
	waitIdle(t, e, sessionID)

	sess, ok := st.GetSession(sessionID)
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, models.ModeImage, sess.Messages[0].Mode, "the user message records the requested modality")
	reply := sess.Messages[1]
	assert.Equal(t, models.ModeImage, reply.Mode)
	require.Len(t, reply.Attachments, 1)

	require.NoError(t, e.Regenerate(sessionID, reply.ID, model))
	waitIdle(t, e, sessionID)

	regenerated := lastMessage(t, st, sessionID)
	assert.Equal(t, models.ModeImage, regenerated.Mode, "regenerate keeps the original request's modality")
	require.Len(t, regenerated.Attachments, 1)
	assert.Equal(t, 0, gen.calls(), "an image request never hits the text stream")
}

func TestSendValidation(t *testing.T) {
	t.Parallel()

	gen := &fakeGen{}
	st := store.NewMemory(nil)
	e := NewEngine(st, gen, nil)

	require.NoError(t, e.Send(SendOptions{Content: "   ", Model: textModel()}))
	require.NoError(t, e.Send(SendOptions{Content: "hi"})) // no model selected
	assert.Empty(t, st.AllSessions())
	assert.Equal(t, 0, gen.calls())
}
