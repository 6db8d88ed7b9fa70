// Package chat orchestrates generations against the session store: admission
// control, placeholder lifecycle, streaming reconciliation, cancellation, and
// the regenerate / edit-and-resend flows. At most one generation runs per
// session at any time.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nectar/internal/api"
	"nectar/internal/models"
	"nectar/internal/pollen"
	"nectar/internal/store"
)

// defaultOutputTokens stands in for the completion estimate when a model
// declares no output limit.
const defaultOutputTokens = 1024

// markdownDirective is appended to every system prompt so replies render
// cleanly in the terminal.
const markdownDirective = "Format responses in Markdown."

// Generator is the slice of the API client the engine needs. *api.Client
// satisfies it.
type Generator interface {
	StreamChat(ctx context.Context, req api.ChatRequest, onChunk func(string), onDone func(*api.Usage, string)) error
	GenerateImage(ctx context.Context, prompt, model string, opts api.MediaOptions) ([]byte, string, error)
	GenerateVideo(ctx context.Context, prompt, model string, opts api.MediaOptions) ([]byte, string, error)
	Balance(ctx context.Context) (float64, error)
}

// InsufficientPollenError rejects a send whose estimated cost exceeds the
// cached balance.
type InsufficientPollenError struct {
	Required float64
	Balance  float64
}

func (e *InsufficientPollenError) Error() string {
	return fmt.Sprintf("insufficient pollen: need %s, have %s", pollen.Format(e.Required), pollen.Format(e.Balance))
}

// SendOptions describes one user send. SessionID may be empty, meaning the
// active session (one is created if none exists).
type SendOptions struct {
	SessionID   string
	Content     string
	Attachments []models.Attachment
	Model       models.ModelInfo
	Mode        models.Mode
}

type Engine struct {
	store *store.Store
	gen   Generator
	log   *zap.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	balance      float64
	balanceKnown bool
}

func NewEngine(st *store.Store, gen Generator, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    st,
		gen:      gen,
		log:      log,
		inflight: map[string]context.CancelFunc{},
	}
}

// Generating reports whether the session has an in-flight generation.
func (e *Engine) Generating(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.inflight[sessionID]
	return busy
}

// Cancel aborts the session's in-flight generation, if any. Media generations
// run to completion; cancelling them is a no-op.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	cancel, ok := e.inflight[sessionID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Send appends the user's message and starts a generation. An empty message,
// a missing model, or a session that is already generating makes it a no-op.
// An admission failure is reported as *InsufficientPollenError and leaves the
// session untouched.
func (e *Engine) Send(opts SendOptions) error {
	content := strings.TrimSpace(opts.Content)
	if content == "" && len(opts.Attachments) == 0 {
		return nil
	}
	if opts.Model.ID == "" {
		return nil
	}

	mode := opts.Model.ResolveMode(opts.Mode)
	userMsg := models.NewMessage(models.RoleUser, content, mode)
	userMsg.Attachments = opts.Attachments

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = e.store.ActiveID()
	}
	if sessionID == "" {
		// No session yet: admission runs against the lone user message, so a
		// rejected first send leaves no empty session behind.
		if err := e.admit(opts.Model, []models.Message{userMsg}); err != nil {
			return err
		}
		sessionID = e.store.CreateSession(opts.Model.ID, "").ID
		if !e.tryReserve(sessionID) {
			return nil
		}
	} else {
		if !e.tryReserve(sessionID) {
			return nil
		}
		sess, ok := e.store.GetSession(sessionID)
		if !ok {
			e.finish(sessionID)
			return nil
		}
		if err := e.admit(opts.Model, append(sess.Messages, userMsg)); err != nil {
			e.finish(sessionID)
			return err
		}
	}

	e.store.AppendMessage(sessionID, userMsg)
	e.start(sessionID, userMsg, opts.Model, mode)
	return nil
}

// Regenerate discards the given assistant message and everything after it,
// then re-runs the generation from the preceding user message without
// duplicating it. A no-op unless messageID names an assistant message
// directly preceded by a user message, or when the session is busy.
func (e *Engine) Regenerate(sessionID, messageID string, model models.ModelInfo) error {
	sess, ok := e.store.GetSession(sessionID)
	if !ok {
		return nil
	}
	idx := sess.FindMessage(messageID)
	if idx <= 0 || sess.Messages[idx].Role != models.RoleAssistant || sess.Messages[idx-1].Role != models.RoleUser {
		return nil
	}
	if model.ID == "" {
		return nil
	}
	if !e.tryReserve(sessionID) {
		return nil
	}

	if err := e.admit(model, sess.Messages[:idx]); err != nil {
		e.finish(sessionID)
		return err
	}

	prompt := sess.Messages[idx-1]
	e.store.TruncateFrom(sessionID, messageID)
	e.start(sessionID, prompt, model, prompt.Mode)
	return nil
}

// EditAndResend replaces a user message: the message and everything after it
// are removed, then the edited text is sent as a fresh message through the
// normal send path. The original attachments ride along.
func (e *Engine) EditAndResend(sessionID, messageID, newContent string, model models.ModelInfo) error {
	sess, ok := e.store.GetSession(sessionID)
	if !ok {
		return nil
	}
	idx := sess.FindMessage(messageID)
	if idx < 0 || sess.Messages[idx].Role != models.RoleUser {
		return nil
	}
	if e.Generating(sessionID) {
		return nil
	}

	original := sess.Messages[idx]
	e.store.TruncateFrom(sessionID, messageID)
	return e.Send(SendOptions{
		SessionID:   sessionID,
		Content:     newContent,
		Attachments: original.Attachments,
		Model:       model,
		Mode:        original.Mode,
	})
}

// RefreshBalance fetches the account balance and caches it for admission
// checks.
func (e *Engine) RefreshBalance(ctx context.Context) (float64, error) {
	v, err := e.gen.Balance(ctx)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.balance = v
	e.balanceKnown = true
	e.mu.Unlock()
	return v, nil
}

// CachedBalance returns the last fetched balance. The bool is false until the
// first successful refresh.
func (e *Engine) CachedBalance() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance, e.balanceKnown
}

// admit rejects the send when balance tracking is on, a balance is known, and
// the estimated cost exceeds it. An unknown balance admits: the server is the
// authority and will refuse with a quota error if it must.
func (e *Engine) admit(model models.ModelInfo, history []models.Message) error {
	if !e.store.Settings().BalanceTracking {
		return nil
	}
	e.mu.Lock()
	bal, known := e.balance, e.balanceKnown
	e.mu.Unlock()
	if !known {
		return nil
	}

	out := model.MaxOutputTokens
	if out <= 0 {
		out = defaultOutputTokens
	}
	need := pollen.ComputeCost(model.Pricing, pollen.EstimateMessages(history), out)
	if !pollen.HasSufficient(bal, need) {
		return &InsufficientPollenError{Required: need, Balance: bal}
	}
	return nil
}

func (e *Engine) tryReserve(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[sessionID]; busy {
		return false
	}
	e.inflight[sessionID] = func() {}
	return true
}

func (e *Engine) arm(sessionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[sessionID] = cancel
	e.mu.Unlock()
}

func (e *Engine) finish(sessionID string) {
	e.mu.Lock()
	delete(e.inflight, sessionID)
	e.mu.Unlock()
}

// start appends the assistant placeholder and launches the generation. The
// caller must already hold the session's in-flight reservation.
func (e *Engine) start(sessionID string, prompt models.Message, model models.ModelInfo, requested models.Mode) {
	mode := model.ResolveMode(requested)

	placeholder := models.NewMessage(models.RoleAssistant, "", mode)
	placeholder.Model = model.ID
	placeholder.IsPartial = true
	e.store.AppendMessage(sessionID, placeholder)

	if mode == models.ModeImage || mode == models.ModeVideo {
		// Media calls are not cancellable; the reservation keeps its no-op
		// cancel and the request runs to its own timeout.
		go e.runMedia(sessionID, placeholder.ID, prompt.Content, model, mode)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.arm(sessionID, cancel)
	go e.runText(ctx, cancel, sessionID, placeholder.ID, model)
}

func (e *Engine) runText(ctx context.Context, cancel context.CancelFunc, sessionID, placeholderID string, model models.ModelInfo) {
	defer e.finish(sessionID)
	defer cancel()

	history := e.history(sessionID, placeholderID)
	inTokens := pollen.EstimateMessages(history)
	req := api.ChatRequest{Model: model.ID, Messages: e.wire(history)}

	rec := newReconciler(e.store, sessionID, placeholderID)
	var usage *api.Usage
	err := e.gen.StreamChat(ctx, req, rec.HandleChunk, func(u *api.Usage, tier string) {
		usage = u
		rec.HandleDone(u, tier)
	})

	switch {
	case err == nil:
		if usage != nil && usage.PromptTokens > 0 {
			inTokens = usage.PromptTokens
		}
		out := e.finalTokens(rec)
		e.recordSpend(sessionID, placeholderID, model, inTokens, out)
		e.log.Debug("generation finished",
			zap.String("session", sessionID), zap.String("model", model.ID), zap.Int("tokens", out))
	case api.IsCancelled(err):
		rec.FinishCancelled()
		e.recordSpend(sessionID, placeholderID, model, inTokens, e.finalTokens(rec))
		e.log.Debug("generation cancelled", zap.String("session", sessionID))
	default:
		rec.FinishError(err)
		e.log.Warn("generation failed", zap.String("session", sessionID), zap.Error(err))
	}

	e.refreshBalanceAsync()
}

func (e *Engine) runMedia(sessionID, placeholderID, prompt string, model models.ModelInfo, mode models.Mode) {
	defer e.finish(sessionID)
	// The refresh runs on success and failure alike: a failed request may
	// still have been billed upstream.
	defer e.refreshBalanceAsync()

	var (
		data []byte
		mime string
		err  error
	)
	ctx := context.Background()
	if mode == models.ModeVideo {
		data, mime, err = e.gen.GenerateVideo(ctx, prompt, model.ID, nil)
	} else {
		data, mime, err = e.gen.GenerateImage(ctx, prompt, model.ID, nil)
	}

	partial := false
	if err != nil {
		content := api.UserMessage(err)
		isErr := true
		e.store.UpdateMessage(sessionID, placeholderID, store.MessageUpdate{
			Content:   &content,
			IsPartial: &partial,
			IsError:   &isErr,
		})
		e.log.Warn("media generation failed",
			zap.String("session", sessionID), zap.String("model", model.ID), zap.Error(err))
		return
	}

	att := mediaAttachment(mode, mime, data)
	content := fmt.Sprintf("Generated %s: %s", mode, att.Name)
	e.store.UpdateMessage(sessionID, placeholderID, store.MessageUpdate{
		Content:     &content,
		IsPartial:   &partial,
		Attachments: []models.Attachment{att},
	})

	inTokens := pollen.EstimateTokens(prompt)
	e.recordSpend(sessionID, placeholderID, model, inTokens, 0)
}

// history returns the prompt context for a generation: the optional system
// message followed by every finalized session message, excluding the
// placeholder and prior inline error records.
func (e *Engine) history(sessionID, placeholderID string) []models.Message {
	sess, ok := e.store.GetSession(sessionID)
	if !ok {
		return nil
	}

	out := make([]models.Message, 0, len(sess.Messages)+1)
	sys := strings.TrimSpace(e.store.Settings().SystemPrompt)
	if sys != "" {
		sys += "\n\n" + markdownDirective
	} else {
		sys = markdownDirective
	}
	out = append(out, models.Message{Role: models.RoleSystem, Content: sys})

	for _, m := range sess.Messages {
		if m.ID == placeholderID || m.IsError {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (e *Engine) wire(history []models.Message) []api.ChatMessage {
	out := make([]api.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, api.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (e *Engine) finalTokens(rec *reconciler) int {
	msg, ok := rec.finalMessage()
	if !ok {
		return 0
	}
	return msg.TokensUsed
}

// recordSpend stamps the message with its pollen cost, bumps the session
// accumulator, and decrements the cached balance optimistically.
func (e *Engine) recordSpend(sessionID, messageID string, model models.ModelInfo, inTokens, outTokens int) {
	cost := pollen.ComputeCost(model.Pricing, inTokens, outTokens)
	e.store.UpdateMessage(sessionID, messageID, store.MessageUpdate{PollenSpent: &cost})
	e.store.AddPollen(sessionID, cost)

	e.mu.Lock()
	if e.balanceKnown {
		e.balance -= cost
		if e.balance < 0 {
			e.balance = 0
		}
	}
	e.mu.Unlock()
}

func (e *Engine) refreshBalanceAsync() {
	if !e.store.Settings().BalanceTracking {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := e.RefreshBalance(ctx); err != nil {
			e.log.Debug("balance refresh failed", zap.Error(err))
		}
	}()
}

func mediaAttachment(mode models.Mode, mime string, data []byte) models.Attachment {
	typ := models.AttachmentImage
	if mode == models.ModeVideo {
		typ = models.AttachmentVideo
	}
	return models.Attachment{
		ID:        uuid.NewString(),
		Type:      typ,
		Name:      fmt.Sprintf("%s-%d%s", mode, time.Now().Unix(), extForMime(mime)),
		MimeType:  mime,
		Data:      data,
		SizeBytes: int64(len(data)),
	}
}

func extForMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	default:
		return ".bin"
	}
}
