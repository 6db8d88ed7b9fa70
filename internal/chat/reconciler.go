package chat

import (
	"strings"

	"nectar/internal/api"
	"nectar/internal/models"
	"nectar/internal/pollen"
	"nectar/internal/store"
)

// CancelMarker is appended to whatever text accumulated before the user
// stopped a stream.
const CancelMarker = "\n\n*[generation stopped]*"

// reconciler folds one generation's incremental deltas into a single message
// record. It owns the accumulation buffer; the store owns the message. It
// lives exactly as long as one in-flight request.
type reconciler struct {
	store     *store.Store
	sessionID string
	messageID string

	accum strings.Builder
	usage *api.Usage
	tier  string
}

func newReconciler(st *store.Store, sessionID, messageID string) *reconciler {
	return &reconciler{store: st, sessionID: sessionID, messageID: messageID}
}

// HandleChunk appends the delta and pushes the grown content back to the
// store, still marked partial.
func (r *reconciler) HandleChunk(delta string) {
	r.accum.WriteString(delta)
	content := r.accum.String()
	tokens := pollen.EstimateTokens(content)
	partial := true
	r.store.UpdateMessage(r.sessionID, r.messageID, store.MessageUpdate{
		Content:    &content,
		TokensUsed: &tokens,
		IsPartial:  &partial,
	})
}

// HandleDone finalizes the message, preferring server-reported token counts
// over the local heuristic.
func (r *reconciler) HandleDone(usage *api.Usage, tier string) {
	r.usage = usage
	r.tier = tier

	content := r.accum.String()
	tokens := pollen.EstimateTokens(content)
	if usage != nil && usage.CompletionTokens > 0 {
		tokens = usage.CompletionTokens
	}
	partial := false
	r.store.UpdateMessage(r.sessionID, r.messageID, store.MessageUpdate{
		Content:    &content,
		TokensUsed: &tokens,
		IsPartial:  &partial,
	})
}

// FinishCancelled finalizes after a user abort: accumulated text plus the
// cancel marker, token count from the heuristic (no server usage arrives on
// a cancelled stream), and no error flag.
func (r *reconciler) FinishCancelled() {
	r.accum.WriteString(CancelMarker)
	content := r.accum.String()
	tokens := pollen.EstimateTokens(content)
	partial := false
	r.store.UpdateMessage(r.sessionID, r.messageID, store.MessageUpdate{
		Content:    &content,
		TokensUsed: &tokens,
		IsPartial:  &partial,
	})
}

// FinishError finalizes after a failure. With nothing accumulated the message
// becomes an inline error record; with partial content the text is kept and
// only the partial flag clears, since something was produced.
func (r *reconciler) FinishError(err error) {
	partial := false
	if r.accum.Len() == 0 {
		content := api.UserMessage(err)
		isErr := true
		r.store.UpdateMessage(r.sessionID, r.messageID, store.MessageUpdate{
			Content:   &content,
			IsPartial: &partial,
			IsError:   &isErr,
		})
		return
	}
	content := r.accum.String()
	r.store.UpdateMessage(r.sessionID, r.messageID, store.MessageUpdate{
		Content:   &content,
		IsPartial: &partial,
	})
}

func (r *reconciler) finalMessage() (models.Message, bool) {
	sess, ok := r.store.GetSession(r.sessionID)
	if !ok {
		return models.Message{}, false
	}
	idx := sess.FindMessage(r.messageID)
	if idx < 0 {
		return models.Message{}, false
	}
	return sess.Messages[idx], true
}
