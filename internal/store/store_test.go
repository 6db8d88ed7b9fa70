package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nectar/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "nectar.db"), nil)
	t.Cleanup(s.Close)
	return s
}

func TestCreateAndReloadSession(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nectar.db")
	s := Open(path, nil)
	sess := s.CreateSession("flux", "")
	assert.Equal(t, "New chat", sess.Title)
	assert.Equal(t, sess.ID, s.ActiveID())

	s.AppendMessage(sess.ID, models.NewMessage(models.RoleUser, "hello there", models.ModeText))
	s.AppendMessage(sess.ID, models.NewMessage(models.RoleAssistant, "hi", models.ModeText))
	s.Close()

	reloaded := Open(path, nil)
	defer reloaded.Close()
	got, ok := reloaded.GetSession(sess.ID)
	require.True(t, ok)
	assert.Equal(t, "hello there", got.Title)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "hi", got.Messages[1].Content)
	assert.Equal(t, sess.ID, reloaded.ActiveID())
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	sess := s.CreateSession("m", "")
	long := ""
	for i := 0; i < 10; i++ {
		long += "0123456789"
	}
	s.AppendMessage(sess.ID, models.NewMessage(models.RoleUser, long, models.ModeText))

	got, _ := s.GetSession(sess.ID)
	assert.Len(t, []rune(got.Title), 53) // 50 runes plus ellipsis marker
	assert.Equal(t, long[:50]+"...", got.Title)

	// A later user message does not retitle.
	s.AppendMessage(sess.ID, models.NewMessage(models.RoleUser, "second", models.ModeText))
	got, _ = s.GetSession(sess.ID)
	assert.Equal(t, long[:50]+"...", got.Title)

	// Only the first line of a multi-line message titles the session.
	multi := s.CreateSession("m", "")
	s.AppendMessage(multi.ID, models.NewMessage(models.RoleUser, "first question\nwith two lines", models.ModeText))
	got, _ = s.GetSession(multi.ID)
	assert.Equal(t, "first question", got.Title)
}

func TestUpdateMessageMergesFields(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	sess := s.CreateSession("m", "")
	msg := models.NewMessage(models.RoleAssistant, "", models.ModeText)
	msg.IsPartial = true
	s.AppendMessage(sess.ID, msg)

	content := "partial out"
	tokens := 3
	s.UpdateMessage(sess.ID, msg.ID, MessageUpdate{Content: &content, TokensUsed: &tokens})

	got, _ := s.GetSession(sess.ID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "partial out", got.Messages[0].Content)
	assert.Equal(t, 3, got.Messages[0].TokensUsed)
	assert.True(t, got.Messages[0].IsPartial, "unset fields stay put")

	done := false
	s.UpdateMessage(sess.ID, msg.ID, MessageUpdate{IsPartial: &done})
	got, _ = s.GetSession(sess.ID)
	assert.False(t, got.Messages[0].IsPartial)
	assert.Equal(t, "partial out", got.Messages[0].Content)
}

func TestTruncateFrom(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	sess := s.CreateSession("m", "")
	var ids []string
	for _, c := range []string{"A", "B", "C", "D"} {
		m := models.NewMessage(models.RoleUser, c, models.ModeText)
		ids = append(ids, m.ID)
		s.AppendMessage(sess.ID, m)
	}

	removed := s.TruncateFrom(sess.ID, ids[2])
	require.Len(t, removed, 2)
	assert.Equal(t, "C", removed[0].Content)
	assert.Equal(t, "D", removed[1].Content)

	got, _ := s.GetSession(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "A", got.Messages[0].Content)
	assert.Equal(t, "B", got.Messages[1].Content)

	// Unknown id is a no-op.
	assert.Nil(t, s.TruncateFrom(sess.ID, "nope"))
	got, _ = s.GetSession(sess.ID)
	assert.Len(t, got.Messages, 2)
}

func TestDeleteMessagePreservesOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	sess := s.CreateSession("m", "")
	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		m := models.NewMessage(models.RoleUser, c, models.ModeText)
		ids = append(ids, m.ID)
		s.AppendMessage(sess.ID, m)
	}
	s.DeleteMessage(sess.ID, ids[1])

	got, _ := s.GetSession(sess.ID)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "one", got.Messages[0].Content)
	assert.Equal(t, "three", got.Messages[1].Content)
}

func TestDeleteSessionClearsActivePointer(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	sess := s.CreateSession("m", "")
	require.Equal(t, sess.ID, s.ActiveID())
	s.DeleteSession(sess.ID)
	assert.Empty(t, s.ActiveID())
	_, ok := s.GetSession(sess.ID)
	assert.False(t, ok)
}

func TestAllSessionsOrderedByUpdatedAt(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	a := s.CreateSession("m", "a")
	b := s.CreateSession("m", "b")
	time.Sleep(5 * time.Millisecond)
	s.AppendMessage(a.ID, models.NewMessage(models.RoleUser, "bump", models.ModeText))

	all := s.AllSessions()
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)
}

func TestSubscribeNotifiesOnMutation(t *testing.T) {
	t.Parallel()
	s := NewMemory(nil)

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	sess := s.CreateSession("m", "")
	msg := models.NewMessage(models.RoleUser, "hi", models.ModeText)
	s.AppendMessage(sess.ID, msg)

	require.Len(t, changes, 2)
	assert.Equal(t, sess.ID, changes[0].SessionID)
	assert.Equal(t, msg.ID, changes[1].MessageID)
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nectar.db")
	s := Open(path, nil)
	s.SetSettings(models.Settings{SystemPrompt: "be brief", ModelID: "openai", BalanceTracking: false})
	s.Close()

	reloaded := Open(path, nil)
	defer reloaded.Close()
	got := reloaded.Settings()
	assert.Equal(t, "be brief", got.SystemPrompt)
	assert.Equal(t, "openai", got.ModelID)
	assert.False(t, got.BalanceTracking)
}

func TestReadsReturnDetachedCopies(t *testing.T) {
	t.Parallel()
	s := NewMemory(nil)

	sess := s.CreateSession("m", "")
	s.AppendMessage(sess.ID, models.NewMessage(models.RoleUser, "original", models.ModeText))

	got, _ := s.GetSession(sess.ID)
	got.Messages[0].Content = "mutated by caller"

	again, _ := s.GetSession(sess.ID)
	assert.Equal(t, "original", again.Messages[0].Content)
}
