// Package store owns the canonical copy of all chat sessions. Every mutation
// rebuilds the affected session (copy-on-write) so readers never observe a
// half-applied update, then persists to sqlite best-effort and notifies
// subscribers. Persistence failures are logged and swallowed: the client must
// stay usable with no durable history.
package store

import (
	"database/sql"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"nectar/internal/models"
)

const (
	untitled       = "New chat"
	titleMaxRunes  = 50
	titleTruncated = "..."
)

// Change identifies what a mutation touched. MessageID is empty for
// session-level changes (create, rename, delete, clear).
type Change struct {
	SessionID string
	MessageID string
}

type Listener func(Change)

// MessageUpdate is a field-level merge applied to one message. Nil fields are
// left untouched; set fields overwrite wholesale.
type MessageUpdate struct {
	Content     *string
	TokensUsed  *int
	PollenSpent *float64
	IsPartial   *bool
	IsError     *bool
	Model       *string
	Attachments []models.Attachment
}

type Store struct {
	mu        sync.RWMutex
	sessions  map[string]models.Session
	activeID  string
	settings  models.Settings
	listeners []Listener

	db  *sql.DB // nil when persistence is unavailable
	log *zap.Logger
}

// Open loads the store from the sqlite database at path. If the database
// cannot be opened or read the store still comes up empty and in-memory; the
// failure is logged, never surfaced.
func Open(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		sessions: map[string]models.Session{},
		settings: models.DefaultSettings(),
		log:      log,
	}

	db, err := openDB(path)
	if err != nil {
		log.Warn("session database unavailable, running in memory", zap.String("path", path), zap.Error(err))
		return s
	}
	s.db = db

	sessions, activeID, settings, err := loadAll(db)
	if err != nil {
		log.Warn("loading sessions failed, starting empty", zap.Error(err))
		return s
	}
	s.sessions = sessions
	s.settings = settings
	if _, ok := sessions[activeID]; ok {
		s.activeID = activeID
	}
	return s
}

// NewMemory returns a store with no persistence, for tests and degraded runs.
func NewMemory(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		sessions: map[string]models.Session{},
		settings: models.DefaultSettings(),
		log:      log,
	}
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// Subscribe registers a listener invoked after every mutation. Listeners are
// called outside the store lock and may read the store freely.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(c)
	}
}

// CreateSession makes a fresh empty session, marks it active, and persists it
// before reporting it back.
func (s *Store) CreateSession(model, title string) models.Session {
	if title == "" {
		title = untitled
	}
	sess := models.NewSession(model, title)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.activeID = sess.ID
	s.persistSession(sess)
	s.persistState()
	s.mu.Unlock()

	s.notify(Change{SessionID: sess.ID})
	return sess
}

// GetSession returns a copy of the session, detached from the store.
func (s *Store) GetSession(id string) (models.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return sess.Clone(), true
}

// AllSessions returns copies of every session, most recently updated first.
func (s *Store) AllSessions() []models.Session {
	s.mu.RLock()
	out := make([]models.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

func (s *Store) ActiveSession() (models.Session, bool) {
	s.mu.RLock()
	id := s.activeID
	s.mu.RUnlock()
	if id == "" {
		return models.Session{}, false
	}
	return s.GetSession(id)
}

func (s *Store) SetActive(id string) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; ok || id == "" {
		s.activeID = id
		s.persistState()
	}
	s.mu.Unlock()
}

// AppendMessage adds a message to the tail of the session log. The first user
// message of an untitled session also becomes its title, truncated to 50
// characters.
func (s *Store) AppendMessage(sessionID string, msg models.Message) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess = sess.Clone()

	if len(sess.Messages) == 0 && msg.Role == models.RoleUser && (sess.Title == "" || sess.Title == untitled) {
		sess.Title = deriveTitle(msg.Content)
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = now()
	s.sessions[sessionID] = sess

	s.persistSession(sess)
	s.persistMessage(sessionID, msg)
	s.mu.Unlock()

	s.notify(Change{SessionID: sessionID, MessageID: msg.ID})
}

// UpdateMessage merges the given fields into one message. Safe to call once
// per stream chunk; last write wins.
func (s *Store) UpdateMessage(sessionID, messageID string, upd MessageUpdate) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := sess.FindMessage(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	sess = sess.Clone()
	msg := &sess.Messages[idx]

	if upd.Content != nil {
		msg.Content = *upd.Content
	}
	if upd.TokensUsed != nil {
		msg.TokensUsed = *upd.TokensUsed
	}
	if upd.PollenSpent != nil {
		msg.PollenSpent = *upd.PollenSpent
	}
	if upd.IsPartial != nil {
		msg.IsPartial = *upd.IsPartial
	}
	if upd.IsError != nil {
		msg.IsError = *upd.IsError
	}
	if upd.Model != nil {
		msg.Model = *upd.Model
	}
	if upd.Attachments != nil {
		msg.Attachments = upd.Attachments
	}

	sess.UpdatedAt = now()
	s.sessions[sessionID] = sess
	s.persistSession(sess)
	s.persistMessage(sessionID, sess.Messages[idx])
	s.mu.Unlock()

	s.notify(Change{SessionID: sessionID, MessageID: messageID})
}

// DeleteMessage removes exactly one message, preserving the order of the rest.
func (s *Store) DeleteMessage(sessionID, messageID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	idx := sess.FindMessage(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	sess = sess.Clone()
	sess.Messages = append(sess.Messages[:idx], sess.Messages[idx+1:]...)
	sess.UpdatedAt = now()
	s.sessions[sessionID] = sess
	s.persistSession(sess)
	s.deleteMessages(sessionID, []string{messageID})
	s.mu.Unlock()

	s.notify(Change{SessionID: sessionID, MessageID: messageID})
}

// TruncateFrom removes the matching message and everything after it, returning
// the removed entries. An unknown id is a no-op.
func (s *Store) TruncateFrom(sessionID, messageID string) []models.Message {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	idx := sess.FindMessage(messageID)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	sess = sess.Clone()
	removed := make([]models.Message, len(sess.Messages)-idx)
	copy(removed, sess.Messages[idx:])
	sess.Messages = sess.Messages[:idx]
	sess.UpdatedAt = now()
	s.sessions[sessionID] = sess

	ids := make([]string, len(removed))
	for i, m := range removed {
		ids[i] = m.ID
	}
	s.persistSession(sess)
	s.deleteMessages(sessionID, ids)
	s.mu.Unlock()

	s.notify(Change{SessionID: sessionID})
	return removed
}

func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	if _, ok := s.sessions[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, id)
	if s.activeID == id {
		s.activeID = ""
	}
	s.deleteSessionRows(id)
	s.persistState()
	s.mu.Unlock()

	s.notify(Change{SessionID: id})
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = map[string]models.Session{}
	s.activeID = ""
	s.clearRows()
	s.persistState()
	s.mu.Unlock()

	s.notify(Change{})
}

func (s *Store) Rename(id, title string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess = sess.Clone()
	sess.Title = title
	sess.UpdatedAt = now()
	s.sessions[id] = sess
	s.persistSession(sess)
	s.mu.Unlock()

	s.notify(Change{SessionID: id})
}

// AddPollen bumps the session's spent-pollen accumulator.
func (s *Store) AddPollen(sessionID string, amount float64) {
	if amount <= 0 {
		return
	}
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess = sess.Clone()
	sess.TotalPollenSpent += amount
	s.sessions[sessionID] = sess
	s.persistSession(sess)
	s.mu.Unlock()

	s.notify(Change{SessionID: sessionID})
}

func (s *Store) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) SetSettings(settings models.Settings) {
	s.mu.Lock()
	s.settings = settings
	s.persistState()
	s.mu.Unlock()
	s.notify(Change{})
}

func deriveTitle(content string) string {
	// Titles are single-line; only the first line of a multi-line message
	// contributes.
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return untitled
	}
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + titleTruncated
}
