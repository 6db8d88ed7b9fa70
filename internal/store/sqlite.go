package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"nectar/internal/models"
)

const (
	stateActiveSession = "active_session"
	stateSettings      = "settings"
)

func now() time.Time {
	return time.Now()
}

func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at_unix_ms INTEGER NOT NULL,
			updated_at_unix_ms INTEGER NOT NULL,
			pollen_spent REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at_unix_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT 'text',
			model TEXT NOT NULL DEFAULT '',
			tokens_used INTEGER NOT NULL DEFAULT 0,
			pollen_spent REAL NOT NULL DEFAULT 0,
			is_partial INTEGER NOT NULL DEFAULT 0,
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at_unix_ms INTEGER NOT NULL,
			UNIQUE(session_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			attachment_id TEXT NOT NULL,
			type TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			mime_type TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			data BLOB
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(session_id, message_id, id);`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// persistSession upserts the session row. Caller holds the store lock.
func (s *Store) persistSession(sess models.Session) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(`
INSERT INTO sessions(id, title, model, created_at_unix_ms, updated_at_unix_ms, pollen_spent)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  model = excluded.model,
  updated_at_unix_ms = excluded.updated_at_unix_ms,
  pollen_spent = excluded.pollen_spent`,
		sess.ID, sess.Title, sess.Model,
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), sess.TotalPollenSpent,
	)
	if err != nil {
		s.log.Warn("persist session failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

func (s *Store) persistMessage(sessionID string, msg models.Message) {
	if s.db == nil {
		return
	}
	_, err := s.db.Exec(`
INSERT INTO messages(session_id, message_id, role, content, mode, model, tokens_used, pollen_spent, is_partial, is_error, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, message_id) DO UPDATE SET
  content = excluded.content,
  mode = excluded.mode,
  model = excluded.model,
  tokens_used = excluded.tokens_used,
  pollen_spent = excluded.pollen_spent,
  is_partial = excluded.is_partial,
  is_error = excluded.is_error`,
		sessionID, msg.ID, msg.Role, msg.Content, string(msg.Mode), msg.Model,
		msg.TokensUsed, msg.PollenSpent, boolInt(msg.IsPartial), boolInt(msg.IsError),
		msg.Timestamp.UnixMilli(),
	)
	if err != nil {
		s.log.Warn("persist message failed", zap.String("message", msg.ID), zap.Error(err))
		return
	}

	if _, err := s.db.Exec(`DELETE FROM attachments WHERE session_id = ? AND message_id = ?`, sessionID, msg.ID); err != nil {
		s.log.Warn("clear attachments failed", zap.String("message", msg.ID), zap.Error(err))
		return
	}
	for _, att := range msg.Attachments {
		_, err := s.db.Exec(`
INSERT INTO attachments(session_id, message_id, attachment_id, type, name, mime_type, size_bytes, data)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, msg.ID, att.ID, string(att.Type), att.Name, att.MimeType, att.SizeBytes, att.Data,
		)
		if err != nil {
			s.log.Warn("persist attachment failed", zap.String("attachment", att.ID), zap.Error(err))
		}
	}
}

func (s *Store) deleteMessages(sessionID string, messageIDs []string) {
	if s.db == nil || len(messageIDs) == 0 {
		return
	}
	args := make([]any, 0, len(messageIDs)+1)
	args = append(args, sessionID)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")

	if _, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ? AND message_id IN (`+placeholders+`)`, args...); err != nil {
		s.log.Warn("delete messages failed", zap.String("session", sessionID), zap.Error(err))
	}
	if _, err := s.db.Exec(`DELETE FROM attachments WHERE session_id = ? AND message_id IN (`+placeholders+`)`, args...); err != nil {
		s.log.Warn("delete message attachments failed", zap.String("session", sessionID), zap.Error(err))
	}
}

func (s *Store) deleteSessionRows(id string) {
	if s.db == nil {
		return
	}
	for _, q := range []string{
		`DELETE FROM attachments WHERE session_id = ?`,
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, id); err != nil {
			s.log.Warn("delete session rows failed", zap.String("session", id), zap.Error(err))
		}
	}
}

func (s *Store) clearRows() {
	if s.db == nil {
		return
	}
	for _, q := range []string{`DELETE FROM attachments`, `DELETE FROM messages`, `DELETE FROM sessions`} {
		if _, err := s.db.Exec(q); err != nil {
			s.log.Warn("clear sessions failed", zap.Error(err))
		}
	}
}

// persistState writes the active-session pointer and settings record. Caller
// holds the store lock.
func (s *Store) persistState() {
	if s.db == nil {
		return
	}
	raw, err := json.Marshal(s.settings)
	if err != nil {
		s.log.Warn("encode settings failed", zap.Error(err))
		raw = []byte("{}")
	}
	for key, value := range map[string]string{
		stateActiveSession: s.activeID,
		stateSettings:      string(raw),
	} {
		_, err := s.db.Exec(`
INSERT INTO app_state(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			s.log.Warn("persist app state failed", zap.String("key", key), zap.Error(err))
		}
	}
}

func loadAll(db *sql.DB) (map[string]models.Session, string, models.Settings, error) {
	sessions := map[string]models.Session{}
	settings := models.DefaultSettings()

	rows, err := db.Query(`SELECT id, title, model, created_at_unix_ms, updated_at_unix_ms, pollen_spent FROM sessions`)
	if err != nil {
		return nil, "", settings, err
	}
	for rows.Next() {
		var sess models.Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.Model, &created, &updated, &sess.TotalPollenSpent); err != nil {
			rows.Close()
			return nil, "", settings, err
		}
		sess.CreatedAt = time.UnixMilli(created)
		sess.UpdatedAt = time.UnixMilli(updated)
		sess.Messages = []models.Message{}
		sessions[sess.ID] = sess
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, "", settings, err
	}

	msgRows, err := db.Query(`
SELECT session_id, message_id, role, content, mode, model, tokens_used, pollen_spent, is_partial, is_error, created_at_unix_ms
FROM messages ORDER BY id ASC`)
	if err != nil {
		return nil, "", settings, err
	}
	for msgRows.Next() {
		var sessionID string
		var msg models.Message
		var mode string
		var partial, isErr int
		var created int64
		if err := msgRows.Scan(&sessionID, &msg.ID, &msg.Role, &msg.Content, &mode, &msg.Model,
			&msg.TokensUsed, &msg.PollenSpent, &partial, &isErr, &created); err != nil {
			msgRows.Close()
			return nil, "", settings, err
		}
		msg.Mode = models.Mode(mode)
		msg.IsPartial = partial != 0
		msg.IsError = isErr != 0
		msg.Timestamp = time.UnixMilli(created)
		if sess, ok := sessions[sessionID]; ok {
			sess.Messages = append(sess.Messages, msg)
			sessions[sessionID] = sess
		}
	}
	msgRows.Close()
	if err := msgRows.Err(); err != nil {
		return nil, "", settings, err
	}

	attRows, err := db.Query(`
SELECT session_id, message_id, attachment_id, type, name, mime_type, size_bytes, data
FROM attachments ORDER BY id ASC`)
	if err != nil {
		return nil, "", settings, err
	}
	for attRows.Next() {
		var sessionID, messageID string
		var att models.Attachment
		var typ string
		if err := attRows.Scan(&sessionID, &messageID, &att.ID, &typ, &att.Name, &att.MimeType, &att.SizeBytes, &att.Data); err != nil {
			attRows.Close()
			return nil, "", settings, err
		}
		att.Type = models.AttachmentType(typ)
		sess, ok := sessions[sessionID]
		if !ok {
			continue
		}
		if idx := sess.FindMessage(messageID); idx >= 0 {
			sess.Messages[idx].Attachments = append(sess.Messages[idx].Attachments, att)
			sessions[sessionID] = sess
		}
	}
	attRows.Close()
	if err := attRows.Err(); err != nil {
		return nil, "", settings, err
	}

	var activeID string
	_ = db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, stateActiveSession).Scan(&activeID)
	var rawSettings string
	if err := db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, stateSettings).Scan(&rawSettings); err == nil && rawSettings != "" {
		_ = json.Unmarshal([]byte(rawSettings), &settings)
	}

	return sessions, activeID, settings, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
