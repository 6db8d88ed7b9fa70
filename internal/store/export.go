package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nectar/internal/models"
)

const exportVersion = "1.0"

type exportFile struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exportedAt"`
	Sessions   []models.Session `json:"sessions"`
}

// ExportJSON serializes every session inside the versioned export wrapper.
func (s *Store) ExportJSON() ([]byte, error) {
	out := exportFile{
		Version:    exportVersion,
		ExportedAt: time.Now().UTC(),
		Sessions:   s.AllSessions(),
	}
	return json.MarshalIndent(out, "", "  ")
}

// ImportJSON accepts either the export wrapper or a bare session array.
// Every session must carry an id and an array-typed message log; anything
// else rejects the whole import. Imported sessions replace same-id sessions.
func (s *Store) ImportJSON(data []byte) (int, error) {
	sessions, err := decodeSessions(data)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, sess := range sessions {
		if sess.Title == "" {
			sess.Title = untitled
		}
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = now()
		}
		if sess.UpdatedAt.IsZero() {
			sess.UpdatedAt = sess.CreatedAt
		}
		s.sessions[sess.ID] = sess
		s.deleteSessionRows(sess.ID)
		s.persistSession(sess)
		for _, msg := range sess.Messages {
			s.persistMessage(sess.ID, msg)
		}
	}
	s.mu.Unlock()

	s.notify(Change{})
	return len(sessions), nil
}

func decodeSessions(data []byte) ([]models.Session, error) {
	// Probe with raw messages so an object-typed message log is rejected
	// instead of silently decoded as empty.
	type rawSession struct {
		ID       string          `json:"id"`
		Messages json.RawMessage `json:"messages"`
	}

	var rawList []json.RawMessage
	var wrapper struct {
		Sessions []json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Sessions != nil {
		rawList = wrapper.Sessions
	} else if err := json.Unmarshal(data, &rawList); err != nil {
		return nil, errors.New("import: neither an export file nor a session array")
	}

	sessions := make([]models.Session, 0, len(rawList))
	for i, raw := range rawList {
		var probe rawSession
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("import: session %d is not an object", i)
		}
		if probe.ID == "" {
			return nil, fmt.Errorf("import: session %d has no id", i)
		}
		if !startsWith(probe.Messages, '[') {
			return nil, fmt.Errorf("import: session %q has no message array", probe.ID)
		}
		var sess models.Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return nil, fmt.Errorf("import: session %q: %w", probe.ID, err)
		}
		if sess.Messages == nil {
			sess.Messages = []models.Message{}
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func startsWith(raw json.RawMessage, b byte) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c == b
		}
	}
	return false
}

// ExportMarkdown renders one session as a markdown transcript. Attachments
// are noted by name and type; their payloads are not embedded.
func (s *Store) ExportMarkdown(sessionID string) (string, error) {
	sess, ok := s.GetSession(sessionID)
	if !ok {
		return "", fmt.Errorf("session %q not found", sessionID)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n", sess.Title)
	for _, msg := range sess.Messages {
		label := "User"
		if msg.Role == models.RoleAssistant {
			label = "Assistant"
		} else if msg.Role == models.RoleSystem {
			label = "System"
		}
		fmt.Fprintf(&sb, "\n**%s:**\n\n%s\n", label, msg.Content)
		for _, att := range msg.Attachments {
			fmt.Fprintf(&sb, "\n> attachment: %s (%s)\n", att.Name, att.MimeType)
		}
	}
	return sb.String(), nil
}

// ImportMarkdown parses a transcript produced by ExportMarkdown (or close
// enough to it) into a new session. Role labels and message text are
// recovered; attachments only as placeholder names.
func (s *Store) ImportMarkdown(data string) (models.Session, error) {
	sess := parseMarkdown(data)
	if len(sess.Messages) == 0 {
		return models.Session{}, errors.New("import: no messages found in markdown")
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.persistSession(sess)
	for _, msg := range sess.Messages {
		s.persistMessage(sess.ID, msg)
	}
	s.mu.Unlock()

	s.notify(Change{SessionID: sess.ID})
	return sess, nil
}

func parseMarkdown(data string) models.Session {
	sess := models.NewSession("", untitled)

	var role string
	var buf []string
	flush := func() {
		lines := buf
		buf = nil
		// Lines before the first role label (the title header's spillover,
		// stray prose) belong to no message.
		if role == "" {
			return
		}
		content := strings.TrimSpace(strings.Join(lines, "\n"))
		if content != "" {
			sess.Messages = append(sess.Messages, models.Message{
				ID:        uuid.NewString(),
				Role:      role,
				Content:   content,
				Mode:      models.ModeText,
				Timestamp: time.Now(),
			})
		}
	}

	for _, line := range strings.Split(data, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "# ") && sess.Title == untitled && len(sess.Messages) == 0 && role == "":
			sess.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
		case trimmed == "**User:**":
			flush()
			role = models.RoleUser
		case trimmed == "**Assistant:**":
			flush()
			role = models.RoleAssistant
		case trimmed == "**System:**":
			flush()
			role = models.RoleSystem
		case strings.HasPrefix(trimmed, "> attachment:"):
			// Payloads do not round-trip through markdown.
		default:
			buf = append(buf, line)
		}
	}
	flush()
	return sess
}
