package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"nectar/internal/attach"
	"nectar/internal/chat"
	"nectar/internal/models"
	"nectar/internal/styles"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case spinner.TickMsg:
		m.Spinner, spCmd = m.Spinner.Update(msg)
		if m.Engine.Generating(m.Store.ActiveID()) {
			m.RefreshViewport()
		}
		return m, spCmd

	case StoreChangedMsg:
		if msg.Change.SessionID == "" || msg.Change.SessionID == m.Store.ActiveID() {
			m.RefreshViewport()
		}
		if m.HistoryOpen {
			m.RefreshHistory()
		}
		return m, nil

	case BalanceMsg:
		if msg.Err != nil {
			m.Log.Debug("balance fetch failed", zap.Error(msg.Err))
			return m, nil
		}
		m.Balance = msg.Balance
		m.BalanceKnown = true
		return m, nil

	case ProfileMsg:
		if msg.Err == nil && msg.Profile != nil {
			m.Tier = msg.Profile.Tier
		}
		return m, nil

	case ModelsMsg:
		if msg.Err != nil {
			m.Log.Warn("model catalog unavailable, using fallback list", zap.Error(msg.Err))
			return m, m.toast("Model catalog unavailable; using built-in list.")
		}
		if len(msg.Models) > 0 {
			m.Models = sortModelsByTier(msg.Models)
			if mdl, idx, ok := m.FindModelByID(m.CurrentModel.ID); ok {
				m.CurrentModel = mdl
				m.SelectedModelIndex = idx
			} else {
				m.CurrentModel = m.Models[0]
				m.SelectedModelIndex = 0
			}
		}
		return m, nil

	case clearToastMsg:
		m.Toast = ""
		return m, nil

	case tea.KeyMsg:
		if m.HistoryOpen {
			return m.updateHistoryModal(msg)
		}
		if m.ModelSelectorOpen {
			return m.updateModelSelector(msg)
		}
		if m.ShortcutsOpen {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "?", "ctrl+s":
				m.ShortcutsOpen = false
				return m, nil
			}
			return m, nil
		}

		if isNewlineShortcut(msg) {
			m.TextInput.InsertString("\n")
			m.FileSuggestOpen = false
			m.updateInputLayout()
			return m, nil
		}

		if m.FileSuggestOpen {
			switch msg.String() {
			case "esc":
				m.FileSuggestOpen = false
				return m, nil
			case "up", "ctrl+p":
				if len(m.FileSuggestions) > 0 {
					m.FileSuggestIdx--
					if m.FileSuggestIdx < 0 {
						m.FileSuggestIdx = len(m.FileSuggestions) - 1
					}
				}
				return m, nil
			case "down", "ctrl+n":
				if len(m.FileSuggestions) > 0 {
					m.FileSuggestIdx++
					if m.FileSuggestIdx >= len(m.FileSuggestions) {
						m.FileSuggestIdx = 0
					}
				}
				return m, nil
			case "tab", "enter":
				m.acceptFileSuggestion()
				return m, nil
			}
		}

		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit

		case tea.KeyEsc:
			if m.FileSuggestOpen {
				m.FileSuggestOpen = false
				return m, nil
			}
			if m.EditingMessageID != "" {
				m.EditingMessageID = ""
				m.TextInput.Reset()
				m.updateInputLayout()
				return m, nil
			}
			if active := m.Store.ActiveID(); m.Engine.Generating(active) {
				m.Engine.Cancel(active)
				return m, nil
			}
			return m, tea.Quit

		case tea.KeyCtrlN:
			m.Store.CreateSession(m.CurrentModel.ID, "")
			m.EditingMessageID = ""
			m.TextInput.Reset()
			m.updateInputLayout()
			m.RefreshViewport()
			return m, nil

		case tea.KeyCtrlB:
			m.ModelSelectorOpen = true
			m.HistoryOpen = false
			m.ShortcutsOpen = false
			m.UpdateModelSelectorContent()
			m.SyncModelViewportScroll()
			return m, nil

		case tea.KeyCtrlS:
			m.ShortcutsOpen = true
			m.ModelSelectorOpen = false
			m.HistoryOpen = false
			return m, nil

		case tea.KeyCtrlH:
			m.ModelSelectorOpen = false
			m.HistoryOpen = true
			m.ShortcutsOpen = false
			m.RefreshHistory()
			return m, nil

		case tea.KeyCtrlR:
			return m, m.regenerateLast()

		case tea.KeyCtrlE:
			m.beginEditLastUserMessage()
			return m, nil

		case tea.KeyEnter:
			if m.FileSuggestOpen && len(m.FileSuggestions) > 0 {
				m.acceptFileSuggestion()
				return m, nil
			}
			return m, m.submitInput()
		}

	case ErrMsg:
		m.Log.Warn("ui error", zap.Error(msg))
		return m, m.toast(fmt.Sprintf("Error: %v", msg))

	case tea.WindowSizeMsg:
		m.WindowWidth = msg.Width
		m.WindowHeight = msg.Height

		ModalWidth = msg.Width - 10
		if ModalWidth > 60 {
			ModalWidth = 60
		}
		if ModalWidth < 30 {
			ModalWidth = 30
		}
		styles.ContentWidth = ModalWidth - 6

		m.ModelViewport.Width = styles.ContentWidth
		m.ModelViewport.Height = msg.Height - 15
		if m.ModelViewport.Height > 20 {
			m.ModelViewport.Height = 20
		}
		if m.ModelViewport.Height < 5 {
			m.ModelViewport.Height = 5
		}

		chatWidth := msg.Width - 2
		if chatWidth > MaxChatWidth {
			chatWidth = MaxChatWidth
		}
		m.Viewport.Width = chatWidth - 2

		m.updateInputLayout()
		glamourStyle := "dark"
		if !lipgloss.HasDarkBackground() {
			glamourStyle = "light"
		}
		m.Renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath(glamourStyle),
			glamour.WithWordWrap(chatWidth-6),
		)
		m.RefreshViewport()
		return m, tea.Batch(tiCmd, vpCmd)
	}

	m.TextInput, tiCmd = m.TextInput.Update(msg)
	m.updateInputLayout()

	// Filter out terminal background color queries and cursor reference codes
	// that leak into the input.
	val := m.TextInput.Value()
	if strings.Contains(val, "]11;rgb:") || strings.Contains(val, "1;rgb:") || strings.Contains(val, "[1;1R") {
		m.TextInput.Reset()
	}

	// @ file mention trigger
	val = m.TextInput.Value()
	cursorPos := TextareaCursorIndex(m.TextInput)
	if prefix, _, found := GetAtPosition(val, cursorPos); found {
		suggestions := GetFileSuggestions(prefix)
		if len(suggestions) > 0 {
			m.FileSuggestions = suggestions
			m.FileSuggestOpen = true
			m.FileSuggestIdx = 0
			m.FileSuggestPrefix = prefix
		} else {
			m.FileSuggestOpen = false
		}
	} else {
		m.FileSuggestOpen = false
	}

	_, m.PendingFiles = attach.ExtractMentions(val)

	m.Viewport, vpCmd = m.Viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *Model) updateHistoryModal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "ctrl+h":
		m.HistoryOpen = false
		m.HistoryErr = nil
		return m, nil
	case "up", "k":
		if len(m.HistorySessions) == 0 {
			return m, nil
		}
		m.HistorySelectedIdx--
		if m.HistorySelectedIdx < 0 {
			m.HistorySelectedIdx = len(m.HistorySessions) - 1
		}
		return m, nil
	case "down", "j":
		if len(m.HistorySessions) == 0 {
			return m, nil
		}
		m.HistorySelectedIdx++
		if m.HistorySelectedIdx >= len(m.HistorySessions) {
			m.HistorySelectedIdx = 0
		}
		return m, nil
	case "d":
		if len(m.HistorySessions) == 0 {
			return m, nil
		}
		sess := m.HistorySessions[m.HistorySelectedIdx]
		m.Store.DeleteSession(sess.ID)
		m.RefreshHistory()
		return m, nil
	case "enter":
		if len(m.HistorySessions) == 0 {
			return m, nil
		}
		sess := m.HistorySessions[m.HistorySelectedIdx]
		m.Store.SetActive(sess.ID)
		if sess.Model != "" {
			if mdl, idx, ok := m.FindModelByID(sess.Model); ok {
				m.CurrentModel = mdl
				m.SelectedModelIndex = idx
			}
		}
		m.HistoryOpen = false
		m.HistoryErr = nil
		m.RefreshViewport()
		return m, nil
	}
	return m, nil
}

func (m *Model) updateModelSelector(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc", "ctrl+b":
		m.ModelSelectorOpen = false
		return m, nil
	case "up", "k":
		m.SelectedModelIndex--
		if m.SelectedModelIndex < 0 {
			m.SelectedModelIndex = len(m.Models) - 1
		}
		m.SyncModelViewportScroll()
		m.UpdateModelSelectorContent()
		return m, nil
	case "down", "j":
		m.SelectedModelIndex++
		if m.SelectedModelIndex >= len(m.Models) {
			m.SelectedModelIndex = 0
		}
		m.SyncModelViewportScroll()
		m.UpdateModelSelectorContent()
		return m, nil
	case "enter":
		m.CurrentModel = m.Models[m.SelectedModelIndex]
		m.ModelSelectorOpen = false
		settings := m.Store.Settings()
		settings.ModelID = m.CurrentModel.ID
		m.Store.SetSettings(settings)
		return m, nil
	}
	return m, nil
}

// submitInput routes the typed text through send or edit-and-resend.
func (m *Model) submitInput() tea.Cmd {
	input := m.TextInput.Value()
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil
	}

	if trimmed == "/clear" || trimmed == "/new" {
		m.Store.CreateSession(m.CurrentModel.ID, "")
		m.EditingMessageID = ""
		m.TextInput.Reset()
		m.updateInputLayout()
		m.RefreshViewport()
		return nil
	}

	clean, paths := attach.ExtractMentions(input)
	var atts []models.Attachment
	for _, p := range paths {
		att, err := attach.LoadFile(p)
		if err != nil {
			m.Log.Warn("attachment skipped", zap.String("path", p), zap.Error(err))
			return m.toast(fmt.Sprintf("Cannot attach %s: %v", filepath.Base(p), err))
		}
		atts = append(atts, att)
	}

	active := m.Store.ActiveID()
	var err error
	if m.EditingMessageID != "" {
		err = m.Engine.EditAndResend(active, m.EditingMessageID, clean, m.CurrentModel)
		m.EditingMessageID = ""
	} else {
		err = m.Engine.Send(chat.SendOptions{
			SessionID:   active,
			Content:     clean,
			Attachments: atts,
			Model:       m.CurrentModel,
		})
	}
	if err != nil {
		// The input is kept so the message can be retried.
		return m.toast(err.Error())
	}

	m.TextInput.Reset()
	m.FileSuggestOpen = false
	m.updateInputLayout()
	m.RefreshViewport()
	return m.Spinner.Tick
}

// regenerateLast re-runs the newest assistant message of the active session.
func (m *Model) regenerateLast() tea.Cmd {
	sess, ok := m.Store.ActiveSession()
	if !ok {
		return nil
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == models.RoleAssistant {
			if err := m.Engine.Regenerate(sess.ID, sess.Messages[i].ID, m.CurrentModel); err != nil {
				return m.toast(err.Error())
			}
			return m.Spinner.Tick
		}
	}
	return nil
}

// beginEditLastUserMessage loads the newest user message into the input.
func (m *Model) beginEditLastUserMessage() {
	sess, ok := m.Store.ActiveSession()
	if !ok || m.Engine.Generating(sess.ID) {
		return
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == models.RoleUser {
			m.EditingMessageID = sess.Messages[i].ID
			m.TextInput.SetValue(sess.Messages[i].Content)
			m.TextInput.CursorEnd()
			m.updateInputLayout()
			return
		}
	}
}

func (m *Model) toast(text string) tea.Cmd {
	m.Toast = text
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg { return clearToastMsg{} })
}

func (m *Model) RefreshHistory() {
	m.HistoryErr = nil
	m.HistorySessions = m.Store.AllSessions()
	if m.HistorySelectedIdx >= len(m.HistorySessions) {
		m.HistorySelectedIdx = 0
	}
}

func isNewlineShortcut(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "shift+enter", "shift+return", "ctrl+j", "ctrl+enter", "alt+enter":
		return true
	default:
		return false
	}
}

func (m *Model) acceptFileSuggestion() {
	if len(m.FileSuggestions) == 0 || m.FileSuggestIdx >= len(m.FileSuggestions) {
		m.FileSuggestOpen = false
		return
	}
	selected := m.FileSuggestions[m.FileSuggestIdx]
	val := m.TextInput.Value()
	cursorPos := TextareaCursorIndex(m.TextInput)
	prefix, startPos, found := GetAtPosition(val, cursorPos)
	if found {
		newVal := val[:startPos] + "@" + selected + " " + val[startPos+1+len(prefix):]
		newCursorIndex := startPos + len(selected) + 2
		m.TextInput.SetValue(newVal)
		row, col := TextareaCursorFromIndex(newVal, newCursorIndex)
		SetTextareaCursor(&m.TextInput, row, col)
	}
	m.FileSuggestOpen = false
}

func (m *Model) updateInputLayout() {
	if m.WindowWidth == 0 || m.WindowHeight == 0 {
		return
	}

	inputWidth := m.WindowWidth - 6
	if inputWidth < 20 {
		inputWidth = 20
	}
	contentWidth := inputWidth - 2
	if contentWidth < 1 {
		contentWidth = 1
	}

	maxInputHeight := 6
	lineCount := WrappedLineCount(m.TextInput.Value(), contentWidth)
	if lineCount < 1 {
		lineCount = 1
	}
	if lineCount > maxInputHeight {
		lineCount = maxInputHeight
	}

	m.TextInput.MaxHeight = maxInputHeight
	m.TextInput.SetWidth(inputWidth)
	m.TextInput.SetHeight(lineCount)

	inputBoxHeight := m.TextInput.Height() + 2
	reserved := inputBoxHeight + 5
	viewportHeight := m.WindowHeight - reserved
	if viewportHeight < 5 {
		viewportHeight = 5
	}
	m.Viewport.Height = viewportHeight
}
