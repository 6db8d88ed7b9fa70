package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"nectar/internal/pollen"
	"nectar/internal/styles"
)

// RefreshViewport re-renders the active session from the store. The store is
// the single source of truth; nothing rendered here is cached across updates.
func (m *Model) RefreshViewport() {
	sess, ok := m.Store.ActiveSession()
	if !ok || len(sess.Messages) == 0 {
		m.Viewport.SetContent(GetWelcomeScreen(m.Viewport.Width, m.Viewport.Height))
		m.Viewport.GotoTop()
		return
	}

	parts := make([]string, 0, len(sess.Messages))
	for i, msg := range sess.Messages {
		parts = append(parts, m.FormatMessage(msg, i == 0))
	}
	m.Viewport.SetContent(strings.Join(parts, "\n\n"))
	m.Viewport.GotoBottom()
}

func (m *Model) UpdateModelSelectorContent() {
	var items []string
	var lastTier string
	for i, mdl := range m.Models {
		tier := mdl.Tier
		if tier == "" {
			tier = "anonymous"
		}
		if tier != lastTier {
			if lastTier != "" {
				items = append(items, "")
			}
			tierColor := "#545454"
			if c, ok := styles.TierColors[tier]; ok {
				tierColor = c
			}
			header := styles.ModalHeaderStyle.Copy().
				Foreground(lipgloss.Color(tierColor)).
				Render(tier)
			items = append(items, header)
			lastTier = tier
		}

		isSelected := i == m.SelectedModelIndex
		isCurrent := m.CurrentModel.ID == mdl.ID

		displayName := mdl.Name
		if mdl.MediaModel() {
			displayName = fmt.Sprintf("%s [%s]", displayName, mdl.Type)
		}
		if isCurrent {
			displayName = "● " + displayName
		} else {
			displayName = "  " + displayName
		}

		var styledItem string
		if isSelected {
			styledItem = styles.ModalSelectedStyle.Copy().
				Width(styles.ContentWidth).
				Render(displayName)
		} else {
			style := styles.ModalItemStyle.Copy().Width(styles.ContentWidth)
			if isCurrent {
				style = style.Foreground(lipgloss.Color("#90CAF9"))
			} else {
				style = style.Foreground(lipgloss.AdaptiveColor{Light: "#1a1a2e", Dark: "#FFFFFF"})
			}
			styledItem = style.Render(displayName)
		}

		items = append(items, styledItem)
	}

	listContent := lipgloss.JoinVertical(lipgloss.Left, items...)
	m.ModelViewport.SetContent(listContent)
}

func (m *Model) RenderModelSelector() string {
	title := styles.ModalTitleStyle.Render("Select Model")
	content := lipgloss.JoinVertical(lipgloss.Left, title, m.ModelViewport.View())

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • Enter: select • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderHistorySelector() string {
	title := styles.ModalTitleStyle.Render(fmt.Sprintf("Sessions (%d)", len(m.HistorySessions)))

	var body string
	if m.HistoryErr != nil {
		body = lipgloss.NewStyle().Width(styles.ContentWidth).
			Render(styles.ErrorStyle.Render(fmt.Sprintf("Error: %v", m.HistoryErr)))
	} else if len(m.HistorySessions) == 0 {
		body = styles.ModalItemStyle.Render(
			lipgloss.NewStyle().Foreground(styles.HintColor).Render("No sessions yet"))
	} else {
		// Window the list around the selection.
		start := (m.HistorySelectedIdx / HistoryPageSize) * HistoryPageSize
		end := start + HistoryPageSize
		if end > len(m.HistorySessions) {
			end = len(m.HistorySessions)
		}

		items := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			sess := m.HistorySessions[i]
			isSelected := i == m.HistorySelectedIdx
			cursor := "  "
			if isSelected {
				cursor = "> "
			}
			timeStr := RelativeTime(sess.UpdatedAt)
			title := sess.Title
			if title == "" {
				title = "(untitled)"
			}
			availableWidth := styles.ContentWidth - 2 - len(cursor) - 1 - len(timeStr)
			title = TruncateRunes(title, availableWidth)

			itemContent := fmt.Sprintf("%s%s %s", cursor, title,
				lipgloss.NewStyle().Foreground(styles.HintColor).Render(timeStr))
			if isSelected {
				items = append(items, styles.ModalSelectedStyle.Render(itemContent))
			} else {
				items = append(items, styles.ModalItemStyle.Render(itemContent))
			}
		}
		body = lipgloss.JoinVertical(lipgloss.Left, items...)
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("↑/↓: navigate • Enter: open • d: delete • Esc: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderShortcutsModal() string {
	title := styles.ModalTitleStyle.Render("Keyboard Shortcuts")

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send Message"},
		{"Esc", "Stop Generation / Quit"},
		{"Ctrl+N", "New Session"},
		{"Ctrl+B", "Select Model"},
		{"Ctrl+H", "Session History"},
		{"Ctrl+R", "Regenerate Last Reply"},
		{"Ctrl+E", "Edit Last Message"},
		{"Ctrl+S", "View Shortcuts (this menu)"},
		{"@", "Attach File (in input)"},
		{"Ctrl+C", "Quit"},
	}

	var items []string
	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFCC80")).
		Bold(true).
		Width(12)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#E0E0E0"))

	for _, s := range shortcuts {
		line := fmt.Sprintf("%s %s", keyStyle.Render(s.key), descStyle.Render(s.desc))
		items = append(items, styles.ModalItemStyle.Render(line))
	}

	listContent := lipgloss.JoinVertical(lipgloss.Left, items...)
	content := lipgloss.JoinVertical(lipgloss.Left, title, listContent)

	hint := lipgloss.NewStyle().
		Foreground(styles.HintColor).
		Width(styles.ContentWidth).
		PaddingTop(1).
		Render("Esc/Enter: close")

	return lipgloss.JoinVertical(lipgloss.Left, content, hint)
}

func (m *Model) RenderBottomBar() string {
	// Tier badge
	tier := m.Tier
	if tier == "" {
		tier = "anonymous"
	}
	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#1a1a2e")).
		Background(styles.GetTierColor(tier)).
		Padding(0, 1).
		Render(strings.ToUpper(tier))

	// Model name
	modelName := TruncateRunes(m.CurrentModel.Name, 25)
	if m.EditingMessageID != "" {
		modelName += " (editing)"
	}
	model := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFD54F")).
		Render(modelName)

	// Pollen balance, live from the engine's cache so streaming spend shows
	balText := "✿ —"
	if bal, ok := m.Engine.CachedBalance(); ok {
		balText = "✿ " + pollen.Format(bal)
	}
	balance := styles.BalanceStyle.Render(balText)

	// Session spend
	spendText := ""
	if sess, ok := m.Store.ActiveSession(); ok && sess.TotalPollenSpent > 0 {
		spendText = "spent " + pollen.Format(sess.TotalPollenSpent)
	}
	spent := styles.SpentStyle.Render(spendText)

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#555555")).
		Render("Help: ^S")

	leftSide := lipgloss.JoinHorizontal(lipgloss.Center, badge, "  ", model)
	rightSide := lipgloss.JoinHorizontal(lipgloss.Center, spent, "  ", balance, "  ", help)

	availableWidth := m.WindowWidth - lipgloss.Width(leftSide) - lipgloss.Width(rightSide) - 2
	if availableWidth < 0 {
		availableWidth = 0
	}
	spacer := strings.Repeat(" ", availableWidth)

	bar := lipgloss.JoinHorizontal(lipgloss.Center, leftSide, spacer, rightSide)

	return lipgloss.NewStyle().
		Width(m.WindowWidth).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#333333")).
		Padding(0, 1).
		Render(bar)
}

func (m *Model) RenderPendingFiles() string {
	if len(m.PendingFiles) == 0 {
		return ""
	}

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888"))

	var chips []string
	for _, file := range m.PendingFiles {
		chips = append(chips, styles.AttachmentChipStyle.Render("📎 "+file))
	}

	return labelStyle.Render("Attached: ") + strings.Join(chips, " ")
}

func (m *Model) RenderFileSuggestions() string {
	if !m.FileSuggestOpen || len(m.FileSuggestions) == 0 {
		return ""
	}

	suggestionStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#E0E0E0")).
		Padding(0, 1)

	selectedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#7C4DFF")).
		Padding(0, 1)

	var lines []string
	header := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Italic(true).
		Render("  Files (↑↓ to select, Tab/Enter to insert)")
	lines = append(lines, header)

	for i, suggestion := range m.FileSuggestions {
		if i == m.FileSuggestIdx {
			lines = append(lines, selectedStyle.Render("▸ "+suggestion))
		} else {
			lines = append(lines, suggestionStyle.Render("  "+suggestion))
		}
	}

	popupStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7C4DFF")).
		Padding(0, 1)

	return popupStyle.Render(strings.Join(lines, "\n"))
}

func GetWelcomeScreen(width, height int) string {
	art := `
 ╭─────────────────────────────────────────────────╮
 │                                                 │
 │   ███╗   ██╗███████╗ ██████╗████████╗ █████╗    │
 │   ████╗  ██║██╔════╝██╔════╝╚══██╔══╝██╔══██╗   │
 │   ██╔██╗ ██║█████╗  ██║        ██║   ███████║   │
 │   ██║╚██╗██║██╔══╝  ██║        ██║   ██╔══██║   │
 │   ██║ ╚████║███████╗╚██████╗   ██║   ██║  ██║██ │
 │   ╚═╝  ╚═══╝╚══════╝ ╚═════╝   ╚═╝   ╚═╝  ╚═╝   │
 │                                                 │
 ╰─────────────────────────────────────────────────╯
`
	subtitle := "Chat, images, and video against the Pollinations API."

	styledArt := styles.WelcomeArtStyle.Render(art)
	styledSubtitle := styles.WelcomeSubtitleStyle.Render(subtitle)
	hint := lipgloss.NewStyle().Foreground(styles.HintColor).
		Render("Ctrl+B to pick a model • Ctrl+S for shortcuts")

	content := lipgloss.JoinVertical(lipgloss.Center, styledArt, "", styledSubtitle, hint)

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
}

func (m *Model) View() string {
	fileSuggestPopup := m.RenderFileSuggestions()
	pendingFilesDisplay := m.RenderPendingFiles()

	inputWidth := m.WindowWidth - 4
	inputBox := styles.InputBoxStyle.Width(inputWidth).Render(m.TextInput.View())

	var inputParts []string
	if m.Toast != "" {
		inputParts = append(inputParts, styles.ErrorStyle.Render(m.Toast))
	}
	if pendingFilesDisplay != "" {
		inputParts = append(inputParts, pendingFilesDisplay)
	}
	if fileSuggestPopup != "" {
		inputParts = append(inputParts, fileSuggestPopup)
	}
	inputParts = append(inputParts, inputBox)
	inputSection := lipgloss.JoinVertical(lipgloss.Left, inputParts...)

	chatContent := lipgloss.JoinVertical(lipgloss.Center,
		styles.TitleStyle.Render("NECTAR"),
		"",
		m.Viewport.View(),
		"",
		inputSection,
	)
	chatArea := lipgloss.PlaceHorizontal(m.WindowWidth, lipgloss.Center, chatContent)
	bottomBar := m.RenderBottomBar()

	content := lipgloss.JoinVertical(lipgloss.Left, chatArea, bottomBar)

	var modal string
	switch {
	case m.HistoryOpen:
		modal = m.RenderHistorySelector()
	case m.ModelSelectorOpen:
		modal = m.RenderModelSelector()
	case m.ShortcutsOpen:
		modal = m.RenderShortcutsModal()
	default:
		return content
	}

	modal = styles.ModalStyle.Width(ModalWidth).Render(modal)
	return lipgloss.Place(
		m.WindowWidth,
		m.WindowHeight,
		lipgloss.Center,
		lipgloss.Center,
		modal,
	)
}

func RelativeTime(t time.Time) string {
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	}
	if d < 24*time.Hour {
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1 hr ago"
		}
		return fmt.Sprintf("%d hrs ago", hrs)
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
	weeks := days / 7
	if weeks == 1 {
		return "1 week ago"
	}
	return fmt.Sprintf("%d weeks ago", weeks)
}
