package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/mattn/go-runewidth"

	"nectar/internal/models"
	"nectar/internal/pollen"
	"nectar/internal/styles"
)

// FormatMessage renders one session message for the transcript viewport.
func (m *Model) FormatMessage(msg models.Message, isFirst bool) string {
	switch msg.Role {
	case models.RoleUser:
		content := msg.Content
		if len(msg.Attachments) > 0 {
			names := make([]string, len(msg.Attachments))
			for i, att := range msg.Attachments {
				names[i] = att.Name
			}
			content = fmt.Sprintf("%s\n📎 %s", content, strings.Join(names, ", "))
		}
		label := styles.UserLabelStyle.Render("YOU")
		body := styles.UserMsgStyle.Width(m.Viewport.Width - 4).Render(content)
		if isFirst {
			return fmt.Sprintf("\n%s\n%s", label, body)
		}
		return fmt.Sprintf("%s\n%s", label, body)

	case models.RoleAssistant:
		label := styles.AssistantLabelStyle.Render("NECTAR")
		if msg.Model != "" {
			label += styles.PartialStyle.Render(msg.Model)
		}

		if msg.IsError {
			return fmt.Sprintf("%s\n%s", label, styles.ErrorStyle.Render(msg.Content))
		}

		if msg.IsPartial && msg.Content == "" {
			return fmt.Sprintf("%s\n%s Generating...", label, m.Spinner.View())
		}

		content := msg.Content
		if m.Renderer != nil {
			if rendered, err := m.Renderer.Render(msg.Content); err == nil {
				content = strings.TrimSpace(rendered)
			}
		}
		if msg.IsPartial {
			content += " " + m.Spinner.View()
		}

		body := styles.AssistantMsgStyle.Render(content)
		out := fmt.Sprintf("%s\n%s", label, body)

		for _, att := range msg.Attachments {
			chip := styles.AttachmentChipStyle.Render(
				fmt.Sprintf("🖼 %s (%s)", att.Name, FormatBytes(att.SizeBytes)))
			out += "\n" + chip
		}
		if !msg.IsPartial && msg.PollenSpent > 0 {
			out += "\n" + styles.SpentStyle.Render("✿ "+pollen.Format(msg.PollenSpent))
		}
		return out

	default:
		return styles.PartialStyle.Render(msg.Content)
	}
}

func FormatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

var tierRank = map[string]int{"anonymous": 0, "": 0, "seed": 1, "flower": 2, "nectar": 3}

// sortModelsByTier orders the catalog so the selector's tier headers appear
// once each, cheapest tier first.
func sortModelsByTier(list []models.ModelInfo) []models.ModelInfo {
	out := make([]models.ModelInfo, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := tierRank[out[i].Tier], tierRank[out[j].Tier]
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (m *Model) FindModelByID(id string) (models.ModelInfo, int, bool) {
	for i, mdl := range m.Models {
		if mdl.ID == id {
			return mdl, i, true
		}
	}
	return models.ModelInfo{}, 0, false
}

func (m *Model) SyncModelViewportScroll() {
	const itemHeight = 1
	const headerHeight = 1

	var currentY int
	var lastTier string
	for i, mdl := range m.Models {
		tier := mdl.Tier
		if tier == "" {
			tier = "anonymous"
		}
		itemStartY := currentY

		if tier != lastTier {
			if lastTier != "" {
				currentY++ // spacer
			}
			itemStartY = currentY
			currentY += headerHeight
			lastTier = tier
		} else {
			itemStartY = currentY
		}

		if i == m.SelectedModelIndex {
			if currentY+itemHeight > m.ModelViewport.YOffset+m.ModelViewport.Height {
				m.ModelViewport.SetYOffset(currentY + itemHeight - m.ModelViewport.Height)
			}
			if itemStartY < m.ModelViewport.YOffset {
				m.ModelViewport.SetYOffset(itemStartY)
			}
			break
		}
		currentY += itemHeight
	}
}

// GetFileSuggestions returns files/dirs matching a prefix, supporting
// subdirectory paths and recursive search.
func GetFileSuggestions(prefix string) []string {
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}

	if strings.Contains(prefix, "/") {
		return getDirectorySuggestions(cwd, prefix)
	}
	return getRecursiveSuggestions(cwd, prefix)
}

func getDirectorySuggestions(cwd, prefix string) []string {
	dir := ""
	filePrefix := prefix

	if idx := strings.LastIndex(prefix, "/"); idx != -1 {
		dir = prefix[:idx+1]
		filePrefix = prefix[idx+1:]
	}

	searchDir := cwd
	if dir != "" {
		searchDir = filepath.Join(cwd, dir)
	}

	entries, err := os.ReadDir(searchDir)
	if err != nil {
		return nil
	}

	var suggestions []string
	lowerFilePrefix := strings.ToLower(filePrefix)

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(filePrefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), lowerFilePrefix) {
			suggestions = append(suggestions, dir+name)
		}
	}

	return sortAndLimitSuggestions(cwd, suggestions)
}

func getRecursiveSuggestions(cwd, prefix string) []string {
	var suggestions []string
	lowerPrefix := strings.ToLower(prefix)

	filepath.Walk(cwd, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}

		name := info.Name()
		if info.IsDir() {
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" || name == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}

		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			return nil
		}

		if strings.Contains(strings.ToLower(name), lowerPrefix) {
			relPath, _ := filepath.Rel(cwd, path)
			suggestions = append(suggestions, relPath)
		}

		if len(suggestions) >= 20 {
			return filepath.SkipAll
		}

		return nil
	})

	return sortAndLimitSuggestions(cwd, suggestions)
}

func sortAndLimitSuggestions(cwd string, suggestions []string) []string {
	sort.Slice(suggestions, func(i, j int) bool {
		iInfo, _ := os.Stat(filepath.Join(cwd, suggestions[i]))
		jInfo, _ := os.Stat(filepath.Join(cwd, suggestions[j]))
		iDir := iInfo != nil && iInfo.IsDir()
		jDir := jInfo != nil && jInfo.IsDir()
		if iDir != jDir {
			return iDir
		}
		iDepth := strings.Count(suggestions[i], "/")
		jDepth := strings.Count(suggestions[j], "/")
		if iDepth != jDepth {
			return iDepth < jDepth
		}
		return strings.ToLower(suggestions[i]) < strings.ToLower(suggestions[j])
	})

	if len(suggestions) > 10 {
		suggestions = suggestions[:10]
	}

	return suggestions
}

// GetAtPosition finds the @ mention being typed at cursor position
func GetAtPosition(input string, cursorPos int) (prefix string, startPos int, found bool) {
	if cursorPos > len(input) {
		cursorPos = len(input)
	}

	for i := cursorPos - 1; i >= 0; i-- {
		ch := input[i]
		if ch == '@' {
			prefix = input[i+1 : cursorPos]
			return prefix, i, true
		}
		if ch == ' ' || ch == '\n' || ch == '\t' {
			return "", 0, false
		}
	}
	return "", 0, false
}

func TextareaCursorIndex(t textarea.Model) int {
	value := t.Value()
	row := t.Line()
	li := t.LineInfo()
	col := li.StartColumn + li.ColumnOffset
	return cursorIndexFromRowCol(value, row, col)
}

func TextareaCursorFromIndex(value string, index int) (row int, col int) {
	if index < 0 {
		index = 0
	}
	if index > len(value) {
		index = len(value)
	}

	lines := strings.Split(value, "\n")
	pos := 0
	for i, line := range lines {
		lineLen := len(line)
		if index <= pos+lineLen {
			row = i
			col = runeIndexForByteIndex(line, index-pos)
			return row, col
		}
		pos += lineLen + 1
	}

	if len(lines) == 0 {
		return 0, 0
	}
	row = len(lines) - 1
	col = utf8.RuneCountInString(lines[row])
	return row, col
}

func SetTextareaCursor(t *textarea.Model, row int, col int) {
	lineCount := t.LineCount()
	if lineCount == 0 {
		t.SetCursor(0)
		return
	}
	if row < 0 {
		row = 0
	}
	if row >= lineCount {
		row = lineCount - 1
	}

	for i := 0; i < 10000 && t.Line() > 0; i++ {
		t.CursorUp()
	}
	for i := 0; i < 10000 && t.Line() < row; i++ {
		t.CursorDown()
	}
	for i := 0; i < 10000 && t.Line() > row; i++ {
		t.CursorUp()
	}

	t.SetCursor(col)
}

func cursorIndexFromRowCol(value string, row int, col int) int {
	lines := strings.Split(value, "\n")
	if len(lines) == 0 {
		return 0
	}
	if row < 0 {
		row = 0
	}
	if row >= len(lines) {
		row = len(lines) - 1
	}

	index := 0
	for i := 0; i < row; i++ {
		index += len(lines[i]) + 1
	}
	index += byteIndexForRuneColumn(lines[row], col)
	return index
}

func byteIndexForRuneColumn(s string, col int) int {
	if col <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count >= col {
			return i
		}
		count++
	}
	return len(s)
}

func runeIndexForByteIndex(s string, idx int) int {
	if idx <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if i >= idx {
			return count
		}
		count++
	}
	return count
}

func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	lines := strings.Split(value, "\n")
	if len(lines) == 0 {
		return 1
	}
	count := 0
	for _, line := range lines {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
