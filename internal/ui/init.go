package ui

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"nectar/internal/api"
	"nectar/internal/chat"
	"nectar/internal/store"
)

// Deps carries the already-wired application services into the UI.
type Deps struct {
	Store  *store.Store
	Engine *chat.Engine
	Client *api.Client
	Log    *zap.Logger
}

func InitialModel(deps Deps) Model {
	ti := textarea.New()
	ti.Placeholder = "Type a message... (@file to attach)"
	ti.Prompt = "❯ "
	ti.ShowLineNumbers = false
	ti.CharLimit = 0
	ti.MaxHeight = 6
	ti.SetHeight(2)
	ti.SetWidth(80)
	ti.FocusedStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD54F")).Bold(true)
	ti.BlurredStyle.Prompt = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD54F")).Bold(true)
	ti.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(lipgloss.Color("#545454"))
	ti.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ti.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD54F"))

	vp := viewport.New(60, 15)
	mvp := viewport.New(ModalWidth-4, 15)

	cwd, _ := os.Getwd()

	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	m := Model{
		TextInput:     ti,
		Viewport:      vp,
		ModelViewport: mvp,
		Spinner:       sp,
		Store:         deps.Store,
		Engine:        deps.Engine,
		Client:        deps.Client,
		Log:           log,
		Models:        FallbackModels,
		WorkingDir:    cwd,
	}
	m.CurrentModel = m.Models[0]
	if id := deps.Store.Settings().ModelID; id != "" {
		if mdl, idx, ok := m.FindModelByID(id); ok {
			m.CurrentModel = mdl
			m.SelectedModelIndex = idx
		}
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.TextInput.Cursor.BlinkCmd(),
		m.Spinner.Tick,
		m.fetchModelsCmd(),
		m.fetchBalanceCmd(),
		m.fetchProfileCmd(),
	)
}

func (m *Model) fetchModelsCmd() tea.Cmd {
	client := m.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		list, err := client.ListModels(ctx)
		return ModelsMsg{Models: list, Err: err}
	}
}

func (m *Model) fetchBalanceCmd() tea.Cmd {
	engine := m.Engine
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		v, err := engine.RefreshBalance(ctx)
		return BalanceMsg{Balance: v, Err: err}
	}
}

func (m *Model) fetchProfileCmd() tea.Cmd {
	client := m.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		p, err := client.Profile(ctx)
		return ProfileMsg{Profile: p, Err: err}
	}
}

// NewProgram builds the program and bridges store mutations into it, so
// streaming updates from generation goroutines repaint the UI.
func NewProgram(deps Deps) *tea.Program {
	m := InitialModel(deps)
	p := tea.NewProgram(&m, tea.WithAltScreen())
	m.Program = p
	deps.Store.Subscribe(func(c store.Change) {
		p.Send(StoreChangedMsg{Change: c})
	})
	return p
}
