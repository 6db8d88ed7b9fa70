package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"nectar/internal/api"
	"nectar/internal/chat"
	"nectar/internal/models"
	"nectar/internal/store"
)

const (
	MaxChatWidth = 100

	HistoryPageSize = 10
)

// ModalWidth adapts to the window; see the WindowSizeMsg handler.
var ModalWidth = 60

// FallbackModels keeps the client usable when the catalog endpoint is down.
// Pricing is omitted on purpose: without it the cost estimator charges the
// flat per-prompt floor. Kept ordered by tier; the selector groups by it.
var FallbackModels = []models.ModelInfo{
	{ID: "openai-fast", Name: "OpenAI GPT-5 Nano", Type: models.ModeText, Tier: "anonymous", Description: "Fast lightweight chat model"},
	{ID: "turbo", Name: "Turbo", Type: models.ModeImage, Tier: "anonymous", Description: "Fast image generation"},
	{ID: "openai", Name: "OpenAI GPT-5 Mini", Type: models.ModeText, Tier: "seed", Description: "General purpose chat model"},
	{ID: "mistral", Name: "Mistral Small", Type: models.ModeText, Tier: "seed", Description: "Open-weights chat model"},
	{ID: "deepseek-reasoning", Name: "DeepSeek R1", Type: models.ModeText, Tier: "seed", Description: "Reasoning model"},
	{ID: "qwen-coder", Name: "Qwen Coder", Type: models.ModeText, Tier: "seed", Description: "Code-focused model"},
	{ID: "flux", Name: "Flux", Type: models.ModeImage, Tier: "seed", Description: "Image generation"},
}

type ErrMsg error

type (
	// StoreChangedMsg arrives whenever the session store mutates, including
	// from generation goroutines. All rendering re-reads the store.
	StoreChangedMsg struct{ Change store.Change }

	BalanceMsg struct {
		Balance float64
		Err     error
	}

	ModelsMsg struct {
		Models []models.ModelInfo
		Err    error
	}

	ProfileMsg struct {
		Profile *api.Profile
		Err     error
	}

	clearToastMsg struct{}
)

type Model struct {
	Viewport      viewport.Model
	ModelViewport viewport.Model
	TextInput     textarea.Model
	Spinner       spinner.Model

	Store  *store.Store
	Engine *chat.Engine
	Client *api.Client
	Log    *zap.Logger

	Renderer *glamour.TermRenderer

	Models             []models.ModelInfo
	CurrentModel       models.ModelInfo
	SelectedModelIndex int

	Balance      float64
	BalanceKnown bool
	Tier         string

	WindowWidth  int
	WindowHeight int

	HistoryOpen        bool
	HistorySelectedIdx int
	HistorySessions    []models.Session
	HistoryErr         error

	ModelSelectorOpen bool
	ShortcutsOpen     bool

	// EditingMessageID is set while the input holds a prior user message being
	// edited; enter then routes through edit-and-resend.
	EditingMessageID string

	Toast string

	FileSuggestOpen   bool
	FileSuggestions   []string
	FileSuggestIdx    int
	FileSuggestPrefix string
	PendingFiles      []string

	Program    *tea.Program
	WorkingDir string
}
