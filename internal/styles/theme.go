package styles

import "github.com/charmbracelet/lipgloss"

// Theme defines a complete color scheme for the application
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Accent    lipgloss.Color

	BgBase     lipgloss.Color
	BgSurface  lipgloss.Color
	BgElevated lipgloss.Color

	TextPrimary   lipgloss.Color
	TextSecondary lipgloss.Color
	TextMuted     lipgloss.Color

	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Info    lipgloss.Color

	Border  lipgloss.Color
	Divider lipgloss.Color
}

// DarkTheme is the dark mode color scheme
var DarkTheme = Theme{
	Primary:   lipgloss.Color("#FFD54F"), // Amber 300
	Secondary: lipgloss.Color("#90CAF9"), // Blue 200
	Accent:    lipgloss.Color("#F472B6"), // Pink 400

	BgBase:     lipgloss.Color("#0B0B0F"),
	BgSurface:  lipgloss.Color("#141419"),
	BgElevated: lipgloss.Color("#1E1E2A"),

	TextPrimary:   lipgloss.Color("#F1F5F9"),
	TextSecondary: lipgloss.Color("#94A3B8"),
	TextMuted:     lipgloss.Color("#64748B"),

	Success: lipgloss.Color("#34D399"),
	Warning: lipgloss.Color("#FBBF24"),
	Error:   lipgloss.Color("#FB7185"),
	Info:    lipgloss.Color("#60A5FA"),

	Border:  lipgloss.Color("#27272A"),
	Divider: lipgloss.Color("#1F2937"),
}

// LightTheme is the light mode color scheme
var LightTheme = Theme{
	Primary:   lipgloss.Color("#F59E0B"), // Amber 500
	Secondary: lipgloss.Color("#2563EB"), // Blue 600
	Accent:    lipgloss.Color("#DB2777"), // Pink 600

	BgBase:     lipgloss.Color("#FAFAFA"),
	BgSurface:  lipgloss.Color("#FFFFFF"),
	BgElevated: lipgloss.Color("#F4F4F5"),

	TextPrimary:   lipgloss.Color("#18181B"),
	TextSecondary: lipgloss.Color("#52525B"),
	TextMuted:     lipgloss.Color("#A1A1AA"),

	Success: lipgloss.Color("#10B981"),
	Warning: lipgloss.Color("#F59E0B"),
	Error:   lipgloss.Color("#EF4444"),
	Info:    lipgloss.Color("#3B82F6"),

	Border:  lipgloss.Color("#E4E4E7"),
	Divider: lipgloss.Color("#F4F4F5"),
}

// CurrentTheme holds the active theme (set at runtime based on terminal)
var CurrentTheme = DarkTheme

// Adaptive returns an AdaptiveColor that switches between light/dark
type Adaptive = lipgloss.AdaptiveColor

// Common adaptive colors for quick use
var (
	FgPrimary   = Adaptive{Light: string(LightTheme.Primary), Dark: string(DarkTheme.Primary)}
	FgSecondary = Adaptive{Light: string(LightTheme.Secondary), Dark: string(DarkTheme.Secondary)}
	FgMuted     = Adaptive{Light: string(LightTheme.TextMuted), Dark: string(DarkTheme.TextMuted)}
	FgError     = Adaptive{Light: string(LightTheme.Error), Dark: string(DarkTheme.Error)}
	FgSuccess   = Adaptive{Light: string(LightTheme.Success), Dark: string(DarkTheme.Success)}
	FgWarning   = Adaptive{Light: string(LightTheme.Warning), Dark: string(DarkTheme.Warning)}
	Accent      = Adaptive{Light: string(LightTheme.Accent), Dark: string(DarkTheme.Accent)}

	BgSurface   = Adaptive{Light: string(LightTheme.BgSurface), Dark: string(DarkTheme.BgSurface)}
	BgElevated  = Adaptive{Light: string(LightTheme.BgElevated), Dark: string(DarkTheme.BgElevated)}
	BorderColor = Adaptive{Light: string(LightTheme.Border), Dark: string(DarkTheme.Border)}
)

// GetTierColor returns the accent color for an account tier.
func GetTierColor(tier string) lipgloss.Color {
	if c, ok := TierColors[tier]; ok {
		return lipgloss.Color(c)
	}
	return CurrentTheme.Primary
}

// InitTheme sets the current theme based on terminal background
func InitTheme() {
	if lipgloss.HasDarkBackground() {
		CurrentTheme = DarkTheme
	} else {
		CurrentTheme = LightTheme
	}
}
