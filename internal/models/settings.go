package models

// Settings is the user-tunable record persisted alongside sessions.
type Settings struct {
	SystemPrompt    string `json:"systemPrompt,omitempty"`
	ModelID         string `json:"modelId,omitempty"`
	BalanceTracking bool   `json:"balanceTracking"`
}

// DefaultSettings keeps balance tracking on until the user turns it off.
func DefaultSettings() Settings {
	return Settings{BalanceTracking: true}
}
