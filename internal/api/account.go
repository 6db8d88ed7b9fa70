package api

import (
	"context"

	"nectar/internal/models"
)

// Profile is the account record behind the bearer credential.
type Profile struct {
	Username string `json:"username"`
	Tier     string `json:"tier"`
}

// UsageEntry is one row of the account's spend history.
type UsageEntry struct {
	Date   string  `json:"date"`
	Pollen float64 `json:"pollen"`
	Model  string  `json:"model,omitempty"`
}

// Balance fetches the current pollen balance.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.getJSON(ctx, c.apiBase+"/account/balance", &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Profile fetches the profile and tier for the configured credential.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := c.getJSON(ctx, c.apiBase+"/account/profile", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateKey checks the configured credential against the account service.
// An auth failure reports false with no error; anything else is an error.
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	_, err := c.Profile(ctx)
	if err == nil {
		return true, nil
	}
	if apiErr, ok := err.(*Error); ok && apiErr.Kind == KindAuth {
		return false, nil
	}
	return false, err
}

// UsageHistory fetches recent spend entries.
func (c *Client) UsageHistory(ctx context.Context) ([]UsageEntry, error) {
	var out struct {
		Usage []UsageEntry `json:"usage"`
	}
	if err := c.getJSON(ctx, c.apiBase+"/account/usage", &out); err != nil {
		return nil, err
	}
	return out.Usage, nil
}

// wireModel is the catalog entry shape served by the text endpoint.
type wireModel struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Type             string   `json:"type"`
	Tier             string   `json:"tier"`
	InputModalities  []string `json:"input_modalities"`
	OutputModalities []string `json:"output_modalities"`
	MaxInputTokens   int      `json:"max_input_tokens"`
	MaxOutputTokens  int      `json:"max_output_tokens"`
	Pricing          *struct {
		PromptText       float64 `json:"prompt_text"`
		PromptAudio      float64 `json:"prompt_audio"`
		CompletionText   float64 `json:"completion_text"`
		CompletionImage  float64 `json:"completion_image"`
		CompletionVideoS float64 `json:"completion_video_seconds"`
		CompletionVideo  float64 `json:"completion_video"`
		CompletionAudio  float64 `json:"completion_audio"`
		CompletionAudioS float64 `json:"completion_audio_seconds"`
	} `json:"pricing"`
}

// ListModels fetches the model catalog. Capabilities are filled from the
// name-based heuristic when the catalog entry carries no explicit metadata.
func (c *Client) ListModels(ctx context.Context) ([]models.ModelInfo, error) {
	var wire []wireModel
	if err := c.getJSON(ctx, c.textBase+"/models", &wire); err != nil {
		return nil, err
	}

	out := make([]models.ModelInfo, 0, len(wire))
	for _, wm := range wire {
		mi := models.ModelInfo{
			ID:               wm.Name,
			Name:             wm.Name,
			Description:      wm.Description,
			Type:             modelType(wm.Type),
			Tier:             wm.Tier,
			InputModalities:  toModes(wm.InputModalities),
			OutputModalities: toModes(wm.OutputModalities),
			MaxInputTokens:   wm.MaxInputTokens,
			MaxOutputTokens:  wm.MaxOutputTokens,
		}
		if wm.Pricing != nil {
			mi.Pricing = &models.Pricing{
				PromptTextTokens:       wm.Pricing.PromptText,
				PromptAudioTokens:      wm.Pricing.PromptAudio,
				CompletionTextTokens:   wm.Pricing.CompletionText,
				CompletionImageUnits:   wm.Pricing.CompletionImage,
				CompletionVideoSeconds: wm.Pricing.CompletionVideoS,
				CompletionVideoTokens:  wm.Pricing.CompletionVideo,
				CompletionAudioTokens:  wm.Pricing.CompletionAudio,
				CompletionAudioSeconds: wm.Pricing.CompletionAudioS,
			}
		}
		mi.Capabilities = models.InferCapabilities(mi)
		out = append(out, mi)
	}
	return out, nil
}

func modelType(t string) models.Mode {
	switch t {
	case "image":
		return models.ModeImage
	case "video":
		return models.ModeVideo
	case "audio":
		return models.ModeAudio
	default:
		return models.ModeText
	}
}

func toModes(raw []string) []models.Mode {
	if len(raw) == 0 {
		return nil
	}
	out := make([]models.Mode, 0, len(raw))
	for _, r := range raw {
		out = append(out, models.Mode(r))
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(out).
		Get(url)
	if err != nil {
		if ctx.Err() != nil {
			return cancelledError()
		}
		return networkError(err)
	}
	if resp.IsError() {
		return errorFromBody(resp.StatusCode(), resp.Body())
	}
	return nil
}
