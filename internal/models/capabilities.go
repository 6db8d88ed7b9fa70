package models

import "strings"

// InferCapabilities guesses capabilities from substrings of a model's id and
// name. This is a best-effort fallback for catalog entries that carry no
// explicit capability metadata; it is not authoritative and is only used for
// UI gating.
func InferCapabilities(m ModelInfo) Capabilities {
	caps := m.Capabilities
	name := strings.ToLower(m.ID + " " + m.Name + " " + m.Description)

	if !caps.Vision {
		for _, mode := range m.InputModalities {
			if mode == ModeImage {
				caps.Vision = true
			}
		}
		if strings.Contains(name, "vision") {
			caps.Vision = true
		}
	}
	if !caps.Audio {
		for _, mode := range m.InputModalities {
			if mode == ModeAudio {
				caps.Audio = true
			}
		}
		if strings.Contains(name, "audio") || strings.Contains(name, "voice") || strings.Contains(name, "speech") {
			caps.Audio = true
		}
	}
	if !caps.Streaming {
		// Text models stream; media models return one-shot payloads.
		caps.Streaming = m.Type == ModeText || m.Type == ""
	}
	if !caps.WebSearch {
		caps.WebSearch = strings.Contains(name, "search") || strings.Contains(name, "online")
	}
	if !caps.DeepThink {
		caps.DeepThink = strings.Contains(name, "think") || strings.Contains(name, "reason") || strings.Contains(name, "-r1")
	}
	if !caps.CodeExecution {
		caps.CodeExecution = strings.Contains(name, "code")
	}
	return caps
}
