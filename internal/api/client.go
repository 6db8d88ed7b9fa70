// Package api is the protocol client for the Pollinations generation and
// account services: streamed chat completions, one-shot image/video
// generation, and the small set of account reads (balance, models, profile).
package api

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Options configures a Client. Zero-valued URLs fall back to the public
// service endpoints.
type Options struct {
	APIKey       string
	TextBaseURL  string
	ImageBaseURL string
	APIBaseURL   string
	Logger       *zap.Logger
}

const (
	defaultTextBase  = "https://text.pollinations.ai"
	defaultImageBase = "https://image.pollinations.ai"
	defaultAPIBase   = "https://api.pollinations.ai"

	mediaTimeout = 5 * time.Minute
)

type Client struct {
	apiKey    string
	textBase  string
	imageBase string
	apiBase   string

	// httpc drives the streaming path; rc everything request/response shaped.
	httpc *http.Client
	rc    *resty.Client
	log   *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.TextBaseURL == "" {
		opts.TextBaseURL = defaultTextBase
	}
	if opts.ImageBaseURL == "" {
		opts.ImageBaseURL = defaultImageBase
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = defaultAPIBase
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	rc := resty.New().
		SetTimeout(mediaTimeout).
		SetHeader("Accept", "*/*")
	if opts.APIKey != "" {
		rc.SetAuthToken(opts.APIKey)
	}

	return &Client{
		apiKey:    opts.APIKey,
		textBase:  opts.TextBaseURL,
		imageBase: opts.ImageBaseURL,
		apiBase:   opts.APIBaseURL,
		httpc:     &http.Client{}, // no timeout: streams are bounded by ctx
		rc:        rc,
		log:       log,
	}
}

// ChatMessage is the reduced {role, content} shape sent on the wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage mirrors the accounting object attached to stream frames.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
