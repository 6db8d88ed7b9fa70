package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
)

// MediaOptions are free-form key/value parameters forwarded on the request
// URL (width, height, duration, ...).
type MediaOptions map[string]string

// jsonSniffLimit bounds the anomalous-error sniff: payloads at or above this
// size are trusted to be real media. Best-effort only; the upstream API
// sometimes returns JSON errors with a 200 status and a media content type.
const jsonSniffLimit = 10 << 10

// GenerateImage runs a one-shot image generation and returns the binary
// payload with its declared MIME type.
func (c *Client) GenerateImage(ctx context.Context, prompt, model string, opts MediaOptions) ([]byte, string, error) {
	return c.generateMedia(ctx, c.imageBase, prompt, model, opts)
}

// GenerateVideo runs a one-shot video generation. Same wire shape as images;
// only the model routes the request differently upstream.
func (c *Client) GenerateVideo(ctx context.Context, prompt, model string, opts MediaOptions) ([]byte, string, error) {
	return c.generateMedia(ctx, c.imageBase, prompt, model, opts)
}

func (c *Client) generateMedia(ctx context.Context, base, prompt, model string, opts MediaOptions) ([]byte, string, error) {
	seed := rand.Int31()

	req := c.rc.R().
		SetContext(ctx).
		SetQueryParam("model", model).
		SetQueryParam("seed", fmt.Sprint(seed))
	for k, v := range opts {
		req.SetQueryParam(k, v)
	}

	resp, err := req.Get(base + "/prompt/" + url.PathEscape(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", cancelledError()
		}
		return nil, "", networkError(err)
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")

	if resp.IsError() {
		return nil, "", errorFromBody(resp.StatusCode(), body)
	}

	// Success status but a JSON content type means the service reported an
	// error anyway.
	if strings.Contains(contentType, "application/json") || strings.Contains(contentType, "text/json") {
		if msg, code, ok := parseErrorBody(body); ok {
			return nil, "", classify(resp.StatusCode(), msg, code)
		}
		return nil, "", protocolError("expected binary media, got JSON")
	}

	// Small payloads with a media content type can still be disguised JSON
	// errors. Sniff, but only below the size cutoff.
	if len(body) < jsonSniffLimit && looksLikeJSONError(body) {
		if msg, code, ok := parseErrorBody(body); ok {
			return nil, "", classify(resp.StatusCode(), msg, code)
		}
		return nil, "", protocolError("service returned a JSON error in place of media")
	}

	return body, contentType, nil
}

func looksLikeJSONError(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return false
	}
	_, hasErr := probe["error"]
	_, hasMsg := probe["message"]
	return hasErr || hasMsg
}
