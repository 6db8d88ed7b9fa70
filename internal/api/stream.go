package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3/packages/ssestream"
	"go.uber.org/zap"
)

// ChatRequest is one streamed chat completion call.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
}

// streamFrame is one decoded SSE data frame. Only the fields the client
// consumes are declared; everything else in the frame is ignored.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage    *Usage `json:"usage"`
	UserTier string `json:"user_tier"`
}

type chatWireRequest struct {
	Model         string        `json:"model"`
	Messages      []ChatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	StreamOptions struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options"`
}

// StreamChat issues a streaming chat completion and feeds the callbacks:
// onChunk once per non-empty text delta, in arrival order, and onDone exactly
// once with the last usage object and tier label observed — also when the
// connection ends without an explicit [DONE] marker. Malformed frames are
// skipped, never fatal. When ctx is cancelled mid-stream the call returns a
// cancelled error promptly and onDone is not invoked; classifying that
// outcome is the caller's job.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onChunk func(string), onDone func(*Usage, string)) error {
	wire := chatWireRequest{Model: req.Model, Messages: req.Messages, Stream: true}
	wire.StreamOptions.IncludeUsage = true
	body, err := json.Marshal(wire)
	if err != nil {
		return protocolError("encoding request: " + err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.textBase+"/openai", bytes.NewReader(body))
	if err != nil {
		return protocolError(err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return cancelledError()
		}
		return networkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return errorFromBody(resp.StatusCode, raw)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/event-stream") {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if msg, code, ok := parseErrorBody(raw); ok {
			return classify(resp.StatusCode, msg, code)
		}
		return protocolError("expected an event stream, got " + ct)
	}

	decoder := ssestream.NewDecoder(resp)
	defer decoder.Close()

	var lastUsage *Usage
	lastTier := ""
	explicitDone := false

	for decoder.Next() {
		data := decoder.Event().Data
		if strings.TrimSpace(string(data)) == "[DONE]" {
			explicitDone = true
			break
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// One bad frame must not kill the stream.
			c.log.Debug("skipping malformed stream frame", zap.Error(err))
			continue
		}
		if frame.Usage != nil {
			lastUsage = frame.Usage
		}
		if frame.UserTier != "" {
			lastTier = frame.UserTier
		}
		if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
			onChunk(frame.Choices[0].Delta.Content)
		}
	}

	if ctx.Err() != nil {
		return cancelledError()
	}
	if err := decoder.Err(); err != nil && !explicitDone {
		c.log.Debug("stream ended without [DONE]", zap.Error(err))
	}

	// A connection close without [DONE] is an implicit end, not an error.
	onDone(lastUsage, lastTier)
	return nil
}
