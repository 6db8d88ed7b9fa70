package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseHandler(t *testing.T, lines []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openai", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		}
	}
}

func streamClient(srv *httptest.Server) *Client {
	return NewClient(Options{APIKey: "k", TextBaseURL: srv.URL})
}

func TestStreamChatDeliversChunksInOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[{"delta":{}}],"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9},"user_tier":"seed"}`,
		`[DONE]`,
	}))
	defer srv.Close()

	var chunks []string
	var gotUsage *Usage
	var gotTier string
	doneCalls := 0

	err := streamClient(srv).StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(delta string) { chunks = append(chunks, delta) },
		func(u *Usage, tier string) { doneCalls++; gotUsage = u; gotTier = tier },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, 1, doneCalls)
	require.NotNil(t, gotUsage)
	assert.Equal(t, 2, gotUsage.CompletionTokens)
	assert.Equal(t, "seed", gotTier)
}

func TestStreamChatSkipsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"ok "}}]}`,
		`{not json at all`,
		`{"choices":[{"delta":{"content":"still ok"}}]}`,
		`[DONE]`,
	}))
	defer srv.Close()

	var got string
	doneCalls := 0
	err := streamClient(srv).StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(delta string) { got += delta },
		func(*Usage, string) { doneCalls++ },
	)
	require.NoError(t, err)
	assert.Equal(t, "ok still ok", got)
	assert.Equal(t, 1, doneCalls)
}

func TestStreamChatImplicitDone(t *testing.T) {
	t.Parallel()

	// Connection closes with no [DONE] marker: onDone still fires once.
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"choices":[{"delta":{"content":"partial"}}]}`,
	}))
	defer srv.Close()

	doneCalls := 0
	var got string
	err := streamClient(srv).StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(delta string) { got += delta },
		func(*Usage, string) { doneCalls++ },
	)
	require.NoError(t, err)
	assert.Equal(t, "partial", got)
	assert.Equal(t, 1, doneCalls)
}

func TestStreamChatCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one\"}}]}\n\n")
		flusher.Flush()
		// Hold the connection open until the client goes away.
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCalls := 0
	var got string
	errCh := make(chan error, 1)
	go func() {
		// Cancelling from inside the callback guarantees the chunk was
		// delivered before the signal fires.
		errCh <- streamClient(srv).StreamChat(ctx, ChatRequest{Model: "openai"},
			func(delta string) {
				got += delta
				cancel()
			},
			func(*Usage, string) { doneCalls++ },
		)
	}()

	select {
	case err := <-errCh:
		assert.True(t, IsCancelled(err), "expected a cancelled error, got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate promptly after cancellation")
	}
	assert.Equal(t, "one", got)
	assert.Equal(t, 0, doneCalls, "onDone must not fire on cancellation")
}

func TestStreamChatHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"insufficient pollen","code":"quota"}}`)
	}))
	defer srv.Close()

	err := streamClient(srv).StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(string) { t.Fatal("no chunks expected") },
		func(*Usage, string) { t.Fatal("no completion expected") },
	)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindQuota, apiErr.Kind)
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
	assert.Equal(t, "insufficient pollen", apiErr.Message)
}

func TestStreamChatNonStreamContentType(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html>oops</html>")
	}))
	defer srv.Close()

	err := streamClient(srv).StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(string) {}, func(*Usage, string) { t.Fatal("no completion expected") })
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindProtocol, apiErr.Kind)
}

func TestStreamChatNetworkFailure(t *testing.T) {
	t.Parallel()

	c := NewClient(Options{TextBaseURL: "http://127.0.0.1:1"})
	err := c.StreamChat(context.Background(), ChatRequest{Model: "openai"},
		func(string) {}, func(*Usage, string) { t.Fatal("no completion expected") })
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, KindNetwork, apiErr.Kind)
	assert.Equal(t, 0, apiErr.Status)
}
