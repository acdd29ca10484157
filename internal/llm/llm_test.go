// ABOUTME: Tests for the language-model proxy
// ABOUTME: Uses a hand-written chat client and an httptest server standing in for the API

package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	resp  openai.ChatCompletionResponse
	err   error
	calls []openai.ChatCompletionRequest
	delay time.Duration
}

func (m *mockClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.calls = append(m.calls, req)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return openai.ChatCompletionResponse{}, ctx.Err()
		}
	}
	return m.resp, m.err
}

func reply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}},
		},
	}
}

func TestQuery_ReturnsTrimmedReply(t *testing.T) {
	client := &mockClient{resp: reply("  hi there \n")}
	p := NewProxy(client, Config{Model: "llama-3.1-8b-instant", SystemPrompt: "be brief"}, nil)

	got, err := p.Query(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", got)

	require.Len(t, client.calls, 1)
	req := client.calls[0]
	assert.Equal(t, "llama-3.1-8b-instant", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
	assert.Equal(t, "hello", req.Messages[1].Content)
}

func TestQuery_NoSystemPrompt(t *testing.T) {
	client := &mockClient{resp: reply("ok")}
	p := NewProxy(client, Config{}, nil)

	_, err := p.Query(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, client.calls[0].Messages, 1)
}

func TestQuery_EmptyMessage(t *testing.T) {
	client := &mockClient{resp: reply("ok")}
	p := NewProxy(client, Config{}, nil)

	_, err := p.Query(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, client.calls, "blank query must not reach upstream")
}

func TestQuery_UpstreamFailures(t *testing.T) {
	cases := map[string]*mockClient{
		"transport error": {err: errors.New("connection reset")},
		"no choices":      {resp: openai.ChatCompletionResponse{}},
		"blank reply":     {resp: reply("   ")},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			p := NewProxy(client, Config{}, nil)
			_, err := p.Query(context.Background(), "hello")
			assert.ErrorIs(t, err, ErrUpstream)
		})
	}
}

func TestQuery_Timeout(t *testing.T) {
	client := &mockClient{resp: reply("late"), delay: time.Second}
	p := NewProxy(client, Config{Timeout: 20 * time.Millisecond}, nil)

	_, err := p.Query(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewClient_AgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, APIKey: "test-key", Model: "m"}
	p := NewProxy(NewClient(cfg), cfg, nil)

	got, err := p.Query(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
}
