package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/cardloom/internal/validation"
)

const testAPIKey = "sk-or-test"

type countingLimiter struct {
	calls atomic.Int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) record(delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, delay)
}

func (r *delayRecorder) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	payload := map[string]any{
		"id":    "gen-1",
		"model": DefaultModel,
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func proposalsContent(t *testing.T, count int) string {
	t.Helper()
	proposals := make([]map[string]string, 0, count)
	for i := 0; i < count; i++ {
		proposals = append(proposals, map[string]string{
			"front": fmt.Sprintf("Question %d?", i+1),
			"back":  fmt.Sprintf("Answer %d", i+1),
		})
	}
	data, err := json.Marshal(map[string]any{"proposals": proposals})
	require.NoError(t, err)
	return string(data)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func newTestClient(t *testing.T, server *httptest.Server, options ...Option) (*Client, *countingLimiter, *delayRecorder) {
	t.Helper()
	limiter := &countingLimiter{}
	base := []Option{
		WithBaseURL(server.URL),
		WithHTTPClient(server.Client()),
		WithRateLimiter(limiter),
		WithRetryDelay(time.Millisecond),
	}
	client, err := NewClient(testAPIKey, append(base, options...)...)
	require.NoError(t, err)
	recorder := &delayRecorder{}
	client.onBackoff = recorder.record
	t.Cleanup(func() { _ = client.Close() })
	return client, limiter, recorder
}

func TestNewClientGuards(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		options    []Option
		wantErr    error
		wantSubstr string
	}{
		{name: "empty api key", apiKey: "", wantErr: ErrMissingAPIKey, wantSubstr: "API key is required"},
		{name: "whitespace api key", apiKey: "   ", wantErr: ErrMissingAPIKey, wantSubstr: "API key is required"},
		{name: "plain http base url", apiKey: "k", options: []Option{WithBaseURL("http://x")}, wantErr: ErrInsecureBaseURL, wantSubstr: "must use HTTPS"},
		{name: "zero timeout", apiKey: "k", options: []Option{WithTimeout(0)}, wantErr: ErrInvalidTimeout, wantSubstr: "Timeout must be greater than 0"},
		{name: "negative retries", apiKey: "k", options: []Option{WithRetryAttempts(-1)}, wantErr: ErrNegativeRetryAttempts, wantSubstr: "cannot be negative"},
		{name: "negative delay", apiKey: "k", options: []Option{WithRetryDelay(-time.Second)}, wantErr: ErrNegativeRetryDelay, wantSubstr: "cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.apiKey, tt.options...)
			require.Error(t, err)
			assert.Nil(t, client)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Contains(t, err.Error(), tt.wantSubstr)
		})
	}
}

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("k")
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, 30*time.Second, client.timeout)
	assert.Equal(t, 2, client.retryAttempts)
	assert.Equal(t, time.Second, client.retryDelay)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", client.DefaultModel())
	assert.NotNil(t, client.limiter)
}

func TestGenerateFlashcardsSendsStructuredRequest(t *testing.T) {
	var captured map[string]any
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		assert.Equal(t, "https://cards.example", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Cards Test", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, http.StatusOK, completionBody(t, proposalsContent(t, 3)))
	}))
	defer server.Close()

	client, limiter, recorder := newTestClient(t, server,
		WithHTTPReferer("https://cards.example"),
		WithAppTitle("Cards Test"),
	)

	proposals, err := client.GenerateFlashcards(context.Background(), "  Photosynthesis\x00 converts light.  ", "")
	require.NoError(t, err)
	require.Len(t, proposals, 3)
	assert.Equal(t, FlashcardProposal{Front: "Question 1?", Back: "Answer 1"}, proposals[0])
	assert.Equal(t, int32(1), limiter.calls.Load())
	assert.Empty(t, recorder.snapshot())

	assert.Equal(t, DefaultModel, captured["model"])
	assert.InDelta(t, 0.7, captured["temperature"], 1e-9)
	assert.EqualValues(t, 2000, captured["max_tokens"])

	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	system := messages[0].(map[string]any)
	user := messages[1].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "between 1 and 200 characters")
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, "Generate flashcards from the following text:\n\nPhotosynthesis converts light.", user["content"])

	format, ok := captured["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "flashcard_proposals", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestGenerateFlashcardsUsesModelOverride(t *testing.T) {
	var model string
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		model = body.Model
		writeJSON(w, http.StatusOK, completionBody(t, proposalsContent(t, 1)))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server)
	_, err := client.GenerateFlashcards(context.Background(), "some text", "openai/gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", model)
}

func TestGenerateFlashcardsRetriesTransientStatuses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			writeJSON(w, http.StatusServiceUnavailable, []byte(`{"error":{"message":"overloaded"}}`))
			return
		}
		writeJSON(w, http.StatusOK, completionBody(t, proposalsContent(t, 4)))
	}))
	defer server.Close()

	retryDelay := 5 * time.Millisecond
	client, limiter, recorder := newTestClient(t, server, WithRetryAttempts(2), WithRetryDelay(retryDelay))

	proposals, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
	require.NoError(t, err)
	assert.Len(t, proposals, 4)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), limiter.calls.Load())
	assert.Equal(t, []time.Duration{retryDelay, 2 * retryDelay}, recorder.snapshot())
}

func TestGenerateFlashcardsDoesNotRetryPermanentStatuses(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, []byte(`{"error":{"message":"No auth credentials found"}}`))
	}))
	defer server.Close()

	client, _, recorder := newTestClient(t, server, WithRetryAttempts(5))

	_, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnauthorized, classified.Code)
	assert.Equal(t, http.StatusUnauthorized, classified.StatusCode)
	assert.Equal(t, "No auth credentials found", classified.Message)
	assert.False(t, classified.Retryable)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, recorder.snapshot())
}

func TestGenerateFlashcardsReturnsLastErrorWhenRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _, recorder := newTestClient(t, server, WithRetryAttempts(1))

	_, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeRateLimit, classified.Code)
	assert.True(t, classified.Retryable)
	assert.Equal(t, http.StatusText(http.StatusTooManyRequests), classified.Message)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, recorder.snapshot(), 1)
}

func TestGenerateFlashcardsTimesOutWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server, WithTimeout(50*time.Millisecond), WithRetryAttempts(3))

	_, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTimeout, classified.Code)
	assert.False(t, classified.Retryable)
	assert.Contains(t, classified.Message, "50ms")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateFlashcardsRetriesNetworkErrors(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	httpClient := server.Client()
	baseURL := server.URL
	server.Close()

	limiter := &countingLimiter{}
	client, err := NewClient(testAPIKey,
		WithBaseURL(baseURL),
		WithHTTPClient(httpClient),
		WithRateLimiter(limiter),
		WithRetryAttempts(1),
		WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)
	recorder := &delayRecorder{}
	client.onBackoff = recorder.record

	_, err = client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeNetworkError, classified.Code)
	assert.True(t, classified.Retryable)
	assert.Equal(t, int32(2), limiter.calls.Load())
	assert.Equal(t, []time.Duration{time.Millisecond}, recorder.snapshot())
}

func TestGenerateFlashcardsValidatesResponse(t *testing.T) {
	longFront := strings.Repeat("q", 201)
	tests := []struct {
		name       string
		body       []byte
		wantCode   Code
		wantSubstr string
		wantCount  int
	}{
		{
			name:     "no choices",
			body:     []byte(`{"id":"x","choices":[]}`),
			wantCode: CodeInvalidResponse, wantSubstr: "No choices",
		},
		{
			name:     "empty content",
			body:     completionBody(t, ""),
			wantCode: CodeInvalidResponse, wantSubstr: "No message content",
		},
		{
			name:     "body is not an object",
			body:     []byte(`[1,2,3]`),
			wantCode: CodeInvalidResponse, wantSubstr: "not an object",
		},
		{
			name:     "body is not json",
			body:     []byte(`<html>bad gateway</html>`),
			wantCode: CodeInvalidResponse, wantSubstr: "not valid JSON",
		},
		{
			name:     "content is not a string",
			body:     []byte(`{"choices":[{"message":{"role":"assistant","content":{"proposals":[]}}}]}`),
			wantCode: CodeInvalidResponse, wantSubstr: "choices.message.content has the wrong type: expected string, received object",
		},
		{
			name:     "content is not json",
			body:     completionBody(t, "Here are your flashcards!"),
			wantCode: CodeInvalidJSON, wantSubstr: "Failed to parse response content as JSON",
		},
		{
			name:     "zero proposals",
			body:     completionBody(t, `{"proposals":[]}`),
			wantCode: CodeValidation, wantSubstr: "proposals",
		},
		{
			name:     "eleven proposals",
			body:     completionBody(t, proposalsContent(t, 11)),
			wantCode: CodeValidation, wantSubstr: "proposals",
		},
		{
			name:     "front too long",
			body:     completionBody(t, fmt.Sprintf(`{"proposals":[{"front":%q,"back":"ok"}]}`, longFront)),
			wantCode: CodeValidation, wantSubstr: "proposals[0].front",
		},
		{
			name:     "empty back",
			body:     completionBody(t, `{"proposals":[{"front":"ok","back":""}]}`),
			wantCode: CodeValidation, wantSubstr: "proposals[0].back",
		},
		{
			name:     "missing proposals",
			body:     completionBody(t, `{"cards":[]}`),
			wantCode: CodeValidation, wantSubstr: "proposals",
		},
		{
			name:     "proposals of wrong type",
			body:     completionBody(t, `{"proposals":"many"}`),
			wantCode: CodeValidation, wantSubstr: "proposals",
		},
		{
			name:      "ten proposals",
			body:      completionBody(t, proposalsContent(t, 10)),
			wantCount: 10,
		},
		{
			name:      "single proposal with extra fields",
			body:      completionBody(t, `{"proposals":[{"front":"What is ATP?","back":"Energy currency","hint":"cells"}],"note":"x"}`),
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.body)
			}))
			defer server.Close()

			client, _, _ := newTestClient(t, server)
			proposals, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.Len(t, proposals, tt.wantCount)
				return
			}
			classified, ok := IsError(err)
			require.True(t, ok, "expected classified error, got %v", err)
			assert.Equal(t, tt.wantCode, classified.Code)
			assert.False(t, classified.Retryable)
			assert.Contains(t, classified.Message, tt.wantSubstr)
		})
	}
}

func TestGenerateFlashcardsDoesNotRetryCertificateFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, completionBody(t, proposalsContent(t, 1)))
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	client, err := NewClient(testAPIKey,
		WithBaseURL(server.URL),
		WithHTTPClient(&http.Client{}),
		WithRateLimiter(limiter),
		WithRetryAttempts(3),
		WithRetryDelay(time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknown, classified.Code)
	assert.False(t, classified.Retryable)
	assert.Contains(t, classified.Message, "x509")
	assert.Equal(t, int32(1), limiter.calls.Load())
	assert.Equal(t, int32(0), calls.Load())
}

func TestValidationErrorEnumeratesEveryIssue(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, completionBody(t, `{"proposals":[{"front":"","back":"ok"},{"front":"ok","back":""}]}`))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server)
	_, err := client.GenerateFlashcards(context.Background(), "cell biology", "")
	classified, ok := IsError(err)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(classified.Message, "Response validation failed: "))
	assert.Contains(t, classified.Message, "proposals[0].front: ")
	assert.Contains(t, classified.Message, "; proposals[1].back: ")
	assert.NotNil(t, classified.Details)

	tests := []struct {
		name       string
		content    string
		wantIssues []validation.Issue
	}{
		{
			name:    "mixed types and lengths",
			content: `{"proposals":[{"front":1,"back":""},{"front":"","back":2}]}`,
			wantIssues: []validation.Issue{
				{Field: "proposals[0].front", Message: "expected string, received number"},
				{Field: "proposals[0].back", Message: "back must be at least 1 character in length"},
				{Field: "proposals[1].front", Message: "front must be at least 1 character in length"},
				{Field: "proposals[1].back", Message: "expected string, received number"},
			},
		},
		{
			name:    "element that is not an object",
			content: `{"proposals":[{"front":"ok","back":null},7]}`,
			wantIssues: []validation.Issue{
				{Field: "proposals[0].back", Message: "expected string, received null"},
				{Field: "proposals[1]", Message: "expected object, received number"},
			},
		},
		{
			name:       "proposals that are not an array",
			content:    `{"proposals":"none"}`,
			wantIssues: []validation.Issue{{Field: "proposals", Message: "expected array, received string"}},
		},
		{
			name:       "content that is not an object",
			content:    `[1,2]`,
			wantIssues: []validation.Issue{{Message: "expected object, received array"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProposals(&ChatResponse{Choices: []Choice{{Message: Message{Content: tt.content}}}}, validation.MustNew())
			classified, ok := IsError(err)
			require.True(t, ok)
			assert.Equal(t, CodeValidation, classified.Code)
			assert.Equal(t, tt.wantIssues, classified.Details)
			assert.Equal(t, "Response validation failed: "+validation.Join(tt.wantIssues), classified.Message)
		})
	}
}

func TestGenerateFlashcardsRejectsInvalidSourceText(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, completionBody(t, proposalsContent(t, 1)))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server)

	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{name: "empty", text: "", wantErr: true},
		{name: "whitespace only", text: strings.Repeat(" ", 2000), wantErr: true},
		{name: "control characters only", text: "\x00\x01\x02", wantErr: true},
		{name: "too long", text: strings.Repeat("a", MaxSourceTextLength+1), wantErr: true},
		{name: "at limit", text: strings.Repeat("a", MaxSourceTextLength)},
		{name: "at limit after stripping control characters", text: strings.Repeat("a", MaxSourceTextLength) + "\x00\x00"},
		{name: "multibyte characters count once", text: strings.Repeat("ż", MaxSourceTextLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.GenerateFlashcards(context.Background(), tt.text, "")
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			classified, ok := IsError(err)
			require.True(t, ok)
			assert.Equal(t, CodeInputValidation, classified.Code)
		})
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		writeJSON(w, http.StatusOK, completionBody(t, "hello there"))
	}))
	defer server.Close()

	client, _, _ := newTestClient(t, server)

	t.Run("requires model", func(t *testing.T) {
		_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
		classified, ok := IsError(err)
		require.True(t, ok)
		assert.Equal(t, CodeInputValidation, classified.Code)
		assert.Equal(t, "Model name is required", classified.Message)
	})

	t.Run("requires messages", func(t *testing.T) {
		_, err := client.Chat(context.Background(), ChatRequest{Model: "openai/gpt-4o"})
		classified, ok := IsError(err)
		require.True(t, ok)
		assert.Equal(t, "At least one message is required", classified.Message)
	})

	t.Run("passes optional sampling fields", func(t *testing.T) {
		topP := 0.9
		maxTokens := 64
		response, err := client.Chat(context.Background(), ChatRequest{
			Model:     "openai/gpt-4o",
			Messages:  []Message{{Role: RoleUser, Content: "hi"}},
			TopP:      &topP,
			MaxTokens: &maxTokens,
		})
		require.NoError(t, err)
		require.Len(t, response.Choices, 1)
		assert.Equal(t, "hello there", response.Choices[0].Message.Content)
		assert.InDelta(t, 0.9, captured["top_p"], 1e-9)
		assert.EqualValues(t, 64, captured["max_tokens"])
		assert.InDelta(t, 0.7, captured["temperature"], 1e-9)
		_, hasFormat := captured["response_format"]
		assert.False(t, hasFormat)
		_, hasPenalty := captured["presence_penalty"]
		assert.False(t, hasPenalty)
	})
}
