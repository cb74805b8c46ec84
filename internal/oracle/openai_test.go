package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, content string, got *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if got != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		}

		resp := openai.ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  "test-model",
			Choices: []openai.ChatCompletionChoice{{
				Index:        0,
				Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
				FinishReason: openai.FinishReasonStop,
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIOracle_Diagnose(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := newChatServer(t, proposalJSON, &got)

	o := NewOpenAIOracle("test-key", srv.URL, "test-model", 0.2)
	patch, err := o.Diagnose(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, "guard division by zero", patch.Approach)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.2, got.Temperature, 0.0001)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "## Attempt 2 of 3")
}

func TestOpenAIOracle_MalformedReply(t *testing.T) {
	srv := newChatServer(t, `{"approach":""}`, nil)

	_, err := NewOpenAIOracle("test-key", srv.URL, "test-model", 0).Diagnose(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenAIOracle_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit reached","type":"tokens"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIOracle("test-key", srv.URL, "test-model", 0).Diagnose(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
	assert.Contains(t, err.Error(), "rate limit reached")
}

func TestOpenAIOracle_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIOracle("test-key", srv.URL, "test-model", 0).Diagnose(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
