package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gendoc/internal/consultation"
)

type recordedRequest struct {
	Model       string          `json:"model"`
	Temperature float32         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    json.RawMessage `json:"messages"`
}

type fakeOpenAI struct {
	mu       sync.Mutex
	requests []recordedRequest
	replies  []string
	status   int
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/v1/chat/completions" {
		http.NotFound(w, r)
		return
	}
	var req recordedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.requests = append(f.requests, req)

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
		return
	}
	reply := "ok"
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]string{"role": "assistant", "content": reply},
		}},
	})
}

func newOpenAITest(t *testing.T, replies ...string) (*OpenAIClient, *fakeOpenAI) {
	t.Helper()
	fake := &fakeOpenAI{replies: replies}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c := NewOpenAIClient("test-key", srv.URL+"/v1", Settings{Temperature: 0.7, TopP: 0.9, MaxOutputTokens: 2048})
	return c, fake
}

func TestOpenAIClient_Analyze(t *testing.T) {
	c, fake := newOpenAITest(t, "  1) Findings\n2) Top diagnoses\n1. Eczema  ")

	text, err := c.Analyze(context.Background(),
		consultation.Image{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"}, "describe")
	require.NoError(t, err)
	assert.Equal(t, "1) Findings\n2) Top diagnoses\n1. Eczema", text)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, DefaultOpenAIModel, req.Model)
	assert.InDelta(t, 0.7, req.Temperature, 0.001)
	assert.Equal(t, 2048, req.MaxTokens)
	assert.Contains(t, string(req.Messages), `"type":"image_url"`)
	assert.Contains(t, string(req.Messages), "data:image/png;base64,iVBORw==")
	assert.Contains(t, string(req.Messages), `"text":"describe"`)
}

func TestOpenAIClient_ChatReplaysHistory(t *testing.T) {
	c, fake := newOpenAITest(t, "seen", "first answer", "second answer")
	ctx := context.Background()

	chat, err := c.StartChat(ctx, "analysis text")
	require.NoError(t, err)

	reply, err := chat.Send(ctx, "first question")
	require.NoError(t, err)
	assert.Equal(t, "first answer", reply)

	reply, err = chat.Send(ctx, "second question")
	require.NoError(t, err)
	assert.Equal(t, "second answer", reply)

	require.Len(t, fake.requests, 3)
	var last []map[string]any
	require.NoError(t, json.Unmarshal(fake.requests[2].Messages, &last))
	require.Len(t, last, 5)
	assert.Equal(t, "analysis text", last[0]["content"])
	assert.Equal(t, "seen", last[1]["content"])
	assert.Equal(t, "second question", last[4]["content"])
}

func TestOpenAIClient_FailedTurnNotRecorded(t *testing.T) {
	c, fake := newOpenAITest(t, "seen", "answer")
	ctx := context.Background()

	chat, err := c.StartChat(ctx, "analysis text")
	require.NoError(t, err)

	fake.mu.Lock()
	fake.status = http.StatusInternalServerError
	fake.mu.Unlock()
	_, err = chat.Send(ctx, "lost question")
	require.Error(t, err)

	fake.mu.Lock()
	fake.status = 0
	fake.mu.Unlock()
	_, err = chat.Send(ctx, "retry question")
	require.NoError(t, err)

	last := fake.requests[len(fake.requests)-1]
	assert.NotContains(t, string(last.Messages), "lost question")
	assert.Contains(t, string(last.Messages), "retry question")
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: ProviderGemini})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Provider: "claude", APIKey: "k"})
	assert.Error(t, err)

	c, err := New(context.Background(), Config{Provider: "OpenAI", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
}

func TestSafetySettings(t *testing.T) {
	got, err := safetySettings(map[string]string{"Harassment": "none", "dangerous_content": "ONLY_HIGH"})
	require.NoError(t, err)
	require.Len(t, got, 4)

	byCategory := map[genai.HarmCategory]genai.HarmBlockThreshold{}
	for _, s := range got {
		byCategory[s.Category] = s.Threshold
	}
	assert.Equal(t, genai.HarmBlockNone, byCategory[genai.HarmCategoryHarassment])
	assert.Equal(t, genai.HarmBlockOnlyHigh, byCategory[genai.HarmCategoryDangerousContent])
	assert.Equal(t, genai.HarmBlockMediumAndAbove, byCategory[genai.HarmCategoryHateSpeech])
	assert.Equal(t, genai.HarmBlockMediumAndAbove, byCategory[genai.HarmCategorySexuallyExplicit])

	_, err = safetySettings(map[string]string{"violence": "none"})
	assert.Error(t, err)
	_, err = safetySettings(map[string]string{"harassment": "sometimes"})
	assert.Error(t, err)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Text("world")}},
	}}}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, errEmptyResponse)

	_, err = responseText(&genai.GenerateContentResponse{
		PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety},
	})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "prompt blocked"))
}
