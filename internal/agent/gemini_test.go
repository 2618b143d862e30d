package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"gendoc/internal/consultation"
)

type geminiPart struct {
	Text       string `json:"text"`
	InlineData *struct {
		MimeType string `json:"mimeType"`
		Data     []byte `json:"data"`
	} `json:"inlineData"`
}

type geminiRequest struct {
	Path     string
	Contents []struct {
		Role  string       `json:"role"`
		Parts []geminiPart `json:"parts"`
	} `json:"contents"`
	SafetySettings   []json.RawMessage `json:"safetySettings"`
	GenerationConfig struct {
		Temperature float32 `json:"temperature"`
		TopK        int32   `json:"topK"`
	} `json:"generationConfig"`
}

// fakeGemini answers generateContent and streamGenerateContent calls. Calls
// listed in fail get a 400.
type fakeGemini struct {
	mu       sync.Mutex
	requests []geminiRequest
	replies  []string
	fail     map[int]bool
	blocked  bool
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req geminiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Path = r.URL.Path
	f.requests = append(f.requests, req)

	w.Header().Set("Content-Type", "application/json")
	if f.fail[len(f.requests)] {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"quota exceeded","status":"INVALID_ARGUMENT"}}`))
		return
	}

	var body string
	if f.blocked {
		body = `{"promptFeedback":{"blockReason":1}}`
	} else {
		reply := "ok"
		if len(f.replies) > 0 {
			reply, f.replies = f.replies[0], f.replies[1:]
		}
		text, _ := json.Marshal(reply)
		body = fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]},"finishReason":1,"index":0}]}`, text)
	}
	if strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
		body = "[" + body + "]"
	}
	w.Write([]byte(body))
}

// rewriteTransport sends every request to target, whatever host the client
// was configured with.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.URL.Scheme = t.target.Scheme
	r.URL.Host = t.target.Host
	r.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func newTestGemini(t *testing.T, fake *fakeGemini, s Settings) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	c, err := NewGeminiClient(context.Background(), "test-key", s,
		option.WithHTTPClient(&http.Client{Transport: rewriteTransport{target: target}}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGeminiClient_Analyze(t *testing.T) {
	fake := &fakeGemini{replies: []string{"1) Findings\nLeading diagnosis: Eczema"}}
	c := newTestGemini(t, fake, Settings{Temperature: 0.7, TopK: 40})

	img := consultation.Image{Data: []byte("\x89PNG\r\n\x1a\n"), MIMEType: "image/png"}
	got, err := c.Analyze(context.Background(), img, "describe the image")
	require.NoError(t, err)
	assert.Equal(t, "1) Findings\nLeading diagnosis: Eczema", got)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Contains(t, req.Path, "models/"+DefaultGeminiModel)
	require.Len(t, req.Contents, 1)
	parts := req.Contents[0].Parts
	require.Len(t, parts, 2)
	require.NotNil(t, parts[0].InlineData)
	assert.Equal(t, "image/png", parts[0].InlineData.MimeType)
	assert.Equal(t, img.Data, parts[0].InlineData.Data)
	assert.Equal(t, "describe the image", parts[1].Text)
	assert.Len(t, req.SafetySettings, 4)
	assert.InDelta(t, 0.7, req.GenerationConfig.Temperature, 0.0001)
	assert.Equal(t, int32(40), req.GenerationConfig.TopK)
}

func TestGeminiClient_AnalyzeBlocked(t *testing.T) {
	c := newTestGemini(t, &fakeGemini{blocked: true}, Settings{})

	_, err := c.Analyze(context.Background(), consultation.Image{Data: []byte("x"), MIMEType: "image/png"}, "p")
	assert.Error(t, err)
}

func TestGeminiClient_ChatSeedsAndReplays(t *testing.T) {
	fake := &fakeGemini{replies: []string{"noted", "Not contagious."}}
	c := newTestGemini(t, fake, Settings{})
	ctx := context.Background()

	chat, err := c.StartChat(ctx, "the analysis")
	require.NoError(t, err)
	reply, err := chat.Send(ctx, "Is it contagious?")
	require.NoError(t, err)
	assert.Equal(t, "Not contagious.", reply)

	require.Len(t, fake.requests, 2)
	turns := fake.requests[1].Contents
	require.Len(t, turns, 3)
	assert.Equal(t, "the analysis", turns[0].Parts[0].Text)
	assert.Equal(t, "model", turns[1].Role)
	assert.Equal(t, "noted", turns[1].Parts[0].Text)
	assert.Equal(t, "Is it contagious?", turns[2].Parts[0].Text)
}

func TestGeminiClient_FailedTurnNotRecorded(t *testing.T) {
	fake := &fakeGemini{
		replies: []string{"noted", "Use a moisturizer."},
		fail:    map[int]bool{2: true},
	}
	c := newTestGemini(t, fake, Settings{})
	ctx := context.Background()

	chat, err := c.StartChat(ctx, "the analysis")
	require.NoError(t, err)
	gc, ok := chat.(*geminiChat)
	require.True(t, ok)
	require.Len(t, gc.cs.History, 2)

	_, err = chat.Send(ctx, "What should I do?")
	require.Error(t, err)
	assert.Len(t, gc.cs.History, 2)

	reply, err := chat.Send(ctx, "What should I do?")
	require.NoError(t, err)
	assert.Equal(t, "Use a moisturizer.", reply)
	assert.Len(t, gc.cs.History, 4)

	require.Len(t, fake.requests, 3)
	retried := fake.requests[2].Contents
	require.Len(t, retried, 3)
	assert.Equal(t, "What should I do?", retried[2].Parts[0].Text)
}

func TestGeminiClient_StartChatFailure(t *testing.T) {
	c := newTestGemini(t, &fakeGemini{fail: map[int]bool{1: true}}, Settings{})

	chat, err := c.StartChat(context.Background(), "the analysis")
	assert.Error(t, err)
	assert.Nil(t, chat)
}
