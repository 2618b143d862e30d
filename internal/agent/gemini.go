package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gendoc/internal/consultation"
)

const DefaultGeminiModel = "gemini-1.5-flash"

var harmCategories = map[string]genai.HarmCategory{
	"harassment":        genai.HarmCategoryHarassment,
	"hate_speech":       genai.HarmCategoryHateSpeech,
	"sexually_explicit": genai.HarmCategorySexuallyExplicit,
	"dangerous_content": genai.HarmCategoryDangerousContent,
}

var harmThresholds = map[string]genai.HarmBlockThreshold{
	"none":             genai.HarmBlockNone,
	"low_and_above":    genai.HarmBlockLowAndAbove,
	"medium_and_above": genai.HarmBlockMediumAndAbove,
	"only_high":        genai.HarmBlockOnlyHigh,
}

var errEmptyResponse = errors.New("model returned no text")

type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiClient creates the client. Extra options are applied after the
// API key, e.g. option.WithHTTPClient to route calls elsewhere.
func NewGeminiClient(ctx context.Context, apiKey string, s Settings, opts ...option.ClientOption) (*GeminiClient, error) {
	safety, err := safetySettings(s.Safety)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	name := s.Model
	if name == "" {
		name = DefaultGeminiModel
	}
	model := client.GenerativeModel(name)
	if s.Temperature > 0 {
		model.SetTemperature(s.Temperature)
	}
	if s.TopP > 0 {
		model.SetTopP(s.TopP)
	}
	if s.TopK > 0 {
		model.SetTopK(s.TopK)
	}
	if s.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(s.MaxOutputTokens)
	}
	model.SafetySettings = safety

	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Analyze(ctx context.Context, img consultation.Image, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx,
		genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
		genai.Text(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp)
}

// StartChat opens a chat and sends seed as its first user turn. The reply to
// the seed is discarded.
func (c *GeminiClient) StartChat(ctx context.Context, seed string) (consultation.ChatSession, error) {
	chat := &geminiChat{cs: c.model.StartChat()}
	if _, err := chat.Send(ctx, seed); err != nil {
		return nil, err
	}
	return chat, nil
}

func (c *GeminiClient) Close() error {
	return c.client.Close()
}

type geminiChat struct {
	cs *genai.ChatSession
}

func (g *geminiChat) Send(ctx context.Context, text string) (string, error) {
	n := len(g.cs.History)
	resp, err := g.cs.SendMessage(ctx, genai.Text(text))
	if err != nil {
		// SendMessage keeps the user turn even when the call failed.
		g.cs.History = g.cs.History[:n]
		return "", fmt.Errorf("gemini chat: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil {
			return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errEmptyResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", errEmptyResponse
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errEmptyResponse
	}
	return b.String(), nil
}

// safetySettings converts the configured thresholds. Categories that are not
// configured default to medium_and_above.
func safetySettings(cfg map[string]string) ([]*genai.SafetySetting, error) {
	for name := range cfg {
		if _, ok := harmCategories[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("unknown harm category %q", name)
		}
	}
	lower := make(map[string]string, len(cfg))
	for k, v := range cfg {
		lower[strings.ToLower(k)] = strings.ToLower(strings.TrimSpace(v))
	}

	names := make([]string, 0, len(harmCategories))
	for name := range harmCategories {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*genai.SafetySetting, 0, len(names))
	for _, name := range names {
		level := lower[name]
		if level == "" {
			level = "medium_and_above"
		}
		threshold, ok := harmThresholds[level]
		if !ok {
			return nil, fmt.Errorf("unknown safety threshold %q for %s", level, name)
		}
		out = append(out, &genai.SafetySetting{Category: harmCategories[name], Threshold: threshold})
	}
	return out, nil
}
