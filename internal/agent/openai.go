package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"gendoc/internal/consultation"
)

const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIClient sends images as data URLs in a multi-part user message. The
// chat history is kept client side and replayed on every turn.
type OpenAIClient struct {
	api *openai.Client
	s   Settings
}

func NewOpenAIClient(apiKey, baseURL string, s Settings) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if s.Model == "" {
		s.Model = DefaultOpenAIModel
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg), s: s}
}

func (c *OpenAIClient) Analyze(ctx context.Context, img consultation.Image, prompt string) (string, error) {
	dataURL := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	}
	return c.complete(ctx, []openai.ChatCompletionMessage{msg})
}

func (c *OpenAIClient) StartChat(ctx context.Context, seed string) (consultation.ChatSession, error) {
	chat := &openAIChat{c: c}
	if _, err := chat.Send(ctx, seed); err != nil {
		return nil, err
	}
	return chat, nil
}

func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.s.Model,
		Messages:    msgs,
		Temperature: c.s.Temperature,
		TopP:        c.s.TopP,
		MaxTokens:   int(c.s.MaxOutputTokens),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

type openAIChat struct {
	c       *OpenAIClient
	history []openai.ChatCompletionMessage
}

// Send commits the turn to the history only after the model replied.
func (o *openAIChat) Send(ctx context.Context, text string) (string, error) {
	msgs := append(o.history[:len(o.history):len(o.history)], openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	reply, err := o.c.complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	o.history = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	return reply, nil
}
