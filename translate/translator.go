// Package translate turns non-English prompt fragments into English.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sdgateway/core"

	"github.com/sashabaranov/go-openai"
)

// Translator converts text between languages. Implementations must keep the
// input's line structure: one output line per input line.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// chatCompleter is the slice of *openai.Client the translator uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAITranslator translates with a chat completion model on any
// OpenAI-compatible endpoint.
type OpenAITranslator struct {
	client chatCompleter
	model  string
}

// NewOpenAITranslator builds a translator from configuration.
func NewOpenAITranslator(cfg core.TranslationConfig) (*OpenAITranslator, error) {
	if cfg.Model == "" {
		return nil, errors.New("translate: model is required")
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, core.ErrMissingConfig("OPENAI_API_KEY or TRANSLATE_BASE_URL")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return newWithClient(openai.NewClientWithConfig(clientConfig), cfg.Model), nil
}

func newWithClient(client chatCompleter, model string) *OpenAITranslator {
	return &OpenAITranslator{client: client, model: model}
}

// Translate sends text in one completion and returns the model's reply
// with surrounding whitespace trimmed.
func (t *OpenAITranslator) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(source, target)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("translate: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func systemPrompt(source, target string) string {
	return fmt.Sprintf("Translate each line from %s to %s for use as an image generation prompt. "+
		"Return exactly one line per input line, in the same order, with no numbering, quotes or commentary.",
		languageName(source), languageName(target))
}

func languageName(code string) string {
	switch code {
	case "zh":
		return "Chinese"
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	default:
		return code
	}
}
