package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sdgateway/core"

	"github.com/sashabaranov/go-openai"
)

type fakeCompleter struct {
	reply string
	err   error
	got   openai.ChatCompletionRequest
	calls int
}

func (f *fakeCompleter) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.got = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func TestOpenAITranslator_Translate(t *testing.T) {
	fake := &fakeCompleter{reply: "  a girl\nblue sky \n"}
	tr := newWithClient(fake, "test-model")

	got, err := tr.Translate(context.Background(), "一个女孩\n蓝天", "zh", "en")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != "a girl\nblue sky" {
		t.Errorf("Translate() = %q", got)
	}
	if fake.got.Model != "test-model" {
		t.Errorf("model = %q", fake.got.Model)
	}
	if !strings.Contains(fake.got.Messages[0].Content, "Chinese to English") {
		t.Errorf("system prompt = %q", fake.got.Messages[0].Content)
	}
	if fake.got.Messages[1].Content != "一个女孩\n蓝天" {
		t.Errorf("user content = %q", fake.got.Messages[1].Content)
	}
}

func TestOpenAITranslator_EmptyInputSkipsCall(t *testing.T) {
	fake := &fakeCompleter{}
	tr := newWithClient(fake, "m")

	if _, err := tr.Translate(context.Background(), "  ", "zh", "en"); err != nil {
		t.Fatal(err)
	}
	if fake.calls != 0 {
		t.Errorf("calls = %d, want 0", fake.calls)
	}
}

func TestOpenAITranslator_Error(t *testing.T) {
	tr := newWithClient(&fakeCompleter{err: errors.New("boom")}, "m")
	if _, err := tr.Translate(context.Background(), "猫", "zh", "en"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewOpenAITranslator_Validation(t *testing.T) {
	if _, err := NewOpenAITranslator(core.TranslationConfig{Model: "m"}); err == nil {
		t.Error("expected error without key or base URL")
	}
	if _, err := NewOpenAITranslator(core.TranslationConfig{APIKey: "k"}); err == nil {
		t.Error("expected error without model")
	}
	if _, err := NewOpenAITranslator(core.TranslationConfig{Model: "m", BaseURL: "http://localhost:1234/v1"}); err != nil {
		t.Errorf("local endpoint without key: %v", err)
	}
}
