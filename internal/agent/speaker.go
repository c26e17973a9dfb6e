package agent

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Role of a turn in a prompt.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation shown to the model.
type Turn struct {
	Role    Role
	Content string
}

// Prompt is a complete request to a model.
type Prompt struct {
	Model   string
	System  string
	Turns   []Turn
	Options ModelOptions
}

// Speaker produces a reply to a prompt.
type Speaker interface {
	Speak(ctx context.Context, p Prompt) (string, error)
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, p Prompt) (string, error)

func (f SpeakerFunc) Speak(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

// OpenAISpeaker talks to an OpenAI compatible chat completions endpoint.
type OpenAISpeaker struct {
	client *openai.Client
}

// NewOpenAISpeaker creates a speaker. An empty baseURL selects OpenAI; any
// compatible server (Ollama, vLLM, a proxy) can be used instead.
func NewOpenAISpeaker(apiKey, baseURL string) *OpenAISpeaker {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAISpeaker{client: openai.NewClientWithConfig(cfg)}
}

func (s *OpenAISpeaker) Speak(ctx context.Context, p Prompt) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:     p.Model,
		MaxTokens: p.Options.MaxTokens,
	}
	if p.Options.Temperature != nil {
		req.Temperature = *p.Options.Temperature
	}
	if p.Options.TopP != nil {
		req.TopP = *p.Options.TopP
	}
	if p.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	for _, t := range p.Turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
