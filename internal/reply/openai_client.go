package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIChatAPI interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIClient implements LLMClient against any OpenAI-compatible
// chat-completions endpoint (OpenAI, Ollama, vLLM, LM Studio).
type OpenAIClient struct {
	api openAIChatAPI
}

// NewOpenAIClient builds a client. An empty baseURL uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg)}
}

func newOpenAIClientWithAPI(api openAIChatAPI) *OpenAIClient {
	if api == nil {
		panic("reply: openai api cannot be nil")
	}
	return &OpenAIClient{api: api}
}

// Complete implements LLMClient.
func (c *OpenAIClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if strings.TrimSpace(req.Model) == "" {
		return LLMResponse{}, errors.New("reply: openai model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(strings.Join(req.System, "\n\n")); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		var role string
		switch msg.Role {
		case ChatRoleSystem:
			role = openai.ChatMessageRoleSystem
		case ChatRoleUser:
			role = openai.ChatMessageRoleUser
		case ChatRoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			return LLMResponse{}, fmt.Errorf("reply: unsupported role %q", msg.Role)
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}

	request := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   int(req.MaxTokens),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	resp, err := c.api.CreateChatCompletion(ctx, request)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("reply: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return LLMResponse{}, errors.New("reply: openai returned no choices")
	}

	choice := resp.Choices[0]
	return LLMResponse{
		Text:       strings.TrimSpace(choice.Message.Content),
		StopReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}
