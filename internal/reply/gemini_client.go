package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiClient implements LLMClient using Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
}

func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("reply: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("reply: create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = defaultGeminiModel
	}
	model := c.client.GenerativeModel(modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if system := strings.TrimSpace(strings.Join(req.System, "\n\n")); system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	history, last, err := geminiHistory(req.Messages)
	if err != nil {
		return LLMResponse{}, err
	}
	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("reply: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("reply: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return LLMResponse{}, errors.New("reply: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	result := LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Close releases the underlying gRPC connection.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// geminiHistory splits messages into chat history and the final user turn.
// System turns are dropped; they travel as the system instruction.
func geminiHistory(messages []ChatMessage) ([]*genai.Content, string, error) {
	turns := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == ChatRoleSystem || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 {
		return nil, "", errors.New("reply: gemini requires at least one message")
	}
	last := turns[len(turns)-1]
	if last.Role != ChatRoleUser {
		return nil, "", errors.New("reply: gemini conversation must end with a user turn")
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(strings.TrimSpace(msg.Content))},
		})
	}
	return history, strings.TrimSpace(last.Content), nil
}
