package reply

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	got  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeOpenAI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestOpenAIClient_Complete(t *testing.T) {
	api := &fakeOpenAI{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "  We open at 9.  "},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 40, CompletionTokens: 6, TotalTokens: 46},
	}}
	client := newOpenAIClientWithAPI(api)

	resp, err := client.Complete(context.Background(), LLMRequest{
		Model:       "gpt-4o-mini",
		System:      []string{"be brief", "be kind"},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: "hours?"}, {Role: ChatRoleAssistant, Content: " "}},
		MaxTokens:   150,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "We open at 9.", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, int32(46), resp.Usage.TotalTokens)

	require.Len(t, api.got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, api.got.Messages[0].Role)
	assert.Equal(t, "be brief\n\nbe kind", api.got.Messages[0].Content)
	assert.Equal(t, "hours?", api.got.Messages[1].Content)
	assert.Equal(t, 150, api.got.MaxTokens)
	assert.Equal(t, "gpt-4o-mini", api.got.Model)
}

func TestOpenAIClient_Errors(t *testing.T) {
	client := newOpenAIClientWithAPI(&fakeOpenAI{})
	_, err := client.Complete(context.Background(), LLMRequest{})
	assert.Error(t, err, "model is required")

	_, err = client.Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	assert.Error(t, err, "no choices")

	boom := errors.New("boom")
	client = newOpenAIClientWithAPI(&fakeOpenAI{err: boom})
	_, err = client.Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, boom)

	_, err = client.Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: "tool", Content: "x"}}})
	assert.Error(t, err)
}

type fakeConverse struct {
	got *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.got = in
	return f.out, f.err
}

func TestBedrockClient_Complete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "Sure thing!"}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(10), OutputTokens: aws.Int32(3), TotalTokens: aws.Int32(13)},
	}}
	client := NewBedrockClient(api)

	resp, err := client.Complete(context.Background(), LLMRequest{
		Model:       "anthropic.claude-3-haiku",
		System:      []string{"sys"},
		Messages:    []ChatMessage{{Role: ChatRoleSystem, Content: "extra"}, {Role: ChatRoleUser, Content: "hi"}},
		MaxTokens:   100,
		Temperature: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sure thing!", resp.Text)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, int32(13), resp.Usage.TotalTokens)

	require.NotNil(t, api.got)
	assert.Len(t, api.got.System, 2)
	assert.Len(t, api.got.Messages, 1)
	require.NotNil(t, api.got.InferenceConfig)
	assert.Equal(t, int32(100), aws.ToInt32(api.got.InferenceConfig.MaxTokens))
}

func TestBedrockClient_EmptyOutput(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	_, err := NewBedrockClient(api).Complete(context.Background(), LLMRequest{Model: "m", Messages: []ChatMessage{{Role: ChatRoleUser, Content: "hi"}}})
	assert.Error(t, err)
}

func TestBedrockInference_OmittedWhenUnset(t *testing.T) {
	assert.Nil(t, bedrockInference(LLMRequest{Temperature: -1}))
	assert.NotNil(t, bedrockInference(LLMRequest{Temperature: 0}))
}

func TestGeminiHistory(t *testing.T) {
	history, last, err := geminiHistory([]ChatMessage{
		{Role: ChatRoleSystem, Content: "ignored"},
		{Role: ChatRoleUser, Content: "hi"},
		{Role: ChatRoleAssistant, Content: "hello!"},
		{Role: ChatRoleUser, Content: " hours? "},
	})
	require.NoError(t, err)
	assert.Equal(t, "hours?", last)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, genai.Text("hello!"), history[1].Parts[0])

	_, _, err = geminiHistory(nil)
	assert.Error(t, err)

	_, _, err = geminiHistory([]ChatMessage{{Role: ChatRoleAssistant, Content: "hi"}})
	assert.Error(t, err)
}
