// Command llmtest sends one message through the reply generator with the
// configured LLM provider and prints the decision. Rate limits are disabled.
//
//	llmtest "Hi, are you open Saturday?"
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assistext/assistext/internal/app/bootstrap"
	"github.com/assistext/assistext/internal/config"
	"github.com/assistext/assistext/internal/reply"
	"github.com/assistext/assistext/internal/tenancy"
	"github.com/assistext/assistext/pkg/logging"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	logger := logging.NewWithOptions(logging.Options{Level: "debug", Format: "text"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body := "Hi, I'd like to book an appointment. What times do you have this week?"
	if len(os.Args) > 1 {
		body = strings.Join(os.Args[1:], " ")
	}

	llm, closeLLM, err := bootstrap.BuildLLMClient(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm: %v\n", err)
		os.Exit(1)
	}
	defer closeLLM()

	var client reply.LLMClient
	if llm != nil {
		client = llm
	}
	generator := reply.NewGenerator(client, reply.NoLimit{}, bootstrap.ReplyConfig(cfg), logger)

	tenant := tenancy.Tenant{
		ID:               uuid.New(),
		Name:             "Test Studio",
		AIEnabled:        true,
		AutoReplyEnabled: true,
		Personality:      "friendly and concise",
	}.WithDefaults()

	history := []reply.ChatMessage{
		{Role: reply.ChatRoleUser, Content: "Hello!"},
		{Role: reply.ChatRoleAssistant, Content: "Hi there! How can I help you today?"},
	}

	start := time.Now()
	out, err := generator.Generate(ctx, reply.Request{
		Tenant:     tenant,
		Body:       body,
		History:    history,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("provider:   %s (%s)\n", cfg.LLMProvider, bootstrap.LLMModel(cfg))
	fmt.Printf("elapsed:    %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("source:     %s\n", out.Source)
	if out.FallbackReason != "" {
		fmt.Printf("fallback:   %s\n", out.FallbackReason)
	}
	fmt.Printf("ai:         %v (confidence %.2f)\n", out.AIGenerated, out.Confidence)
	fmt.Printf("reply:      %s\n", out.Text)
}
