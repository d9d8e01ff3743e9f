package main

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const responderSystemPrompt = "You answer questions delegated by a voice assistant. " +
	"Reply with the answer only, in one or two short sentences suitable for being read aloud. " +
	"No markdown, no lists."

// llmResponder answers llm_required questions with a chat completion.
type llmResponder struct {
	client openai.Client
	model  string
}

func newLLMResponder(apiKey, model string) *llmResponder {
	return &llmResponder{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (r *llmResponder) Answer(ctx context.Context, question string) (string, error) {
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(responderSystemPrompt),
			openai.UserMessage(question),
		},
		MaxCompletionTokens: openai.Int(256),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("completion returned empty text")
	}
	return answer, nil
}
