// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIAdvisor consults an OpenAI chat model for classification and
// rephrasing.
type OpenAIAdvisor struct {
	client  *openai.Client
	limiter *rate.Limiter
	model   string
}

// NewOpenAIAdvisor reads OPENAI_API_KEY and OPENAI_MODEL from the
// environment.
func NewOpenAIAdvisor() (*OpenAIAdvisor, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is missing")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	return &OpenAIAdvisor{
		client:  openai.NewClient(apiKey),
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		model:   model,
	}, nil
}

// Advise implements the Advisor interface.
func (o *OpenAIAdvisor) Advise(ctx context.Context, req Request) (*Advice, error) {
	if len(req.Samples) == 0 {
		return nil, fmt.Errorf("empty evaluation window")
	}
	text, err := o.complete(ctx, advicePrompt(req))
	if err != nil {
		return nil, err
	}
	return parseAdvice(text)
}

// Rephrase implements the Advisor interface.
func (o *OpenAIAdvisor) Rephrase(ctx context.Context, trace, instruction string) (string, error) {
	if instruction == "" {
		instruction = "same length"
	}
	prompt := fmt.Sprintf("Rephrase this anomaly explanation, keeping the same meaning. Instruction: %s.\n\n%s\n\nRespond with only the new explanation.", instruction, trace)
	text, err := o.complete(ctx, prompt)
	if err != nil {
		return trace, err
	}
	if out := strings.TrimSpace(text); out != "" {
		return out, nil
	}
	return trace, nil
}

func (o *OpenAIAdvisor) complete(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("advisory rate limit wait: %w", err)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
