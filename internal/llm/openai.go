package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"museumguide/internal/config"
	"museumguide/internal/conversation"
	"museumguide/internal/retry"
)

var (
	ErrInvalidModel  = errors.New("model is required")
	ErrEmptyResponse = errors.New("empty response from model")
)

// OpenAIClient клиент OpenAI-совместимого chat/completions API
// (OpenAI, OpenRouter и т.п.).
type OpenAIClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	policy       retry.Policy
	logger       *slog.Logger
}

func NewOpenAIClient(cfg config.OpenAIConfig, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	return &OpenAIClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.Model,
		httpClient:   httpClient,
		policy:       retry.DefaultPolicy("openai"),
		logger:       logger,
	}
}

// Complete отправляет историю целиком и возвращает первый вариант ответа.
func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []conversation.Message) (conversation.Message, error) {
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return conversation.Message{}, ErrInvalidModel
	}

	body := chatRequest{Model: model, Messages: make([]chatMessage, 0, len(messages))}
	for _, msg := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := retry.Do(ctx, c.httpClient, c.policy, c.logger, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return conversation.Message{}, fmt.Errorf("chat completion: %w", err)
	}
	if resp.StatusCode >= 300 {
		return conversation.Message{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(resp.Body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return conversation.Message{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return conversation.Message{}, ErrEmptyResponse
	}
	return conversation.Message{
		Role:    conversation.RoleAssistant,
		Content: parsed.Choices[0].Message.Content,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
