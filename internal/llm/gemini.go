package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"museumguide/internal/config"
	"museumguide/internal/conversation"
)

// GeminiClient клиент Gemini API поверх google.golang.org/genai.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig, httpClient *http.Client, logger *slog.Logger) (*GeminiClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client:       client,
		defaultModel: cfg.Model,
		logger:       logger,
	}, nil
}

// Complete передаёт system как SystemInstruction, остальную историю передаёт как contents.
func (c *GeminiClient) Complete(ctx context.Context, model string, messages []conversation.Message) (conversation.Message, error) {
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return conversation.Message{}, ErrInvalidModel
	}

	system, contents := toGenAIContents(messages)
	var genCfg *genai.GenerateContentConfig
	if system != "" {
		genCfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return conversation.Message{}, ErrEmptyResponse
	}
	return conversation.Message{Role: conversation.RoleAssistant, Content: text}, nil
}

// toGenAIContents отделяет системные сообщения; роль assistant в Gemini называется model.
func toGenAIContents(messages []conversation.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case conversation.RoleSystem:
			system = append(system, msg.Content)
		case conversation.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: msg.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}
