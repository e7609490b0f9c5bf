package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"museumguide/internal/config"
	"museumguide/internal/retry"
)

// ErrUnavailable синтез речи не удался. Отличается от ошибок completion.
var ErrUnavailable = errors.New("speech provider unavailable")

const defaultMediaType = "audio/mpeg"

// ElevenLabsClient синтезирует речь через ElevenLabs text-to-speech API.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	voiceID    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
}

func NewElevenLabsClient(cfg config.SpeechConfig, httpClient *http.Client, logger *slog.Logger) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		voiceID:    cfg.VoiceID,
		httpClient: httpClient,
		policy:     retry.DefaultPolicy("elevenlabs"),
		logger:     logger,
	}
}

// Synthesize возвращает аудио и его media type.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: empty text", ErrUnavailable)
	}
	buf, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, url.PathEscape(c.voiceID))

	resp, err := retry.Do(ctx, c.httpClient, c.policy, c.logger, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", defaultMediaType)
		req.Header.Set("xi-api-key", c.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: unexpected status %d: %s", ErrUnavailable, resp.StatusCode, string(resp.Body))
	}
	if len(resp.Body) == 0 {
		return nil, "", fmt.Errorf("%w: empty audio", ErrUnavailable)
	}

	mediaType := defaultMediaType
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "audio/") {
		mediaType = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	}
	return resp.Body, mediaType, nil
}

// DataURI синтезирует речь и возвращает её как data:<type>;base64,...
func (c *ElevenLabsClient) DataURI(ctx context.Context, text string) (string, error) {
	audio, mediaType, err := c.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(mediaType, audio), nil
}

// EncodeDataURI кодирует бинарные данные в data URI.
func EncodeDataURI(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
