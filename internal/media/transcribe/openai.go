package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the Whisper transcriber.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string

	// Model defaults to whisper-1.
	Model string
	// Language is used when a call passes none.
	Language string

	// Timeout bounds one transcription (default 60s).
	Timeout time.Duration

	Logger *slog.Logger
}

// audioClient is the part of the go-openai client the transcriber uses.
type audioClient interface {
	CreateTranscription(ctx context.Context, request openai.AudioRequest) (openai.AudioResponse, error)
}

// OpenAITranscriber transcribes audio with the OpenAI audio API.
type OpenAITranscriber struct {
	client   audioClient
	model    string
	language string
	timeout  time.Duration
	logger   *slog.Logger
}

var _ Transcriber = (*OpenAITranscriber)(nil)

// NewOpenAITranscriber creates a Whisper transcriber.
func NewOpenAITranscriber(cfg OpenAIConfig) (*OpenAITranscriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}
	return newOpenAITranscriber(openai.NewClientWithConfig(clientConfig), cfg), nil
}

func newOpenAITranscriber(client audioClient, cfg OpenAIConfig) *OpenAITranscriber {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAITranscriber{
		client:   client,
		model:    cfg.Model,
		language: cfg.Language,
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "openai-transcriber"),
	}
}

// Transcribe reads at most MaxAudioBytes of audio and returns the trimmed
// transcript.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio io.Reader, filename, language string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(audio, MaxAudioBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read audio data: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("audio data is empty")
	}
	if len(data) > MaxAudioBytes {
		return "", fmt.Errorf("audio data too large (%d bytes)", len(data))
	}
	if language == "" {
		language = t.language
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Language: language,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	t.logger.Debug("transcription complete",
		"size_bytes", len(data),
		"language", language,
		"text_length", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return text, nil
}
