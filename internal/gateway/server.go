package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/teller/internal/channels"
	"github.com/haasonsaas/teller/internal/channels/telegram"
	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/media/transcribe"
	"github.com/haasonsaas/teller/internal/sessions"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Runtime *Runtime
	Logger  *slog.Logger

	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Adapters replaces the adapters built from the channels config.
	Adapters []channels.Adapter
}

// Server runs the chat adapters, the metrics endpoint, the prune job and
// the prompt watcher around one Runtime.
type Server struct {
	runtime  *Runtime
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	adapters []channels.Adapter
	pruner   *sessions.Pruner

	mu           sync.Mutex
	httpServer   *http.Server
	httpListener net.Listener
	started      bool
}

// NewServer builds the enabled adapters and the prune job.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runtime == nil {
		return nil, errors.New("runtime is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		runtime:  cfg.Runtime,
		logger:   logger.With("component", "gateway"),
		gatherer: gatherer,
		adapters: cfg.Adapters,
	}
	appCfg := cfg.Runtime.Config

	if s.adapters == nil && appCfg.Channels.Telegram.Enabled {
		tgCfg, err := telegramConfig(appCfg.Channels.Telegram, cfg.Runtime, logger)
		if err != nil {
			return nil, err
		}
		adapter, err := telegram.NewAdapter(tgCfg, cfg.Runtime.Engine, cfg.Runtime.Metrics)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		s.adapters = append(s.adapters, adapter)
	}

	if appCfg.Session.Prune.Enabled {
		pruner, err := sessions.NewPruner(cfg.Runtime.Backend.Store, sessions.PrunerConfig{
			Schedule:  appCfg.Session.Prune.Schedule,
			Retention: appCfg.Session.Prune.Retention,
		}, logger, cfg.Runtime.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prune job: %w", err)
		}
		s.pruner = pruner
	}
	return s, nil
}

// telegramConfig adds the corpus and the voice transcriber to the adapter
// settings read from the file.
func telegramConfig(tg config.TelegramConfig, rt *Runtime, logger *slog.Logger) (telegram.Config, error) {
	out := telegram.ConfigFrom(tg, logger)
	if rt.Library != nil {
		out.Corpus = rt.Library
	}
	if tg.Voice.Enabled {
		transcriber, err := transcribe.NewOpenAITranscriber(transcribe.OpenAIConfig{
			APIKey:   tg.Voice.APIKey,
			BaseURL:  tg.Voice.BaseURL,
			Model:    tg.Voice.Model,
			Language: tg.Voice.Language,
			Timeout:  tg.TurnTimeout,
			Logger:   logger,
		})
		if err != nil {
			return telegram.Config{}, fmt.Errorf("voice transcriber: %w", err)
		}
		out.Transcriber = transcriber
	}
	return out, nil
}

// Adapters returns the adapters the server runs.
func (s *Server) Adapters() []channels.Adapter {
	return s.adapters
}

// Start launches every component. A failing adapter stops the ones
// already started.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already started")
	}

	if err := s.startHTTPServer(); err != nil {
		return err
	}

	if src := s.runtime.Prompts; src != nil {
		if err := src.Watch(ctx); err != nil {
			s.logger.Warn("system prompt hot reload disabled", "path", src.Path(), "error", err)
		}
	}

	for i, adapter := range s.adapters {
		if err := adapter.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			for _, started := range s.adapters[:i] {
				_ = started.Stop(stopCtx)
			}
			cancel()
			s.stopHTTPServer(context.Background())
			return fmt.Errorf("start %s adapter: %w", adapter.Name(), err)
		}
		s.logger.Info("channel adapter started", "channel", adapter.Name())
	}

	if s.pruner != nil {
		s.pruner.Start()
	}
	if len(s.adapters) == 0 {
		s.logger.Warn("no channel adapters enabled")
	}
	s.started = true
	return nil
}

// Stop shuts components down in reverse order of Start. The Runtime is
// left open for the caller to close.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	var errs []error
	if s.pruner != nil {
		s.pruner.Stop(ctx)
	}
	for _, adapter := range s.adapters {
		if err := adapter.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s adapter: %w", adapter.Name(), err))
		}
	}
	if s.runtime.Prompts != nil {
		if err := s.runtime.Prompts.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stopHTTPServer(ctx)
	return errors.Join(errs...)
}
