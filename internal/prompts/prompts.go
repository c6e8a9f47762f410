// Package prompts supplies the assistant's system prompt, optionally from a
// file that is reloaded when it changes on disk.
package prompts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You are a helpful assistant of a retail bank. Answer customer questions about the bank's cards, deposits, tariffs and services.

Rules:
- Before answering a question about bank products, call rag_search and base the answer only on the passages it returns. If nothing relevant is found, say so instead of guessing.
- Use currency_converter for any currency conversion.
- To open a credit card or a deposit, call open_credit_card or open_deposit with the parameters the customer gave. The customer will be asked to confirm; if they reject, acknowledge it and do not retry.
- Never reveal full card numbers or other personal data.
- Answer in the language of the customer's question. Be brief and precise.`

// Static is a fixed system prompt.
type Static string

// SystemPrompt returns the prompt.
func (s Static) SystemPrompt() string { return string(s) }

// FileSource serves a prompt read from disk. After Watch it follows edits to
// the file; a reload that fails or yields an empty prompt keeps the
// previous text.
type FileSource struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current string

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewFileSource reads path and returns a source serving its contents.
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("prompt path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{
		path:     abs,
		logger:   logger.With("component", "prompts", "path", abs),
		debounce: 200 * time.Millisecond,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SystemPrompt returns the current prompt.
func (s *FileSource) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Path returns the watched file.
func (s *FileSource) Path() string { return s.path }

// Reload re-reads the file.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("prompt file %s is empty", s.path)
	}
	s.mu.Lock()
	changed := s.current != text
	s.current = text
	s.mu.Unlock()
	if changed {
		s.logger.Info("system prompt loaded", "bytes", len(text))
	}
	return nil
}

// Watch starts following the file until ctx ends or Close is called. The
// parent directory is watched so editors that replace the file by rename
// are picked up.
func (s *FileSource) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch prompt directory: %w", err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	s.watcher = watcher
	s.cancel = cancel

	s.wg.Add(1)
	go s.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops watching.
func (s *FileSource) Close() error {
	s.watchMu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	watcher := s.watcher
	s.watcher = nil
	s.watchMu.Unlock()

	var err error
	if watcher != nil {
		err = watcher.Close()
	}
	s.wg.Wait()
	return err
}

func (s *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer s.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := s.Reload(); err != nil {
				s.logger.Warn("prompt reload failed, keeping previous prompt", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("prompt watch error", "error", err)
		}
	}
}
