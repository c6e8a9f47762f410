package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoCorpus is returned by Reload when no corpus path is configured.
var ErrNoCorpus = errors.New("rag: no corpus configured")

// LibraryStatus describes the index currently served.
type LibraryStatus struct {
	Configured bool
	Passages   int
	LoadedAt   time.Time
}

// Library serves searches from the most recently loaded index. Reload
// builds a new index off to the side and swaps it in, so searches never
// see a partial corpus.
type Library struct {
	config CorpusConfig
	logger *slog.Logger

	current  atomic.Pointer[Index]
	loadedAt atomic.Int64

	reloadMu sync.Mutex
}

// NewLibrary creates an empty library for cfg. Call Reload to load it.
func NewLibrary(cfg CorpusConfig, logger *slog.Logger) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{config: cfg, logger: logger}
}

// Configured reports whether a corpus path is set.
func (l *Library) Configured() bool {
	return strings.TrimSpace(l.config.Path) != ""
}

// Reload reads the corpus again and replaces the served index. On error the
// previous index stays in place. Concurrent calls run one at a time.
func (l *Library) Reload(ctx context.Context) (int, error) {
	if !l.Configured() {
		return 0, ErrNoCorpus
	}
	l.reloadMu.Lock()
	defer l.reloadMu.Unlock()

	docs, err := LoadCorpus(ctx, l.config, l.logger)
	if err != nil {
		return 0, err
	}
	index := NewIndex(docs)
	l.current.Store(index)
	l.loadedAt.Store(time.Now().UnixNano())
	return index.Len(), nil
}

// Search implements the document search over the current index.
func (l *Library) Search(query string, limit int) []Result {
	return l.current.Load().Search(query, limit)
}

// Len returns the passage count of the current index.
func (l *Library) Len() int {
	if index := l.current.Load(); index != nil {
		return index.Len()
	}
	return 0
}

// Status reports what the library currently serves.
func (l *Library) Status() LibraryStatus {
	status := LibraryStatus{Configured: l.Configured(), Passages: l.Len()}
	if nanos := l.loadedAt.Load(); nanos != 0 {
		status.LoadedAt = time.Unix(0, nanos)
	}
	return status
}
