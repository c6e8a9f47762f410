package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a lock times out.
var ErrLockTimeout = errors.New("session: lock acquisition timeout")

// Locker serializes turns on one conversation. Lock blocks until the lock is
// held, the context is done, or the implementation gives up.
type Locker interface {
	Lock(ctx context.Context, conversationID string) error
	Unlock(conversationID string)
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process Locker. Idle entries are dropped once no
// goroutine holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock acquires the conversation lock or returns ctx.Err().
func (l *LocalLocker) Lock(ctx context.Context, conversationID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}
	l.mu.Lock()
	lock := l.locks[conversationID]
	if lock == nil {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[conversationID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(conversationID, lock)
		return ctx.Err()
	}
}

// Unlock releases the conversation lock. Unlocking a lock that is not held
// is a no-op.
func (l *LocalLocker) Unlock(conversationID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	lock := l.locks[conversationID]
	l.mu.Unlock()
	if lock == nil {
		return
	}
	select {
	case <-lock.ch:
		l.release(conversationID, lock)
	default:
	}
}

func (l *LocalLocker) release(conversationID string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs <= 0 && l.locks[conversationID] == lock {
		delete(l.locks, conversationID)
	}
}

// DBLockerConfig configures the DB-backed conversation lock.
type DBLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	AcquireTimeout  time.Duration
	PollInterval    time.Duration
}

// DefaultDBLockerConfig returns default settings for DBLocker.
func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  30 * time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

// DBLocker implements a lease lock in the conversation_locks table, so
// several processes sharing one PostgreSQL database serialize turns.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

// NewDBLocker creates a new DB-backed conversation locker.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}

	return &DBLocker{
		db:     db,
		config: cfg,
		renew:  make(map[string]context.CancelFunc),
	}, nil
}

// Lock acquires the lease, polling until AcquireTimeout, and keeps it
// renewed until Unlock.
func (l *DBLocker) Lock(ctx context.Context, conversationID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation id is required")
	}

	deadline := time.Now().Add(l.config.AcquireTimeout)
	for {
		ok, err := l.tryAcquire(ctx, conversationID)
		if err != nil {
			return err
		}
		if ok {
			l.startRenew(conversationID)
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock releases the lease. A failed delete leaves the lease to expire.
func (l *DBLocker) Unlock(conversationID string) {
	if l == nil {
		return
	}
	l.stopRenew(conversationID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = l.db.ExecContext(ctx, `
		DELETE FROM conversation_locks
		WHERE conversation_id = $1 AND owner_id = $2
	`, conversationID, l.config.OwnerID)
}

// Close stops all renew loops.
func (l *DBLocker) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *DBLocker) tryAcquire(ctx context.Context, conversationID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.config.TTL)
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO conversation_locks (conversation_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE conversation_locks.expires_at < $3
		RETURNING owner_id
	`, conversationID, l.config.OwnerID, now, expiresAt).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *DBLocker) startRenew(conversationID string) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	if _, ok := l.renew[conversationID]; ok {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[conversationID] = cancel
	l.mu.Unlock()

	go l.renewLoop(ctx, conversationID)
}

func (l *DBLocker) stopRenew(conversationID string) {
	l.mu.Lock()
	cancel, ok := l.renew[conversationID]
	if ok {
		delete(l.renew, conversationID)
	}
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, conversationID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, conversationID) {
				l.stopRenew(conversationID)
				return
			}
		}
	}
}

func (l *DBLocker) extendLease(ctx context.Context, conversationID string) bool {
	expiresAt := time.Now().Add(l.config.TTL)
	result, err := l.db.ExecContext(ctx, `
		UPDATE conversation_locks
		SET expires_at = $1
		WHERE conversation_id = $2 AND owner_id = $3
	`, expiresAt, conversationID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rows > 0
}
