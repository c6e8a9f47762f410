package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/teller/pkg/models"
)

const defaultRedisPrefix = "teller"

// RedisStore implements Store on Redis. Each conversation is a list of
// encoded MessageRecords plus an optional interrupt key; a sorted set indexes
// conversations by last update for Prune.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps a Redis client. An empty prefix uses "teller".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedisStore(client, prefix), nil
}

// Client exposes the underlying client for the locker.
func (s *RedisStore) Client() redis.UniversalClient {
	return s.client
}

func (s *RedisStore) messagesKey(id string) string  { return s.prefix + ":conv:" + id + ":messages" }
func (s *RedisStore) interruptKey(id string) string { return s.prefix + ":conv:" + id + ":interrupt" }
func (s *RedisStore) indexKey() string              { return s.prefix + ":conversations" }

func (s *RedisStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	score, err := s.client.ZScore(ctx, s.indexKey(), conversationID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	conv := &models.Conversation{
		ID:        conversationID,
		Messages:  make([]models.Message, 0, len(raw)),
		UpdatedAt: time.UnixMilli(int64(score)),
	}
	for _, item := range raw {
		var rec models.MessageRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		msg, err := models.DecodeMessage(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to decode message %s: %w", rec.ID, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

func (s *RedisStore) encode(msgs []models.Message) ([]any, error) {
	now := s.now()
	out := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		rec, err := models.EncodeMessage(msg)
		if err != nil {
			return nil, err
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		out = append(out, string(data))
	}
	return out, nil
}

func (s *RedisStore) appendPipe(ctx context.Context, pipe redis.Pipeliner, conversationID string, encoded []any) {
	if len(encoded) > 0 {
		pipe.RPush(ctx, s.messagesKey(conversationID), encoded...)
	}
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(s.now().UnixMilli()), Member: conversationID})
}

func (s *RedisStore) Append(ctx context.Context, conversationID string, msgs ...models.Message) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	encoded, err := s.encode(msgs)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.appendPipe(ctx, pipe, conversationID, encoded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append messages: %w", err)
	}
	return nil
}

func (s *RedisStore) GetInterrupt(ctx context.Context, conversationID string) (*models.Interrupt, error) {
	data, err := s.client.Get(ctx, s.interruptKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interrupt: %w", err)
	}
	var interrupt models.Interrupt
	if err := json.Unmarshal(data, &interrupt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal interrupt: %w", err)
	}
	return &interrupt, nil
}

func (s *RedisStore) SetInterrupt(ctx context.Context, interrupt *models.Interrupt) error {
	if interrupt == nil || interrupt.ID == "" || interrupt.ConversationID == "" {
		return errors.New("interrupt id and conversation id are required")
	}
	data, err := json.Marshal(interrupt)
	if err != nil {
		return fmt.Errorf("failed to marshal interrupt: %w", err)
	}
	keys := []string{s.interruptKey(interrupt.ConversationID), s.indexKey()}
	stored, err := setInterruptScript.Run(ctx, s.client, keys,
		data, s.now().UnixMilli(), interrupt.ConversationID).Int()
	if err != nil {
		return fmt.Errorf("failed to store interrupt: %w", err)
	}
	if stored == 0 {
		return ErrInterruptPending
	}
	return nil
}

func (s *RedisStore) ClearInterrupt(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.interruptKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to clear interrupt: %w", err)
	}
	return nil
}

func (s *RedisStore) ResolveInterrupt(ctx context.Context, conversationID, interruptID string, msgs ...models.Message) error {
	encoded, err := s.encode(msgs)
	if err != nil {
		return err
	}
	key := s.interruptKey(conversationID)

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current models.Interrupt
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to unmarshal interrupt: %w", err)
		}
		if current.ID != interruptID {
			return ErrInterruptMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			s.appendPipe(ctx, pipe, conversationID, encoded)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrInterruptMismatch
	}
	return err
}

func (s *RedisStore) Reset(ctx context.Context, conversationID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.messagesKey(conversationID), s.interruptKey(conversationID))
		pipe.ZRem(ctx, s.indexKey(), conversationID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset conversation: %w", err)
	}
	return nil
}

func (s *RedisStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list stale conversations: %w", err)
	}

	var removed int64
	for _, id := range ids {
		exists, err := s.client.Exists(ctx, s.interruptKey(id)).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to check interrupt: %w", err)
		}
		if exists > 0 {
			continue
		}
		if err := s.Reset(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// setInterruptScript stores the interrupt only if none is pending and
// indexes the conversation in the same step.
var setInterruptScript = redis.NewScript(`
if redis.call("setnx", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("zadd", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a Locker backed by SET NX leases, for deployments that share
// a Redis store across processes. A held lease is extended every quarter TTL
// until Unlock, so turns may outlive the TTL.
type RedisLocker struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	refresh      time.Duration
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	leases map[string]*redisLease
	closed bool
}

type redisLease struct {
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisLocker creates a lease locker. Zero durations select defaults
// matching DefaultDBLockerConfig. logger may be nil.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl, timeout time.Duration, logger *slog.Logger) *RedisLocker {
	defaults := DefaultDBLockerConfig()
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = defaults.TTL
	}
	if timeout <= 0 {
		timeout = defaults.AcquireTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		refresh:      ttl / 4,
		pollInterval: defaults.PollInterval,
		timeout:      timeout,
		logger:       logger.With("component", "redis-locker"),
		leases:       make(map[string]*redisLease),
	}
}

func (l *RedisLocker) key(id string) string { return l.prefix + ":lock:" + id }

// Lock acquires the lease or returns ErrLockTimeout or ctx.Err().
func (l *RedisLocker) Lock(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation id is required")
	}
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, l.key(conversationID), token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			l.hold(conversationID, token)
			return nil
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// Unlock stops renewing and releases the lease if this locker still holds
// it.
func (l *RedisLocker) Unlock(conversationID string) {
	l.mu.Lock()
	lease, ok := l.leases[conversationID]
	delete(l.leases, conversationID)
	l.mu.Unlock()
	if !ok {
		return
	}
	lease.cancel()
	<-lease.done

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{l.key(conversationID)}, lease.token).Err(); err != nil {
		l.logger.Warn("failed to release lock; it expires with its ttl",
			"conversation_id", conversationID, "ttl", l.ttl, "error", err)
	}
}

// Close stops every renewal. Held leases then expire with their TTL.
func (l *RedisLocker) Close() error {
	l.mu.Lock()
	l.closed = true
	leases := l.leases
	l.leases = make(map[string]*redisLease)
	l.mu.Unlock()
	for _, lease := range leases {
		lease.cancel()
		<-lease.done
	}
	return nil
}

func (l *RedisLocker) hold(conversationID, token string) {
	ctx, cancel := context.WithCancel(context.Background())
	lease := &redisLease{token: token, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.leases[conversationID] = lease
	if l.closed {
		// Released by Unlock or the TTL, never renewed.
		cancel()
		close(lease.done)
		return
	}
	go l.renewLoop(ctx, conversationID, lease)
}

func (l *RedisLocker) renewLoop(ctx context.Context, conversationID string, lease *redisLease) {
	defer close(lease.done)
	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := renewScript.Run(ctx, l.client, []string{l.key(conversationID)},
				lease.token, l.ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Warn("failed to renew lock", "conversation_id", conversationID, "error", err)
				continue
			}
			if extended == 0 {
				l.logger.Error("lock lost before unlock", "conversation_id", conversationID)
				return
			}
		}
	}
}
