package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/aretw0/blueprint/pkg/domain"
	"github.com/jonboulle/clockwork"
	backend "github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "blueprint:session:"

	// farFuture is the index score of records without a TTL (2100-01-01).
	farFuture = 4102444800
)

// Store implements ports.RecordStore using Redis. It is the remote store.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	clock  clockwork.Clock
}

type Option func(*Store)

// WithTTL sets the expiration for sessions.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock sets the clock used to score the session index.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save stores the record and indexes the session in a sorted set scored by expiry.
func (s *Store) Save(ctx context.Context, sessionID string, record []byte) error {
	score := float64(farFuture)
	if s.ttl > 0 {
		score = float64(s.clock.Now().Add(s.ttl).Unix())
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(sessionID), record, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(fmt.Errorf("failed to save to redis: %w", err))
	}
	return nil
}

// Load retrieves the raw record.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, classify(fmt.Errorf("failed to get from redis: %w", err))
	}
	return val, nil
}

// Delete removes the record and its index entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(fmt.Errorf("failed to delete from redis: %w", err))
	}
	return nil
}

// List returns indexed sessions, pruning entries whose TTL has passed.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(s.clock.Now().Unix())
	if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, classify(fmt.Errorf("failed to prune expired sessions: %w", err))
	}

	sessions, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list sessions: %w", err))
	}
	return sessions, nil
}

// Ping checks connectivity; the persistence coordinator uses it before draining.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.client.Ping(ctx).Err())
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// classify maps Redis failures onto the domain's permanent/transient taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isAuthError(err) {
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, backend.ErrClosed) || errors.Is(err, io.EOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return err
}

func isAuthError(err error) bool {
	var redisErr backend.Error
	if !errors.As(err, &redisErr) {
		return false
	}
	msg := redisErr.Error()
	for _, prefix := range []string{"NOAUTH", "NOPERM", "WRONGPASS"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
