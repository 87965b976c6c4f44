package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/namelens/domaincheck/internal/core"
)

const (
	defaultRedisPrefix = "domaincheck:state:"
	fieldPayload       = "payload"
	fieldHMAC          = "hmac"
	maxWatchRetries    = 32
)

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisStore keeps one hash per domain holding the signed payload.
type RedisStore struct {
	client *redis.Client
	signer *Signer
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore returns a Redis-backed store. The client lifecycle is
// managed by the caller.
func NewRedisStore(client *redis.Client, secret string, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	signer, err := NewSigner(secret)
	if err != nil {
		return nil, err
	}
	store := &RedisStore{client: client, signer: signer, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Get returns the state for domain, or nil if none is stored.
func (s *RedisStore) Get(ctx context.Context, domain string) (*core.DomainState, error) {
	return s.read(ctx, s.client, s.key(domain))
}

// Record merges result into the stored state. Concurrent writers are
// serialized with WATCH.
func (s *RedisStore) Record(ctx context.Context, result core.CheckResult) (core.DomainState, error) {
	key := s.key(result.Domain)
	var next core.DomainState

	update := func(tx *redis.Tx) error {
		previous, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		next = core.NextDomainState(previous, result)
		return s.write(ctx, tx, key, next)
	}

	if err := s.watch(ctx, key, update); err != nil {
		return core.DomainState{}, err
	}
	return next, nil
}

// MarkNotified stamps the last notification time for domain.
func (s *RedisStore) MarkNotified(ctx context.Context, domain string, at time.Time) error {
	key := s.key(domain)
	return s.watch(ctx, key, func(tx *redis.Tx) error {
		st, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if st == nil {
			return ErrNotFound
		}
		stamp := at.UTC()
		st.LastNotified = &stamp
		return s.write(ctx, tx, key, *st)
	})
}

// Domains lists stored domains in sorted order.
func (s *RedisStore) Domains(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan redis state keys: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op; the client lifecycle is managed externally.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) watch(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis state update for %s: %w", key, redis.TxFailedErr)
}

func (s *RedisStore) read(ctx context.Context, cmd hashReader, key string) (*core.DomainState, error) {
	values, err := cmd.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis state: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return s.signer.OpenDomain([]byte(values[fieldPayload]), values[fieldHMAC])
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, key string, st core.DomainState) error {
	payload, mac, err := s.signer.SealDomain(st)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldPayload, string(payload), fieldHMAC, mac)
		return nil
	})
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("write redis state: %w", err)
	}
	return err
}

func (s *RedisStore) key(domain string) string {
	return s.prefix + normalizeDomain(domain)
}
