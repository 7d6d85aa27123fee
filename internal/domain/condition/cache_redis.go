package condition

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedRepository is a read-through Redis cache in front of a
// ConditionRepository. Cache failures are logged and fall through to the
// underlying repository.
type CachedRepository struct {
	next   ConditionRepository
	client *backend.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

type CacheOption func(*CachedRepository)

// WithTTL sets the expiration of cached lookups.
func WithTTL(ttl time.Duration) CacheOption {
	return func(r *CachedRepository) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix of cached lookups.
func WithPrefix(prefix string) CacheOption {
	return func(r *CachedRepository) {
		r.prefix = prefix
	}
}

// NewCachedRepository wraps next with a cache stored in client.
func NewCachedRepository(next ConditionRepository, client *backend.Client, logger zerolog.Logger, opts ...CacheOption) *CachedRepository {
	r := &CachedRepository{
		next:   next,
		client: client,
		prefix: "refiner:condition:",
		ttl:    5 * time.Minute,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// triggerKey is independent of the order and multiplicity of codes.
func (r *CachedRepository) triggerKey(codes []string) string {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	uniq := sorted[:0]
	for i, c := range sorted {
		if i == 0 || c != sorted[i-1] {
			uniq = append(uniq, c)
		}
	}
	return r.prefix + "triggers:" + strings.Join(uniq, ",")
}

func (r *CachedRepository) idKey(id string) string {
	return r.prefix + "id:" + id
}

func (r *CachedRepository) load(ctx context.Context, key string, dst interface{}) bool {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, backend.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("condition cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(val, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		return false
	}
	return true
}

func (r *CachedRepository) store(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("condition cache write failed")
	}
}

func (r *CachedRepository) ByTriggerCodes(ctx context.Context, codes []string) ([]Condition, error) {
	key := r.triggerKey(codes)
	var cached []Condition
	if r.load(ctx, key, &cached) {
		return cached, nil
	}

	conds, err := r.next.ByTriggerCodes(ctx, codes)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, conds)
	return conds, nil
}

func (r *CachedRepository) GetByID(ctx context.Context, id string) (*Condition, error) {
	key := r.idKey(id)
	var cached Condition
	if r.load(ctx, key, &cached) {
		return &cached, nil
	}

	c, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, c)
	return c, nil
}

// List is not cached.
func (r *CachedRepository) List(ctx context.Context) ([]Condition, error) {
	return r.next.List(ctx)
}

// Invalidate drops every cached lookup under the repository's prefix.
func (r *CachedRepository) Invalidate(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}
