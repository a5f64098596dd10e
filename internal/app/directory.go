package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/cuz/ledger-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultDirectoryTimeout = 2 * time.Second

// UserDirectory resolves account owners for display. The store, the user service
// client and CachedUserDirectory all satisfy it.
type UserDirectory interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// holderResolver turns owner ids into display holders. Lookups share one deadline
// and any failure degrades to the Unknown placeholder.
type holderResolver struct {
	directory UserDirectory
	timeout   time.Duration
}

func (h holderResolver) resolve(ctx context.Context, userIDs ...uuid.UUID) map[uuid.UUID]domain.Holder {
	holders := make(map[uuid.UUID]domain.Holder, len(userIDs))
	if h.directory == nil {
		for _, id := range userIDs {
			holders[id] = domain.UnknownHolder
		}
		return holders
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = defaultDirectoryTimeout
	}
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	for _, id := range userIDs {
		if _, done := holders[id]; done {
			continue
		}
		user, err := h.directory.FindUserByID(lookupCtx, id)
		if err != nil {
			log.Printf("level=warn component=directory msg=\"holder lookup failed; using placeholder\" user_id=%s err=%v", id, err)
			holders[id] = domain.UnknownHolder
			continue
		}
		holders[id] = domain.HolderFromUser(user)
	}
	return holders
}

// userCache is the subset of a key/value store CachedUserDirectory needs.
type userCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

var errCacheMiss = errors.New("cache miss")

type redisUserCache struct {
	client redis.UniversalClient
}

func (c redisUserCache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", errCacheMiss
	}
	return value, err
}

func (c redisUserCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedUserDirectory is a read-through Redis cache in front of another directory.
type CachedUserDirectory struct {
	next   UserDirectory
	cache  userCache
	prefix string
	ttl    time.Duration
}

// NewCachedUserDirectory wraps next with a Redis cache. A nil client disables caching.
func NewCachedUserDirectory(next UserDirectory, client redis.UniversalClient, prefix string, ttl time.Duration) UserDirectory {
	if client == nil {
		return next
	}
	return newCachedUserDirectory(next, redisUserCache{client: client}, prefix, ttl)
}

func newCachedUserDirectory(next UserDirectory, cache userCache, prefix string, ttl time.Duration) *CachedUserDirectory {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger:user"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedUserDirectory{next: next, cache: cache, prefix: trimmedPrefix, ttl: ttl}
}

func (d *CachedUserDirectory) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	key := d.prefix + ":" + userID.String()

	raw, err := d.cache.Get(ctx, key)
	if err == nil {
		var user domain.User
		if jsonErr := json.Unmarshal([]byte(raw), &user); jsonErr == nil {
			return &user, nil
		}
	} else if !errors.Is(err, errCacheMiss) {
		log.Printf("level=warn component=directory_cache msg=\"cache read failed\" key=%s err=%v", key, err)
	}

	user, err := d.next.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(user); jsonErr == nil {
		if setErr := d.cache.Set(ctx, key, string(encoded), d.ttl); setErr != nil {
			log.Printf("level=warn component=directory_cache msg=\"cache write failed\" key=%s err=%v", key, setErr)
		}
	}
	return user, nil
}
