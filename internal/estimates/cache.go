package estimates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionPrefix = "estimates:version"
	cacheDocPrefix     = "estimates:doc"
	bumpChannel        = "estimates.bump"
	// sharedLoadTimeout bounds a load shared by several callers, since it no longer
	// follows any single caller's context.
	sharedLoadTimeout = 10 * time.Second
)

// Cache keeps serialised documents in Redis. Every document has its own version counter;
// bumping it orphans the cached payload, which then expires through the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current version of a document, initialising it when missing.
func (c *Cache) Version(ctx context.Context, id string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(id)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the payload key for the document's current version.
func (c *Cache) BuildKey(ctx context.Context, id string) (string, error) {
	if c == nil || c.client == nil {
		return strings.Join([]string{cacheDocPrefix, id}, ":"), nil
	}
	ver, err := c.Version(ctx, id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d", cacheDocPrefix, id, ver), nil
}

// FetchDocument loads a document from the cache or through loader. Concurrent misses for
// the same key share a single load; a caller that gives up does not cancel it for the
// others.
func (c *Cache) FetchDocument(ctx context.Context, id string, loader func(context.Context) (Document, error)) (Document, error) {
	if loader == nil {
		return Document{}, errors.New("estimates: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.BuildKey(ctx, id)
	if err != nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var doc Document
		if err := json.Unmarshal(payload, &doc); err == nil {
			return doc, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Document{}, err
	}

	resultCh := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		doc, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(loadCtx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return doc, nil
	})
	select {
	case <-ctx.Done():
		return Document{}, ctx.Err()
	case res := <-resultCh:
		if res.Err != nil {
			return Document{}, res.Err
		}
		return res.Val.(Document).Clone(), nil
	}
}

// Bump invalidates a document by incrementing its version and announcing the change.
func (c *Cache) Bump(ctx context.Context, id string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(id)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, fmt.Sprintf("%s:%d", id, ver)).Err()
}

// ListenForInvalidation applies version bumps published by other instances. It returns
// immediately; the subscription ends with ctx.
func (c *Cache) ListenForInvalidation(ctx context.Context, onBump func(id string)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				idx := strings.LastIndexByte(msg.Payload, ':')
				if idx <= 0 {
					continue
				}
				if onBump != nil {
					onBump(msg.Payload[:idx])
				}
			}
		}
	}()
	return nil
}

func versionKey(id string) string {
	return strings.Join([]string{cacheVersionPrefix, id}, ":")
}
