package simplemedia

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CacheConfig controls the derivative cache.
type CacheConfig struct {
	// StoreDerivatives persists computed derivatives to the blob store.
	StoreDerivatives bool
	// DevMode bypasses every cache tier and recomputes on each request.
	DevMode bool
	// HotEntries bounds the in-process LRU in front of the blob store; 0 disables it.
	HotEntries int
}

// DerivativeCache is a read-through cache of transformed renditions. Entries
// are never invalidated on content change: a new version number changes
// every key derived from it.
type DerivativeCache struct {
	store  BlobStore
	config CacheConfig
	hot    *lru.Cache[string, []byte]
	group  singleflight.Group
	logger *slog.Logger
}

// NewDerivativeCache creates a cache backed by store.
func NewDerivativeCache(store BlobStore, config CacheConfig, logger *slog.Logger) (*DerivativeCache, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &DerivativeCache{
		store:  store,
		config: config,
		logger: logger,
	}
	if config.HotEntries > 0 {
		hot, err := lru.New[string, []byte](config.HotEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to create hot cache: %w", err)
		}
		c.hot = hot
	}
	return c, nil
}

// DeriveKey returns the blob store key of the derivative of media at
// versionNumber rendered with t.
func (c *DerivativeCache) DeriveKey(media *Media, versionNumber int, t Transformations, originalExt string) string {
	// The media ID keeps keys of a deleted and re-created identifier apart.
	sum := sha256.Sum256([]byte(media.ID.String() + ":" + t.Canonical() + "@" + strconv.Itoa(versionNumber)))
	return media.DerivativesPrefix() + hex.EncodeToString(sum[:]) + "." + t.OutputExtension(media.Type, originalExt)
}

// Get returns the cached bytes for key, or ErrCacheMiss.
func (c *DerivativeCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.config.DevMode {
		return nil, ErrCacheMiss
	}
	if c.hot != nil {
		if data, ok := c.hot.Get(key); ok {
			return data, nil
		}
	}
	if !c.config.StoreDerivatives {
		return nil, ErrCacheMiss
	}

	rc, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &StorageError{Key: key, Op: "read", Err: err}
	}
	if c.hot != nil {
		c.hot.Add(key, data)
	}
	return data, nil
}

type computed struct {
	data []byte
	hit  bool
}

// GetOrCompute returns the cached bytes for key, calling compute on a miss.
// Concurrent misses for one key share a single compute call. A failed
// compute writes nothing. The boolean reports a cache hit.
func (c *DerivativeCache) GetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if c.config.DevMode {
		data, err := compute(ctx)
		return data, false, err
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, err := c.Get(ctx, key)
		if err == nil {
			return computed{data: data, hit: true}, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			return nil, err
		}

		data, err = compute(ctx)
		if err != nil {
			return nil, err
		}
		c.put(ctx, key, data)
		return computed{data: data}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(computed)
	return res.data, res.hit, nil
}

func (c *DerivativeCache) put(ctx context.Context, key string, data []byte) {
	if c.config.StoreDerivatives {
		if err := c.store.Put(ctx, key, bytes.NewReader(data), ""); err != nil {
			// The caller still gets a correct payload; the next miss recomputes.
			c.logger.Warn("Failed to persist derivative", "key", key, "error", err)
			return
		}
	}
	if c.hot != nil {
		c.hot.Add(key, data)
	}
}

// Forget drops hot entries under prefix. The blob store is left untouched.
func (c *DerivativeCache) Forget(prefix string) {
	if c.hot == nil {
		return
	}
	for _, key := range c.hot.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.hot.Remove(key)
		}
	}
}

// PurgeAll deletes every stored derivative of the given media types and
// drops their hot entries. Results are reported per type in the order given.
func (c *DerivativeCache) PurgeAll(ctx context.Context, types ...MediaType) []PurgeResult {
	results := make([]PurgeResult, len(types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range types {
		g.Go(func() error {
			n, err := c.store.DeleteDir(gctx, DerivativesTypePrefix(t))
			results[i] = PurgeResult{Type: t, Deleted: n, Success: err == nil}
			if err != nil {
				results[i].Message = err.Error()
				c.logger.Error("Failed to purge derivatives", "type", t, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range types {
		c.Forget(DerivativesTypePrefix(t))
	}
	return results
}
