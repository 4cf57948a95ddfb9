// Package redisstore stores upload slots in Redis. Slots live under their token
// with a TTL past their validity; a per-identifier key points at the live
// token and a sorted set indexes validity for sweeping.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DefaultRetention is how long a slot is kept after its validity ends, so
// that late uploads report an expired slot rather than an unknown one.
const DefaultRetention = time.Hour

// Config contains Redis connection settings
type Config struct {
	Addr      string
	DB        int
	Password  string
	Prefix    string
	Retention time.Duration
}

// Store implements simplemedia.SlotStore on Redis
type Store struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// New connects to Redis with cfg
func New(cfg Config, logger *slog.Logger) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return NewWithClient(rdb, cfg, logger)
}

// NewWithClient wraps an existing client; cfg.Addr, DB and Password are ignored
func NewWithClient(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "simplemedia:"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		rdb:       rdb,
		prefix:    prefix,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.logger.Error("Redis ping failed", "error", err)
		return err
	}
	return nil
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) slotKey(token string) string {
	return s.prefix + "slot:" + token
}

func (s *Store) liveKey(owner, identifier string) string {
	return s.prefix + "live:" + owner + "/" + identifier
}

func (s *Store) expiryKey() string {
	return s.prefix + "slots:valid_until"
}

func (s *Store) ttl(slot *simplemedia.UploadSlot) time.Duration {
	ttl := slot.ValidUntil.Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *Store) PutSlot(ctx context.Context, slot *simplemedia.UploadSlot) error {
	data, err := json.Marshal(slot)
	if err != nil {
		return fmt.Errorf("failed to encode slot: %w", err)
	}
	liveKey := s.liveKey(slot.Owner, slot.Identifier)

	txf := func(tx *redis.Tx) error {
		oldToken, err := tx.Get(ctx, liveKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		var tombstone []byte
		if oldToken != "" && oldToken != slot.Token {
			old, err := s.load(ctx, tx, oldToken)
			if err != nil && !errors.Is(err, simplemedia.ErrSlotNotFound) {
				return err
			}
			if old != nil {
				replacedAt := slot.CreatedAt
				old.ReplacedAt = &replacedAt
				if tombstone, err = json.Marshal(old); err != nil {
					return err
				}
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if tombstone != nil {
				pipe.SetArgs(ctx, s.slotKey(oldToken), tombstone, redis.SetArgs{KeepTTL: true})
			}
			pipe.Set(ctx, s.slotKey(slot.Token), data, s.ttl(slot))
			pipe.Set(ctx, liveKey, slot.Token, s.ttl(slot))
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(slot.ValidUntil.Unix()), Member: slot.Token})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err = s.rdb.Watch(ctx, txf, liveKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("failed to store slot: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, c redis.Cmdable, token string) (*simplemedia.UploadSlot, error) {
	data, err := c.Get(ctx, s.slotKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, simplemedia.ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	var slot simplemedia.UploadSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, fmt.Errorf("failed to decode slot %s: %w", token, err)
	}
	return &slot, nil
}

func (s *Store) GetSlot(ctx context.Context, token string) (*simplemedia.UploadSlot, error) {
	return s.load(ctx, s.rdb, token)
}

// deleteScript removes a slot and clears the live pointer only if it still
// points at the token.
var deleteScript = redis.NewScript(`
local removed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[3], ARGV[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
	redis.call("DEL", KEYS[2])
end
return removed
`)

func (s *Store) DeleteSlot(ctx context.Context, token string) error {
	slot, err := s.GetSlot(ctx, token)
	if err != nil {
		return err
	}
	return s.delete(ctx, slot)
}

func (s *Store) delete(ctx context.Context, slot *simplemedia.UploadSlot) error {
	keys := []string{s.slotKey(slot.Token), s.liveKey(slot.Owner, slot.Identifier), s.expiryKey()}
	removed, err := deleteScript.Run(ctx, s.rdb, keys, slot.Token).Int()
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if removed == 0 {
		return simplemedia.ErrSlotNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredSlots(ctx context.Context, before time.Time) (int64, error) {
	tokens, err := s.rdb.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list expired slots: %w", err)
	}

	var n int64
	for _, token := range tokens {
		slot, err := s.GetSlot(ctx, token)
		if errors.Is(err, simplemedia.ErrSlotNotFound) {
			// Already gone through its TTL.
			s.rdb.ZRem(ctx, s.expiryKey(), token)
			continue
		}
		if err != nil {
			return n, err
		}
		if err := s.delete(ctx, slot); err != nil && !errors.Is(err, simplemedia.ErrSlotNotFound) {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Debug("Expired slots removed", "count", n)
	}
	return n, nil
}

var _ simplemedia.SlotStore = (*Store)(nil)
