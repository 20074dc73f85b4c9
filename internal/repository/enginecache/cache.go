package enginecache

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/db"
	"github.com/kailas-cloud/datasentinel/internal/engine"
)

// KeyPrefix namespaces compiled plans in the shared store.
const KeyPrefix = "datasentinel:engine:"

// Stored values are an envelope: magic, plan length, xxhash64 of the plan, plan.
var envelopeMagic = []byte("DSP1")

const envelopeHeader = 4 + 8 + 8

var errCorruptEntry = errors.New("corrupt cached engine")

var _ engine.RemoteCache = (*Cache)(nil)

// store is the consumer interface for the plan cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache shares compiled plans between hosts with the same build target.
// Every failure degrades to a miss: the caller builds locally.
type Cache struct {
	store  store
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a plan cache. ttl <= 0 stores plans without expiry.
func New(s store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{store: s, ttl: ttl, logger: logger}
}

// Fetch returns the plan stored for target and fingerprint, if any.
func (c *Cache) Fetch(ctx context.Context, target, fingerprint string) ([]byte, bool) {
	key := cacheKey(target, fingerprint)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached engine", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	plan, err := unwrap(data)
	if err != nil {
		c.logger.Warn("Discarding cached engine", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return plan, true
}

// Publish stores plan for target and fingerprint. Errors are logged and dropped.
func (c *Cache) Publish(ctx context.Context, target, fingerprint string, plan []byte) {
	key := cacheKey(target, fingerprint)
	value := wrap(plan)

	var err error
	if c.ttl > 0 {
		err = c.store.SetWithTTL(ctx, key, value, c.ttl)
	} else {
		err = c.store.Set(ctx, key, value)
	}
	if err != nil {
		c.logger.Warn("Failed to cache engine", zap.String("key", key), zap.Error(err))
		return
	}
	c.logger.Debug("Engine published to remote cache", zap.String("key", key), zap.Int("bytes", len(plan)))
}

func cacheKey(target, fingerprint string) string {
	return KeyPrefix + target + ":" + fingerprint
}

func wrap(plan []byte) []byte {
	out := make([]byte, envelopeHeader, envelopeHeader+len(plan))
	copy(out, envelopeMagic)
	binary.BigEndian.PutUint64(out[4:12], uint64(len(plan)))
	binary.BigEndian.PutUint64(out[12:20], xxhash.Sum64(plan))
	return append(out, plan...)
}

func unwrap(data []byte) ([]byte, error) {
	if len(data) < envelopeHeader || !bytes.Equal(data[:4], envelopeMagic) {
		return nil, fmt.Errorf("%w: missing header", errCorruptEntry)
	}
	plan := data[envelopeHeader:]
	if n := binary.BigEndian.Uint64(data[4:12]); n != uint64(len(plan)) {
		return nil, fmt.Errorf("%w: length %d, header says %d", errCorruptEntry, len(plan), n)
	}
	if sum := binary.BigEndian.Uint64(data[12:20]); sum != xxhash.Sum64(plan) {
		return nil, fmt.Errorf("%w: checksum mismatch", errCorruptEntry)
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: empty plan", errCorruptEntry)
	}
	return plan, nil
}
