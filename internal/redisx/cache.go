package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type StatusEntry struct {
	OrderID     string     `json:"order_id"`
	Status      string     `json:"status"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	// Version orders writes for one order; a lower version never replaces a
	// higher one. Derived from ProcessedAt when left zero.
	Version int64 `json:"version"`
}

// Entry builds the cache entry for an order state. Orders that were never
// processed get version 0, so any later transition outranks them.
func Entry(orderID, status string, processedAt *time.Time) StatusEntry {
	e := StatusEntry{OrderID: orderID, Status: status, ProcessedAt: processedAt}
	if processedAt != nil {
		e.Version = processedAt.UnixMicro()
	}
	return e
}

// Cache is the read-side helper over Redis. The database stays the source
// of truth; every miss falls back to it.
type Cache struct {
	RDB redis.Cmdable
}

// setIfNewer stores ARGV[1] unless the cached document carries a higher
// version than ARGV[2].
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and type(doc) == 'table' and doc.version and tonumber(doc.version) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// SetStatus writes e unless the cache already holds a newer state for the
// order. It reports whether e was stored.
func (c Cache) SetStatus(ctx context.Context, e StatusEntry) (bool, error) {
	if e.Version == 0 && e.ProcessedAt != nil {
		e.Version = e.ProcessedAt.UnixMicro()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	n, err := setIfNewer.Run(ctx, c.RDB, []string{fmt.Sprintf(KeyOrderStatus, e.OrderID)},
		b, e.Version, TTLStatusCache.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c Cache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, err
	}
	return e, true, nil
}

func (c Cache) DropStatus(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// FirstSeen marks an event as processed and reports whether this call was
// the first to do so.
func (c Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}

func (c Cache) RememberOrder(ctx context.Context, externalID, orderID string) error {
	return c.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

// OrderFor returns the order id recorded for an external id, if any.
func (c Cache) OrderFor(ctx context.Context, externalID string) (string, bool, error) {
	id, err := c.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c Cache) Publish(ctx context.Context, channel string, msg []byte) error {
	return c.RDB.Publish(ctx, channel, msg).Err()
}
