package buffer

import (
	"context"
	"fmt"

	redisprovider "chatbuffer/internal/providers/redis"

	"github.com/redis/go-redis/v9"
)

// setAtScript overwrites a list slot only while it still holds the expected id.
// Returns 1 on write, 0 on id mismatch, -1 when the index is out of range.
var setAtScript = redis.NewScript(`
local cur = redis.call('LINDEX', KEYS[1], ARGV[1])
if not cur then
	return -1
end
local ok, obj = pcall(cjson.decode, cur)
if not ok or type(obj) ~= 'table' or obj['id'] ~= ARGV[2] then
	return 0
end
redis.call('LSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

// RedisBuffer stores entries as JSON strings in a single Redis list.
type RedisBuffer struct {
	redisP *redisprovider.RedisProvider
	key    string
}

func NewRedisBuffer(redisP *redisprovider.RedisProvider, key string) *RedisBuffer {
	return &RedisBuffer{redisP: redisP, key: key}
}

func (b *RedisBuffer) Push(ctx context.Context, e Entry) (int64, error) {
	raw, err := encodeEntry(e)
	if err != nil {
		return 0, fmt.Errorf("failed to encode buffer entry: %w", err)
	}
	n, err := b.redisP.LPush(ctx, b.key, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to push buffer entry: %w", err)
	}
	return n, nil
}

func (b *RedisBuffer) Len(ctx context.Context) (int64, error) {
	n, err := b.redisP.LLen(ctx, b.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read buffer length: %w", err)
	}
	return n, nil
}

func (b *RedisBuffer) Range(ctx context.Context, start, stop int64) ([]Entry, error) {
	items, err := b.redisP.LRange(ctx, b.key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buffer range: %w", err)
	}
	out := make([]Entry, 0, len(items))
	for i, raw := range items {
		e, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode buffer entry %d: %w", start+int64(i), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *RedisBuffer) Trim(ctx context.Context, start, stop int64) error {
	if err := b.redisP.LTrim(ctx, b.key, start, stop).Err(); err != nil {
		return fmt.Errorf("failed to trim buffer: %w", err)
	}
	return nil
}

func (b *RedisBuffer) SetAt(ctx context.Context, index int64, expectedID string, e Entry) error {
	raw, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("failed to encode buffer entry: %w", err)
	}
	res, err := b.redisP.Run(ctx, setAtScript, []string{b.key}, index, expectedID, raw).Int64()
	if err != nil {
		return fmt.Errorf("failed to set buffer entry: %w", err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrIndexMismatch
	default:
		return ErrIndexOutOfRange
	}
}
