package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultRedisKeyPrefix = "llamachat:session:"
	DefaultRedisTTL       = 24 * time.Hour
)

// saveScript 仅在新版本大于已存储版本时写入.
var saveScript = redis.NewScript(`
	local key = KEYS[1]
	local data = ARGV[1]
	local newVersion = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current then
		local snap = cjson.decode(current)
		if snap.version >= newVersion then
			return -1
		end
	end

	redis.call('SET', key, data, 'EX', ARGV[3])
	return 1
`)

// RedisStore Redis 快照存储（热存储）
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore 创建 Redis 快照存储. keyPrefix 为空或 ttl 非正时使用默认值。
func NewRedisStore(rdb redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		rdb:       rdb,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "redis_session_store")),
	}
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ttlSeconds := int(s.ttl.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	result, err := saveScript.Run(ctx, s.rdb, []string{s.key(snap.ID)},
		data, snap.Version, ttlSeconds).Int()
	if err != nil {
		return fmt.Errorf("redis script: %w", err)
	}
	if result == -1 {
		return ErrVersionConflict
	}

	s.logger.Debug("snapshot saved",
		zap.String("session_id", snap.ID),
		zap.Int("version", snap.Version))
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
