package storage

import (
	"context"
	"strconv"
	"time"

	rds "LiveDesk/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 输入状态是自过期的临时态：key 带 TTL，到期即视为"没有在输入"，
// 不依赖客户端补发 stop 事件。不进持久转录。
//
// key: desk:typing:<session>:<user>  value: "1"  TTL: TypingTTL

const TypingTTL = 10 * time.Second

func typingKey(sessionID, userID int64) string {
	return "desk:typing:" + strconv.FormatInt(sessionID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// SetTyping 置位/清除输入状态。isTyping=false 直接删 key。
func SetTyping(ctx context.Context, sessionID, userID int64, isTyping bool) error {
	cli := rds.GetClient()
	if cli == nil {
		return errors.New("redis not initialized")
	}
	if isTyping {
		return cli.Set(ctx, typingKey(sessionID, userID), "1", TypingTTL).Err()
	}
	return cli.Del(ctx, typingKey(sessionID, userID)).Err()
}

// IsTyping 读输入状态；key 不存在（含已过期）即 false。
func IsTyping(ctx context.Context, sessionID, userID int64) (bool, error) {
	cli := rds.GetClient()
	if cli == nil {
		return false, errors.New("redis not initialized")
	}
	_, err := cli.Get(ctx, typingKey(sessionID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ===== 队列状态缓存 =====
// queue.status 是尽力而为的信息读，短 TTL 缓存避免高频扫表。

const queueStatsKey = "desk:queue:stats"
const queueStatsTTL = 5 * time.Second

func CacheQueueStats(ctx context.Context, payload []byte) {
	cli := rds.GetClient()
	if cli == nil {
		return
	}
	_ = cli.Set(ctx, queueStatsKey, payload, queueStatsTTL).Err()
}

func CachedQueueStats(ctx context.Context) []byte {
	cli := rds.GetClient()
	if cli == nil {
		return nil
	}
	val, err := cli.Get(ctx, queueStatsKey).Bytes()
	if err != nil {
		return nil
	}
	return val
}
