package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"sealdrop/internal/model"
)

// RedisLedger keys the store per recipient: a sorted set scored by
// ServerTimestamp carries delivery order, a hash carries envelope bodies,
// and a plain SETNX key per (sender, clientMessageId) is the idempotence
// boundary. Dedupe keys expire on their own after the retention window, so
// acknowledgement never reopens the idempotence window.
//
// Sorted-set members and hash fields are (sender, clientMessageId) pairs,
// not bare ids: two senders may legitimately reuse one clientMessageId
// toward the same recipient and both envelopes must stay pending.
type RedisLedger struct {
	rdb       redis.UniversalClient
	retention time.Duration
}

func NewRedisLedger(rdb redis.UniversalClient, retention time.Duration) *RedisLedger {
	return &RedisLedger{rdb: rdb, retention: retention}
}

func pendingKey(recipientUID string) string { return "pending:" + recipientUID }
func bodiesKey(recipientUID string) string  { return "mailbox:" + recipientUID }

func redisDedupeKey(senderUID, clientMessageID string) string {
	return "dedupe:" + senderUID + ":" + clientMessageID
}

func pendingMember(senderUID, clientMessageID string) string {
	return senderUID + "\x00" + clientMessageID
}

func memberMessageID(member string) string {
	if i := strings.IndexByte(member, 0); i >= 0 {
		return member[i+1:]
	}
	return member
}

const recipientsKey = "recipients"

func (l *RedisLedger) Append(ctx context.Context, env model.Envelope) error {
	if env.ClientMessageID == "" || env.SenderUID == "" || env.RecipientUID == "" {
		return errors.New("incomplete envelope")
	}

	ok, err := l.rdb.SetNX(ctx, redisDedupeKey(env.SenderUID, env.ClientMessageID), "1", l.retention).Result()
	if err != nil {
		return fmt.Errorf("dedupe check: %w", err)
	}
	if !ok {
		return ErrDuplicate
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	member := pendingMember(env.SenderUID, env.ClientMessageID)
	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, pendingKey(env.RecipientUID), redis.Z{
		Score:  float64(env.ServerTimestamp),
		Member: member,
	})
	pipe.HSet(ctx, bodiesKey(env.RecipientUID), member, body)
	pipe.SAdd(ctx, recipientsKey, env.RecipientUID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	return nil
}

func (l *RedisLedger) PendingFor(ctx context.Context, recipientUID string) ([]model.Envelope, error) {
	members, err := l.rdb.ZRange(ctx, pendingKey(recipientUID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending index: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	bodies, err := l.rdb.HMGet(ctx, bodiesKey(recipientUID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending bodies: %w", err)
	}

	out := make([]model.Envelope, 0, len(bodies))
	for _, raw := range bodies {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var env model.Envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		out = append(out, env)
	}
	return out, nil
}

// Acknowledge purges by clientMessageId within the recipient's mailbox. The
// id may match members from several senders; all of them are acknowledged.
func (l *RedisLedger) Acknowledge(ctx context.Context, recipientUID string, clientMessageIDs []string) (int, error) {
	if len(clientMessageIDs) == 0 {
		return 0, nil
	}
	wanted := make(map[string]struct{}, len(clientMessageIDs))
	for _, id := range clientMessageIDs {
		wanted[id] = struct{}{}
	}

	all, err := l.rdb.ZRange(ctx, pendingKey(recipientUID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("acknowledge scan: %w", err)
	}

	var matched []interface{}
	var fields []string
	for _, member := range all {
		if _, ok := wanted[memberMessageID(member)]; ok {
			matched = append(matched, member)
			fields = append(fields, member)
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	pipe := l.rdb.TxPipeline()
	zrem := pipe.ZRem(ctx, pendingKey(recipientUID), matched...)
	pipe.HDel(ctx, bodiesKey(recipientUID), fields...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("acknowledge: %w", err)
	}
	return int(zrem.Val()), nil
}

func (l *RedisLedger) SweepExpired(ctx context.Context, olderThanMillis int64) (int, error) {
	recipients, err := l.rdb.SMembers(ctx, recipientsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list recipients: %w", err)
	}

	horizon := strconv.FormatInt(olderThanMillis, 10)
	removed := 0
	for _, recipient := range recipients {
		expired, err := l.rdb.ZRangeByScore(ctx, pendingKey(recipient), &redis.ZRangeBy{
			Min: "-inf",
			Max: "(" + horizon,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("scan expired: %w", err)
		}

		if len(expired) > 0 {
			pipe := l.rdb.TxPipeline()
			pipe.ZRemRangeByScore(ctx, pendingKey(recipient), "-inf", "("+horizon)
			pipe.HDel(ctx, bodiesKey(recipient), expired...)
			if _, err := pipe.Exec(ctx); err != nil {
				return removed, fmt.Errorf("purge expired: %w", err)
			}
			removed += len(expired)
		}

		remaining, err := l.rdb.ZCard(ctx, pendingKey(recipient)).Result()
		if err == nil && remaining == 0 {
			l.rdb.SRem(ctx, recipientsKey, recipient)
		}
	}
	return removed, nil
}
