// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file provides a Redis-backed user store for
// deployments that keep sessions in a key-value store instead of SQL.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

const (
	redisUserPrefix = "promo-bot:user:"
	redisUserIndex  = "promo-bot:users"
)

// RedisUserStore keeps one JSON document per chat plus a set of known chat
// ids so Keys does not need SCAN.
type RedisUserStore struct {
	client *redis.Client
}

// NewRedisUserStore connects to Redis and verifies the connection.
func NewRedisUserStore(ctx context.Context, addr, password string, db int) (*RedisUserStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisUserStore{client: client}, nil
}

// NewRedisUserStoreFromClient wraps an existing client.
func NewRedisUserStoreFromClient(client *redis.Client) *RedisUserStore {
	return &RedisUserStore{client: client}
}

func userKey(chatID int64) string {
	return redisUserPrefix + strconv.FormatInt(chatID, 10)
}

// Exists reports whether a session exists for chatID.
func (r *RedisUserStore) Exists(ctx context.Context, chatID int64) (bool, error) {
	n, err := r.client.Exists(ctx, userKey(chatID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get loads the session document for chatID.
func (r *RedisUserStore) Get(ctx context.Context, chatID int64) (*domain.User, error) {
	raw, err := r.client.Get(ctx, userKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user %d: %w", chatID, err)
	}
	u.ChatID = chatID
	for i := range u.Notifications {
		u.Notifications[i].ChatID = chatID
	}
	return &u, nil
}

// Set writes the whole document and indexes the chat id atomically.
func (r *RedisUserStore) Set(ctx context.Context, u *domain.User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, userKey(u.ChatID), raw, 0)
		pipe.SAdd(ctx, redisUserIndex, u.ChatID)
		return nil
	})
	return err
}

// Delete removes the document and its index entry.
func (r *RedisUserStore) Delete(ctx context.Context, chatID int64) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, userKey(chatID))
		pipe.SRem(ctx, redisUserIndex, chatID)
		return nil
	})
	return err
}

// Keys lists every indexed chat id, ascending.
func (r *RedisUserStore) Keys(ctx context.Context) ([]int64, error) {
	members, err := r.client.SMembers(ctx, redisUserIndex).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Close releases the underlying connection pool.
func (r *RedisUserStore) Close() error {
	return r.client.Close()
}
