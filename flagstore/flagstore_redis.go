package flagstore

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

var redisFlagsPrefix string = "warden/flags/"

// Each key is stored as a redis set of flag strings. Instances pointed at the same redis share enforcement state.
type RedisFlagStore struct {
	Client *redis.Client
}

var _ FlagStore = (*RedisFlagStore)(nil)

func NewRedisFlagStore(redisURL string) (*RedisFlagStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisFlagStoreWithClient(context.TODO(), redis.NewClient(opt))
}

// NewRedisFlagStoreWithClient wraps an existing client, after checking the connection.
func NewRedisFlagStoreWithClient(ctx context.Context, rdb *redis.Client) (*RedisFlagStore, error) {
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &RedisFlagStore{Client: rdb}, nil
}

// returns flags in sorted order
func (s *RedisFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	l, err := s.Client.SMembers(ctx, redisFlagsPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}
	sort.Strings(l)
	return l, nil
}

func (s *RedisFlagStore) Add(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	return s.Client.SAdd(ctx, redisFlagsPrefix+key, members(flags)...).Err()
}

// does not error if flags not in set; redis drops the key once the set is empty
func (s *RedisFlagStore) Remove(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	return s.Client.SRem(ctx, redisFlagsPrefix+key, members(flags)...).Err()
}

func members(flags []string) []any {
	l := make([]any, 0, len(flags))
	for _, v := range flags {
		l = append(l, v)
	}
	return l
}
