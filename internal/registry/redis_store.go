package registry

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisRegistryKey = "lab:registry:nodes"

// RedisStore keeps the snapshot in a Redis hash, one field per node.
// Useful when several controller replicas need the same fleet view.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a Redis-backed store from a connection URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) Save(ctx context.Context, nodes map[string]*Node) error {
	fields := make(map[string]interface{}, len(nodes))
	for id, node := range nodes {
		data, err := json.Marshal(node)
		if err != nil {
			return errors.Wrapf(err, "marshal node %s", id)
		}
		fields[id] = data
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisRegistryKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, redisRegistryKey, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "save registry snapshot")
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (map[string]*Node, error) {
	fields, err := s.client.HGetAll(ctx, redisRegistryKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "load registry snapshot")
	}

	nodes := make(map[string]*Node, len(fields))
	for id, raw := range fields {
		var node Node
		if err := json.Unmarshal([]byte(raw), &node); err != nil {
			return nil, errors.Wrapf(err, "unmarshal node %s", id)
		}
		nodes[id] = &node
	}
	return nodes, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
