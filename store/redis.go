package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-runcore/model"
)

const defaultKeyPrefix = "runcore:"

// RedisStore keeps entities as JSON values under prefixed keys.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

var _ model.Store = (*RedisStore)(nil)

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return NewRedis(client, defaultKeyPrefix), nil
}

func NewRedis(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) runKey(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisStore) functionKey(project, name, version string) string {
	return s.prefix + "function:" + functionKey(project, name, version)
}

func (s *RedisStore) taskKey(function, kind string) string {
	return s.prefix + "task:" + taskKey(function, kind)
}

func (s *RedisStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	run := &model.Run{}
	if err := s.get(ctx, s.runKey(id), "run", id, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *RedisStore) Save(ctx context.Context, run *model.Run) (*model.Run, error) {
	stored := prepareRun(run, s.now())
	if existing, err := s.GetRun(ctx, stored.ID); err == nil {
		stored.CreatedAt = existing.CreatedAt
	}
	if err := s.set(ctx, s.runKey(stored.ID), stored); err != nil {
		return nil, fmt.Errorf("save run %s: %w", stored.ID, err)
	}
	return stored.Clone(), nil
}

func (s *RedisStore) UpdateRun(ctx context.Context, run *model.Run, id string) (*model.Run, error) {
	existing, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	stored := run.Clone()
	stored.ID = id
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = s.now().UTC()
	if err := s.set(ctx, s.runKey(id), stored); err != nil {
		return nil, fmt.Errorf("update run %s: %w", id, err)
	}
	return stored.Clone(), nil
}

func (s *RedisStore) GetFunction(ctx context.Context, project, name, version string) (*model.Function, error) {
	fn := &model.Function{}
	if err := s.get(ctx, s.functionKey(project, name, version), "function", functionKey(project, name, version), fn); err != nil {
		return nil, err
	}
	return fn, nil
}

func (s *RedisStore) SaveFunction(ctx context.Context, fn *model.Function) (*model.Function, error) {
	cp := *fn
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if err := s.set(ctx, s.functionKey(cp.Project, cp.Name, cp.Version), &cp); err != nil {
		return nil, fmt.Errorf("save function %s: %w", cp.Name, err)
	}
	return &cp, nil
}

func (s *RedisStore) FindTask(ctx context.Context, function, kind string) (*model.Task, error) {
	task := &model.Task{}
	if err := s.get(ctx, s.taskKey(function, kind), "task", taskKey(function, kind), task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *RedisStore) SaveTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	cp := *task
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if err := s.set(ctx, s.taskKey(cp.Function, cp.Kind), &cp); err != nil {
		return nil, fmt.Errorf("save task %s: %w", cp.Function, err)
	}
	return &cp, nil
}

func (s *RedisStore) get(ctx context.Context, key, entity, id string, target any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NotFound(entity, id)
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", entity, id, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s %s: %w", entity, id, err)
	}
	return nil
}

func (s *RedisStore) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}
