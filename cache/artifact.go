package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrArtifactMiss is returned when the artifact store holds no entry for
// a key.
var ErrArtifactMiss = errors.New("artifact cache miss")

// IsArtifactMiss reports whether err is a miss.
func IsArtifactMiss(err error) bool { return errors.Is(err, ErrArtifactMiss) }

// ArtifactConfig configures the redis-backed artifact tier.
type ArtifactConfig struct {
	// Redis address.
	Addr string `yaml:"addr" json:"addr"`

	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// Key namespace, prepended to every key.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// Default expiry for stored artifacts.
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// Health check interval; zero disables the loop.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultArtifactConfig returns the default artifact tier configuration.
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		Addr:                "localhost:6379",
		DB:                  0,
		KeyPrefix:           "tokenforge:artifact:",
		DefaultTTL:          24 * time.Hour,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// artifactEnvelope is the JSON wire form of a stored artifact.
type artifactEnvelope struct {
	Data      []byte    `json:"data"`
	SizeBytes int       `json:"size_bytes"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ArtifactStore is the persistent tier for derived artifacts (encoded
// token images). Unlike the in-memory Store its operations may suspend
// on I/O, so every method takes a context.
type ArtifactStore struct {
	redis  *redis.Client
	config ArtifactConfig
	logger *zap.Logger
	done   chan struct{}
}

// NewArtifactStore connects to redis and starts the health-check loop.
func NewArtifactStore(config ArtifactConfig, logger *zap.Logger) (*ArtifactStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &ArtifactStore{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "artifact_store")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go s.healthCheckLoop()
	}

	s.logger.Info("artifact store initialized",
		zap.String("addr", config.Addr),
		zap.Duration("default_ttl", config.DefaultTTL),
	)
	return s, nil
}

// Get fetches the artifact bytes for key. Returns ErrArtifactMiss when
// absent.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrArtifactMiss
	}
	if err != nil {
		s.logger.Error("artifact get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("artifact get failed: %w", err)
	}

	var env artifactEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// A corrupt envelope is indistinguishable from a miss for callers;
		// drop it so the next Put repairs the entry.
		s.redis.Del(ctx, s.key(key))
		return nil, ErrArtifactMiss
	}
	return env.Data, nil
}

// Put stores artifact bytes under key. ttl zero uses the configured
// default.
func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration, tags ...string) error {
	if ttl == 0 {
		ttl = s.config.DefaultTTL
	}

	env := artifactEnvelope{
		Data:      data,
		SizeBytes: len(data),
		Tags:      tags,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(key), raw, ttl).Err(); err != nil {
		s.logger.Error("artifact put failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("artifact put failed: %w", err)
	}
	return nil
}

// Delete removes the given keys. Absent keys are ignored.
func (s *ArtifactStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = s.key(k)
	}
	if err := s.redis.Del(ctx, namespaced...).Err(); err != nil {
		s.logger.Error("artifact delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("artifact delete failed: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key under the given sub-prefix (e.g. a
// project id). Used by project-scope invalidation.
func (s *ArtifactStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := s.key(prefix) + "*"
	var deleted int

	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("artifact prefix delete failed: %w", err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("artifact scan failed: %w", err)
	}

	s.logger.Debug("artifacts deleted by prefix", zap.String("prefix", prefix), zap.Int("deleted", deleted))
	return deleted, nil
}

// Exists reports how many of the given keys are present.
func (s *ArtifactStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = s.key(k)
	}
	n, err := s.redis.Exists(ctx, namespaced...).Result()
	if err != nil {
		return 0, fmt.Errorf("artifact exists check failed: %w", err)
	}
	return n, nil
}

// Ping checks the redis connection.
func (s *ArtifactStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Close stops the health-check loop and releases the connection pool.
func (s *ArtifactStore) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.logger.Info("closing artifact store")
	return s.redis.Close()
}

func (s *ArtifactStore) key(k string) string {
	return s.config.KeyPrefix + k
}

func (s *ArtifactStore) healthCheckLoop() {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Ping(ctx); err != nil {
				s.logger.Error("artifact store health check failed", zap.Error(err))
			} else {
				s.logger.Debug("artifact store health check passed")
			}
			cancel()
		}
	}
}
