package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisService keeps session snapshots and mirrors each session's stream
// events into a capped Redis stream. Snapshots and events may live on
// separate servers.
type RedisService struct {
	streams *redis.Client
	memory  *redis.Client
	logger  *logger.Logger
	config  config.RedisConfig
}

func NewRedisService(cfg config.RedisConfig, log *logger.Logger) (*RedisService, error) {
	if log == nil {
		log = logger.Discard()
	}

	memoryOpt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, models.NewValidationError("INVALID_REDIS_URL", "Invalid Redis URL").WithCause(err)
	}

	streamsURL := cfg.StreamsURL
	if streamsURL == "" {
		streamsURL = cfg.URL
	}
	streamsOpt, err := redis.ParseURL(streamsURL)
	if err != nil {
		return nil, models.NewValidationError("INVALID_REDIS_URL", "Invalid Redis Streams URL").WithCause(err)
	}

	configureRedisOptions(memoryOpt, cfg)
	configureRedisOptions(streamsOpt, cfg)

	service := NewRedisServiceWithClients(redis.NewClient(streamsOpt), redis.NewClient(memoryOpt), cfg, log)
	if err := service.testConnection(); err != nil {
		_ = service.Close()
		return nil, err
	}

	log.Info("Redis Service Initialized Successfully",
		"streams_url", streamsURL,
		"pool_size", cfg.PoolSize,
		"stream_max_len", cfg.StreamMaxLen)

	return service, nil
}

// NewRedisServiceWithClients wraps existing clients. streams may be the same
// client as memory.
func NewRedisServiceWithClients(streams, memory *redis.Client, cfg config.RedisConfig, log *logger.Logger) *RedisService {
	if log == nil {
		log = logger.Discard()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 6 * time.Hour
	}
	return &RedisService{
		streams: streams,
		memory:  memory,
		logger:  log,
		config:  cfg,
	}
}

// Client returns the key/value client, shared with the Redis cache store.
func (service *RedisService) Client() *redis.Client {
	return service.memory
}

func configureRedisOptions(opt *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.ReadTimeout > 0 {
		opt.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opt.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
}

func (service *RedisService) testConnection() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := service.HealthCheck(ctx); err != nil {
		return err
	}

	service.logger.Info("Redis Service Connection Tested Successfully")
	return nil
}

func sessionStateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

func sessionStreamKey(sessionID string) string {
	return fmt.Sprintf("session:%s:events", sessionID)
}

func (service *RedisService) StoreSessionState(ctx context.Context, snapshot models.SessionSnapshot) error {
	start := time.Now()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return models.NewInternalError("SESSION_MARSHAL_FAILED", "Failed to serialize session snapshot").WithCause(err)
	}

	err = service.memory.Set(ctx, sessionStateKey(snapshot.SessionID), data, service.config.SessionTTL).Err()
	service.logger.LogService("redis", "store_session_state", time.Since(start), map[string]interface{}{
		"session_id": snapshot.SessionID,
		"stage":      snapshot.Stage,
	}, err)
	if err != nil {
		return models.NewExternalError("REDIS_STORE_FAILED", "Failed to store session state").
			WithCause(err).
			WithMetadata("session_id", snapshot.SessionID)
	}
	return nil
}

func (service *RedisService) GetSessionState(ctx context.Context, sessionID string) (*models.SessionSnapshot, error) {
	data, err := service.memory.Get(ctx, sessionStateKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrSessionNotFound.WithMetadata("session_id", sessionID)
	}
	if err != nil {
		return nil, models.NewExternalError("REDIS_GET_FAILED", "Failed to load session state").
			WithCause(err).
			WithMetadata("session_id", sessionID)
	}

	var snapshot models.SessionSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, models.NewInternalError("SESSION_UNMARSHAL_FAILED", "Stored session state is corrupt").
			WithCause(err).
			WithMetadata("session_id", sessionID)
	}
	return &snapshot, nil
}

// DeleteSessionState removes the snapshot and the event stream.
func (service *RedisService) DeleteSessionState(ctx context.Context, sessionID string) error {
	if err := service.memory.Del(ctx, sessionStateKey(sessionID)).Err(); err != nil {
		return models.NewExternalError("REDIS_DELETE_FAILED", "Failed to delete session state").
			WithCause(err).
			WithMetadata("session_id", sessionID)
	}
	if err := service.streams.Del(ctx, sessionStreamKey(sessionID)).Err(); err != nil {
		return models.NewExternalError("REDIS_DELETE_FAILED", "Failed to delete session events").
			WithCause(err).
			WithMetadata("session_id", sessionID)
	}
	service.logger.Debug("Session state deleted", "session_id", sessionID)
	return nil
}

// PublishEvent appends the event to session:{id}:events, trimming the stream
// to the configured length.
func (service *RedisService) PublishEvent(ctx context.Context, sessionID string, event models.StreamEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return models.NewInternalError("EVENT_MARSHAL_FAILED", "Failed to serialize event data").WithCause(err)
	}

	args := &redis.XAddArgs{
		Stream: sessionStreamKey(sessionID),
		Values: map[string]interface{}{
			"type":       string(event.Type),
			"message_id": event.MessageID,
			"timestamp":  fmt.Sprintf("%.6f", event.Timestamp),
			"data":       string(data),
		},
	}
	if service.config.StreamMaxLen > 0 {
		args.MaxLen = service.config.StreamMaxLen
		args.Approx = true
	}

	if err := service.streams.XAdd(ctx, args).Err(); err != nil {
		return models.NewExternalError("REDIS_PUBLISH_FAILED", "Failed to publish session event").
			WithCause(err).
			WithMetadata("session_id", sessionID).
			WithMetadata("event_type", string(event.Type))
	}
	return nil
}

// ReadEvents returns the mirrored events of a session in publish order.
func (service *RedisService) ReadEvents(ctx context.Context, sessionID string) ([]models.StreamEvent, error) {
	entries, err := service.streams.XRange(ctx, sessionStreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, models.NewExternalError("REDIS_READ_FAILED", "Failed to read session events").
			WithCause(err).
			WithMetadata("session_id", sessionID)
	}

	events := make([]models.StreamEvent, 0, len(entries))
	for _, entry := range entries {
		event := models.StreamEvent{Data: models.Payload{}}
		if value, ok := entry.Values["type"].(string); ok {
			event.Type = models.EventType(value)
		}
		if value, ok := entry.Values["message_id"].(string); ok {
			event.MessageID = value
		}
		if value, ok := entry.Values["timestamp"].(string); ok {
			event.Timestamp, _ = strconv.ParseFloat(value, 64)
		}
		if value, ok := entry.Values["data"].(string); ok && value != "" {
			if err := json.Unmarshal([]byte(value), &event.Data); err != nil {
				service.logger.WithError(err).Warn("Skipping corrupt event data")
			}
		}
		events = append(events, event)
	}
	return events, nil
}

func (service *RedisService) HealthCheck(ctx context.Context) error {
	if err := service.memory.Ping(ctx).Err(); err != nil {
		return models.NewExternalError("REDIS_UNAVAILABLE", "Redis memory connection failed").WithCause(err)
	}
	if service.streams != service.memory {
		if err := service.streams.Ping(ctx).Err(); err != nil {
			return models.NewExternalError("REDIS_UNAVAILABLE", "Redis streams connection failed").WithCause(err)
		}
	}
	return nil
}

func (service *RedisService) Close() error {
	service.logger.Info("Closing Redis Service")

	var errs []error
	if err := service.memory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close memory failed: %w", err))
	}
	if service.streams != service.memory {
		if err := service.streams.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close streams failed: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	service.logger.Info("Redis Service Closed Successfully")
	return nil
}
