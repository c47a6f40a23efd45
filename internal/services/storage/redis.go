package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruyacapital/ruya-assistant/internal/config"
	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	// InteractionStream receives every logged turn for downstream analytics
	InteractionStream = "assistant:interactions"

	sessionTTL         = 30 * 24 * time.Hour
	maxSessionHistory  = 200
	defaultStreamLimit = 10000
)

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client       *redis.Client
	streamMaxLen int64
	logger       *logrus.Logger
}

func NewRedisStorage(cfg *config.RedisConfig, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamLimit
	}

	return &RedisStorage{
		client:       client,
		streamMaxLen: maxLen,
		logger:       logger,
	}, nil
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func interactionsKey(sessionID string) string {
	return fmt.Sprintf("interactions:%s", sessionID)
}

func (r *RedisStorage) SaveSession(ctx context.Context, rec *models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(rec.Token), data, sessionTTL).Err()
}

func (r *RedisStorage) GetSession(ctx context.Context, token string) (*models.SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec models.SessionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendInteraction pushes the turn onto the session's capped list and the
// analytics stream in one transaction
func (r *RedisStorage) AppendInteraction(ctx context.Context, in *models.Interaction) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	key := interactionsKey(in.SessionID)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, -maxSessionHistory, -1)
		pipe.Expire(ctx, key, sessionTTL)
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: InteractionStream,
			MaxLen: r.streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{
				"id":               in.ID,
				"session_id":       in.SessionID,
				"user_id":          in.UserID,
				"language":         string(in.Language),
				"confidence":       strconv.FormatFloat(in.Confidence, 'f', 3, 64),
				"response_time_ms": in.ResponseTimeMs,
				"followup":         in.RequiresHumanFollowup,
				"payload":          data,
			},
		})
		return nil
	})
	return err
}

func (r *RedisStorage) ListInteractions(ctx context.Context, sessionID string, limit int) ([]models.Interaction, error) {
	values, err := r.client.LRange(ctx, interactionsKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]models.Interaction, 0, len(values))
	for _, v := range values {
		var in models.Interaction
		if err := json.Unmarshal([]byte(v), &in); err != nil {
			r.logger.WithError(err).WithField("session_id", sessionID).Warn("Skipping malformed interaction")
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
