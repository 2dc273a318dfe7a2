package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/models"
)

// cacheTTL bounds how long an abandoned session's standings linger in Redis.
const cacheTTL = 24 * time.Hour

// Source is the authoritative standings derivation the cache rebuilds from.
type Source interface {
	GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error)
}

// Service caches per-session standings in a Redis sorted set. Scores are
// incremented as answers land; reads come straight off the ZSet and fall back
// to the Postgres derivation when the key is missing.
type Service struct {
	redis  redis.UniversalClient
	source Source
	prefix string
}

// NewService creates a leaderboard cache.
func NewService(rdb redis.UniversalClient, source Source, prefix string) *Service {
	return &Service{redis: rdb, source: source, prefix: prefix}
}

// RecordPoints applies one scored answer to the cached standings. A zero
// award still touches the member so the player appears in the board.
func (s *Service) RecordPoints(ctx context.Context, sessionID, userID uuid.UUID, points int) error {
	key := s.key(sessionID)
	if err := s.redis.ZIncrBy(ctx, key, float64(points), userID.String()).Err(); err != nil {
		return fmt.Errorf("increment score: %w", err)
	}
	if err := s.redis.Expire(ctx, key, cacheTTL).Err(); err != nil {
		return fmt.Errorf("refresh leaderboard ttl: %w", err)
	}
	return nil
}

// GetGameLeaderboard returns the session standings sorted by score descending.
// A cache miss triggers a rebuild from the authoritative source.
func (s *Service) GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return s.rebuild(ctx, sessionID)
	}

	board := &models.Leaderboard{GameSessionID: sessionID, UpdatedAt: time.Now().UTC()}
	for i, z := range res {
		userID, err := uuid.Parse(z.Member.(string))
		if err != nil {
			return nil, fmt.Errorf("parse leaderboard member: %w", err)
		}
		board.Entries = append(board.Entries, models.LeaderboardEntry{
			UserID: userID,
			Score:  int(z.Score),
			Rank:   i + 1,
		})
	}
	return board, nil
}

// rebuild repopulates the ZSet from the authoritative derivation.
func (s *Service) rebuild(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error) {
	board, err := s.source.GetGameLeaderboard(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("rebuild leaderboard: %w", err)
	}

	if len(board.Entries) > 0 {
		members := make([]redis.Z, 0, len(board.Entries))
		for _, e := range board.Entries {
			members = append(members, redis.Z{Score: float64(e.Score), Member: e.UserID.String()})
		}
		key := s.key(sessionID)
		pipe := s.redis.TxPipeline()
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, cacheTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			// The board itself is good; a failed warm just means another miss.
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to warm leaderboard cache")
		}
	}
	return board, nil
}

// Invalidate drops a session's cached standings.
func (s *Service) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	return s.redis.Del(ctx, s.key(sessionID)).Err()
}

func (s *Service) key(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, sessionID)
}
