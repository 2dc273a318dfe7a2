package leaderboard_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/gamecore/internal/leaderboard"
	"github.com/studydeck/gamecore/internal/models"
)

type fakeSource struct {
	board *models.Leaderboard
	calls int
}

func (s *fakeSource) GetGameLeaderboard(ctx context.Context, sessionID uuid.UUID) (*models.Leaderboard, error) {
	s.calls++
	return s.board, nil
}

func makeService(t *testing.T, source *fakeSource) *leaderboard.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return leaderboard.NewService(rdb, source, "test")
}

func TestRecordPointsAccumulates(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	s := makeService(t, &fakeSource{})

	require.NoError(t, s.RecordPoints(ctx, sessionID, alice, 300))
	require.NoError(t, s.RecordPoints(ctx, sessionID, bob, 100))
	require.NoError(t, s.RecordPoints(ctx, sessionID, alice, 200))

	board, err := s.GetGameLeaderboard(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)

	require.Equal(t, alice, board.Entries[0].UserID)
	require.Equal(t, 500, board.Entries[0].Score)
	require.Equal(t, 1, board.Entries[0].Rank)
	require.Equal(t, bob, board.Entries[1].UserID)
	require.Equal(t, 100, board.Entries[1].Score)
	require.Equal(t, 2, board.Entries[1].Rank)
}

func TestRecordNegativePoints(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	alice := uuid.New()
	s := makeService(t, &fakeSource{})

	require.NoError(t, s.RecordPoints(ctx, sessionID, alice, 300))
	require.NoError(t, s.RecordPoints(ctx, sessionID, alice, -500))

	board, err := s.GetGameLeaderboard(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, -200, board.Entries[0].Score, "wager losses can drive a score negative")
}

func TestCacheMissRebuildsFromSource(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	alice, bob := uuid.New(), uuid.New()
	source := &fakeSource{
		board: &models.Leaderboard{
			GameSessionID: sessionID,
			Entries: []models.LeaderboardEntry{
				{UserID: alice, Score: 700, Rank: 1},
				{UserID: bob, Score: 400, Rank: 2},
			},
		},
	}
	s := makeService(t, source)

	board, err := s.GetGameLeaderboard(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, source.board, board)
	require.Equal(t, 1, source.calls)

	// The rebuild warms the cache; the next read skips the source.
	board, err = s.GetGameLeaderboard(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, board.Entries, 2)
	require.Equal(t, 700, board.Entries[0].Score)
	require.Equal(t, 1, source.calls)
}

func TestInvalidateDropsCachedStandings(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	alice := uuid.New()
	source := &fakeSource{board: &models.Leaderboard{GameSessionID: sessionID}}
	s := makeService(t, source)

	require.NoError(t, s.RecordPoints(ctx, sessionID, alice, 100))
	require.NoError(t, s.Invalidate(ctx, sessionID))

	_, err := s.GetGameLeaderboard(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, 1, source.calls, "invalidation forces a source rebuild")
}
